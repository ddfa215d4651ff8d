package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StoreConfig bounds the store and configures decay.
type StoreConfig struct {
	MaxEntries int
	Decay      DecayConfig
}

// DefaultStoreConfig returns sensible defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		MaxEntries: 10000,
		Decay:      DefaultDecayConfig(),
	}
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces the wall clock used for timestamps and decay checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the regenerative entry store: a bounded, concurrent map of
// decaying entries indexed by the SHA-256 of their key.
//
// Lock domain: mu guards entries only. No method acquires another
// component's lock while holding mu.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	maxEntries int
	policy     DecayPolicy
	now        func() time.Time
	logger     *zap.Logger
}

// NewStore creates an empty store.
func NewStore(cfg StoreConfig, logger *zap.Logger, opts ...Option) *Store {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultStoreConfig().MaxEntries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		entries:    make(map[string]Entry),
		maxEntries: cfg.MaxEntries,
		policy:     NewDecayPolicy(cfg.Decay),
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HashKey returns the index key for key. SHA-256 keeps distinct keys from
// aliasing each other.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// MaxEntries returns the capacity of the store.
func (s *Store) MaxEntries() int { return s.maxEntries }

// Policy returns the decay policy applied by the store.
func (s *Store) Policy() DecayPolicy { return s.policy }

// Now returns the store's current time.
func (s *Store) Now() time.Time { return s.now() }

// Write stores value under key, replacing any previous entry for the key.
// Weights are clamped to [0, 1]. When a new key arrives at capacity the
// earliest-created entry is evicted first. Returns the hashed key.
func (s *Store) Write(key string, value any, emotionWeight, virtueScore float64) string {
	hashed := HashKey(key)
	entry := Entry{
		Key:           key,
		Value:         value,
		CreatedAt:     s.now(),
		EmotionWeight: clamp01(emotionWeight),
		VirtueScore:   clamp01(virtueScore),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[hashed]; !exists && len(s.entries) >= s.maxEntries {
		s.evictOldestLocked()
	}
	s.entries[hashed] = entry

	s.logger.Debug("stored entry",
		zap.String("key", key),
		zap.String("value_type", fmt.Sprintf("%T", value)))
	return hashed
}

// evictOldestLocked removes the entry with the earliest CreatedAt.
// Ties go to the lexically smallest hashed key. Caller holds mu.
func (s *Store) evictOldestLocked() {
	var (
		oldestKey string
		oldest    Entry
		found     bool
	)
	for k, e := range s.entries {
		if !found || e.CreatedAt.Before(oldest.CreatedAt) ||
			(e.CreatedAt.Equal(oldest.CreatedAt) && k < oldestKey) {
			oldestKey, oldest, found = k, e, true
		}
	}
	if !found {
		return
	}
	delete(s.entries, oldestKey)
	s.logger.Info("evicted oldest entry", zap.String("key", oldest.Key))
}

// Read returns the value stored under key. Missing and decayed entries
// report false; a decayed entry is deleted as a side effect.
func (s *Store) Read(key string) (any, bool) {
	hashed := HashKey(key)
	now := s.now()

	s.mu.RLock()
	e, ok := s.entries[hashed]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !s.policy.IsDecayed(e, now) {
		return e.Value, true
	}

	// The read lock cannot be upgraded, so the entry is re-checked under the
	// write lock: a concurrent writer may have replaced it in between.
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[hashed]
	if !ok {
		return nil, false
	}
	if !s.policy.IsDecayed(cur, now) {
		return cur.Value, true
	}
	delete(s.entries, hashed)
	s.logger.Info("entry decayed, removed", zap.String("key", key))
	return nil, false
}

// Len returns the number of stored entries, decayed or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	s.logger.Info("store cleared")
}

// ComputeHealth computes volatility, live virtue average and density in a
// single pass. It never removes entries.
func (s *Store) ComputeHealth() Health {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.entries)
	if total == 0 {
		return Health{}
	}

	var decayed, live int
	var virtueSum float64
	for _, e := range s.entries {
		if s.policy.IsDecayed(e, now) {
			decayed++
			continue
		}
		live++
		virtueSum += e.VirtueScore
	}

	h := Health{
		Volatility:     float64(decayed) / float64(total),
		Density:        float64(total) / float64(s.maxEntries),
		TotalEntries:   total,
		DecayedEntries: decayed,
	}
	if live > 0 {
		h.AverageVirtue = virtueSum / float64(live)
	}
	return h
}

// Audit lists up to limit entries, oldest first. A non-positive limit
// lists everything.
func (s *Store) Audit(limit int) []AuditRecord {
	now := s.now()

	s.mu.RLock()
	records := make([]AuditRecord, 0, len(s.entries))
	for k, e := range s.entries {
		records = append(records, AuditRecord{
			HashedKey:     k,
			Key:           e.Key,
			CreatedAt:     e.CreatedAt,
			AgeDays:       AgeDays(e, now),
			EmotionWeight: e.EmotionWeight,
			VirtueScore:   e.VirtueScore,
			Decayed:       s.policy.IsDecayed(e, now),
		})
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].HashedKey < records[j].HashedKey
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

// copyEntries returns a point-in-time copy of the store contents.
func (s *Store) copyEntries() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.entries)
}

// replaceAll swaps the store contents for a copy of state.
func (s *Store) replaceAll(state map[string]Entry) {
	next := maps.Clone(state)
	if next == nil {
		next = make(map[string]Entry)
	}
	s.mu.Lock()
	s.entries = next
	s.mu.Unlock()
}
