package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SnapshotConfig bounds snapshot capture and retention.
type SnapshotConfig struct {
	MinEntriesForSnapshot int
	MaxSnapshots          int
}

// DefaultSnapshotConfig returns sensible defaults.
func DefaultSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{MinEntriesForSnapshot: 5, MaxSnapshots: 10}
}

// Snapshot is a point-in-time copy of the store plus its health at capture.
type Snapshot struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	StateHash     string    `json:"state_hash"`
	EntryCount    int       `json:"entry_count"`
	AverageVirtue float64   `json:"average_virtue"`
	Volatility    float64   `json:"volatility"`

	entries map[string]Entry
}

// Entries returns a copy of the captured store contents.
func (s *Snapshot) Entries() map[string]Entry {
	return maps.Clone(s.entries)
}

// Summary returns the snapshot without its captured state.
func (s *Snapshot) Summary() Snapshot {
	return Snapshot{
		ID:            s.ID,
		CreatedAt:     s.CreatedAt,
		StateHash:     s.StateHash,
		EntryCount:    s.EntryCount,
		AverageVirtue: s.AverageVirtue,
		Volatility:    s.Volatility,
	}
}

// SnapshotManager captures store states and rolls the store back to the
// best one on demand.
//
// Lock domain: mu guards the snapshot list. The store lock is only ever
// taken while mu is released.
type SnapshotManager struct {
	mu        sync.RWMutex
	snapshots []*Snapshot
	store     *Store
	cfg       SnapshotConfig
	logger    *zap.Logger
}

// NewSnapshotManager creates a manager for store.
func NewSnapshotManager(store *Store, cfg SnapshotConfig, logger *zap.Logger) *SnapshotManager {
	def := DefaultSnapshotConfig()
	if cfg.MinEntriesForSnapshot <= 0 {
		cfg.MinEntriesForSnapshot = def.MinEntriesForSnapshot
	}
	if cfg.MaxSnapshots <= 0 {
		cfg.MaxSnapshots = def.MaxSnapshots
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotManager{store: store, cfg: cfg, logger: logger}
}

// Create captures the current store state tagged with health. It returns
// false when the store holds fewer than MinEntriesForSnapshot entries.
func (m *SnapshotManager) Create(health Health) (*Snapshot, bool) {
	state := m.store.copyEntries()
	if len(state) < m.cfg.MinEntriesForSnapshot {
		m.logger.Debug("snapshot skipped",
			zap.Int("entries", len(state)),
			zap.Int("min_entries", m.cfg.MinEntriesForSnapshot))
		return nil, false
	}

	snap := &Snapshot{
		ID:            uuid.New().String(),
		CreatedAt:     m.store.Now(),
		StateHash:     StateHash(state),
		EntryCount:    len(state),
		AverageVirtue: health.AverageVirtue,
		Volatility:    health.Volatility,
		entries:       state,
	}

	m.mu.Lock()
	m.snapshots = append(m.snapshots, snap)
	if over := len(m.snapshots) - m.cfg.MaxSnapshots; over > 0 {
		clear(m.snapshots[:over])
		m.snapshots = m.snapshots[over:]
	}
	m.mu.Unlock()

	m.logger.Info("snapshot created",
		zap.String("id", snap.ID),
		zap.Int("entries", snap.EntryCount),
		zap.Float64("volatility", snap.Volatility))
	return snap, true
}

// Regenerate replaces the whole store with the best retained snapshot:
// lowest volatility, then highest average virtue, then oldest. It returns
// false when no snapshot is retained.
func (m *SnapshotManager) Regenerate() (*Snapshot, bool) {
	m.mu.RLock()
	var best *Snapshot
	for _, s := range m.snapshots {
		if best == nil || better(s, best) {
			best = s
		}
	}
	m.mu.RUnlock()

	if best == nil {
		m.logger.Warn("regeneration requested with no snapshots")
		return nil, false
	}

	m.store.replaceAll(best.entries)
	m.logger.Warn("memory regenerated to snapshot",
		zap.String("id", best.ID),
		zap.Int("entries", best.EntryCount),
		zap.Float64("volatility", best.Volatility))
	return best, true
}

// better reports whether a should be preferred over b. The list is scanned
// oldest first, so strict comparisons keep the older snapshot on a full tie.
func better(a, b *Snapshot) bool {
	if a.Volatility != b.Volatility {
		return a.Volatility < b.Volatility
	}
	return a.AverageVirtue > b.AverageVirtue
}

// List returns summaries of retained snapshots, oldest first.
func (m *SnapshotManager) List() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s.Summary())
	}
	return out
}

// Len returns the number of retained snapshots.
func (m *SnapshotManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}

// StateHash is a SHA-256 digest over entries ordered by hashed key. Each
// entry contributes its hashed key, creation time and weights, so the digest
// does not depend on the stored values or on map iteration order.
func StateHash(entries map[string]Entry) string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		e := entries[k]
		line := k + "|" +
			e.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" +
			strconv.FormatFloat(e.EmotionWeight, 'g', -1, 64) + "|" +
			strconv.FormatFloat(e.VirtueScore, 'g', -1, 64) + "\n"
		h.Write([]byte(line))
	}
	return hex.EncodeToString(h.Sum(nil))
}
