package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(max int, clock *fakeClock) *Store {
	cfg := StoreConfig{MaxEntries: max, Decay: DecayConfig{BaseDecayDays: 30}}
	return NewStore(cfg, zap.NewNop(), WithClock(clock.Now))
}

const day = 24 * time.Hour

func TestIsDecayedBoundary(t *testing.T) {
	p := NewDecayPolicy(DecayConfig{BaseDecayDays: 30})
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for _, w := range []float64{0, 0.25, 0.5, 1} {
		lifetime := time.Duration(30 * (0.5 + w) * float64(day))
		e := Entry{CreatedAt: now.Add(-lifetime), EmotionWeight: w}
		if p.IsDecayed(e, now) {
			t.Errorf("weight %.2f: entry at exactly its lifetime should not be decayed", w)
		}
		e.CreatedAt = e.CreatedAt.Add(-time.Minute)
		if !p.IsDecayed(e, now) {
			t.Errorf("weight %.2f: entry past its lifetime should be decayed", w)
		}
	}
}

func TestDecayPolicyDefaults(t *testing.T) {
	p := NewDecayPolicy(DecayConfig{})
	if p.BaseDecayDays() != 30 {
		t.Fatalf("got base %v, want 30", p.BaseDecayDays())
	}
	if got := p.LifetimeDays(Entry{EmotionWeight: 1}); got != 45 {
		t.Errorf("got lifetime %v, want 45", got)
	}
}

func TestWriteClampsWeights(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(10, clock)
	s.Write("k", "v", 1.7, -0.3)

	recs := s.Audit(0)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].EmotionWeight != 1 || recs[0].VirtueScore != 0 {
		t.Errorf("weights not clamped: %+v", recs[0])
	}
}

func TestWriteReturnsHashedKey(t *testing.T) {
	s := newTestStore(10, newFakeClock())
	hashed := s.Write("alpha", 1, 0.5, 0.5)
	if hashed != HashKey("alpha") {
		t.Fatalf("got %s, want %s", hashed, HashKey("alpha"))
	}
	if len(hashed) != 64 {
		t.Errorf("got hash length %d, want 64", len(hashed))
	}
	if HashKey("alpha") == HashKey("beta") {
		t.Error("distinct keys should not share a hash")
	}
}

func TestReadMissing(t *testing.T) {
	s := newTestStore(10, newFakeClock())
	if _, ok := s.Read("nope"); ok {
		t.Fatal("expected not found")
	}
}

func TestReadDecayedDeletes(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(10, clock)
	s.Write("old", "value", 0, 0.9) // lifetime 15 days
	s.Write("fresh", "value", 1, 0.9)

	clock.Advance(16 * day)
	if _, ok := s.Read("old"); ok {
		t.Fatal("decayed entry should not be found")
	}
	if s.Len() != 1 {
		t.Fatalf("got %d entries, want 1 after decayed read", s.Len())
	}
	v, ok := s.Read("fresh")
	if !ok || v != "value" {
		t.Fatalf("fresh entry lost: %v %v", v, ok)
	}
}

func TestRewriteReplacesEntry(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(2, clock)
	s.Write("a", 1, 0.5, 0.5)
	clock.Advance(time.Second)
	s.Write("b", 2, 0.5, 0.5)
	clock.Advance(time.Second)
	s.Write("a", 3, 0.5, 0.5)

	if s.Len() != 2 {
		t.Fatalf("got %d entries, want 2", s.Len())
	}
	if v, _ := s.Read("a"); v != 3 {
		t.Errorf("got %v, want 3", v)
	}
	if _, ok := s.Read("b"); !ok {
		t.Error("re-write of an existing key must not evict")
	}
}

func TestEvictsOldestAtCapacity(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(3, clock)
	for i := range 3 {
		s.Write(fmt.Sprintf("k%d", i), i, 0.5, 0.5)
		clock.Advance(time.Minute)
	}

	s.Write("k3", 3, 0.5, 0.5)
	if s.Len() != 3 {
		t.Fatalf("got %d entries, want 3", s.Len())
	}
	if _, ok := s.Read("k0"); ok {
		t.Error("oldest entry should have been evicted")
	}
	for _, k := range []string{"k1", "k2", "k3"} {
		if _, ok := s.Read(k); !ok {
			t.Errorf("%s should survive eviction", k)
		}
	}
}

func TestComputeHealth(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(10, clock)

	if h := s.ComputeHealth(); h != (Health{}) {
		t.Fatalf("empty store health = %+v, want zero", h)
	}

	s.Write("a", 1, 0, 0.2) // lifetime 15 days
	s.Write("b", 2, 1, 0.6)
	s.Write("c", 3, 1, 0.8)
	clock.Advance(20 * day)

	h := s.ComputeHealth()
	if h.TotalEntries != 3 || h.DecayedEntries != 1 {
		t.Fatalf("got total=%d decayed=%d, want 3/1", h.TotalEntries, h.DecayedEntries)
	}
	if diff := h.Volatility - 1.0/3; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("got volatility %v, want 1/3", h.Volatility)
	}
	if diff := h.AverageVirtue - 0.7; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("got average virtue %v, want 0.7", h.AverageVirtue)
	}
	if h.Density != 0.3 {
		t.Errorf("got density %v, want 0.3", h.Density)
	}
	if s.Len() != 3 {
		t.Error("health computation must not remove entries")
	}
}

func TestAuditOrdersOldestFirst(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(10, clock)
	s.Write("first", 1, 0, 0.5)
	clock.Advance(day)
	s.Write("second", 2, 0.5, 0.5)
	clock.Advance(day)
	s.Write("third", 3, 1, 0.5)
	clock.Advance(14 * day)

	recs := s.Audit(2)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Key != "first" || recs[1].Key != "second" {
		t.Fatalf("unexpected order: %s, %s", recs[0].Key, recs[1].Key)
	}
	if !recs[0].Decayed {
		t.Error("first entry should be reported decayed")
	}
	if recs[0].AgeDays != 16 {
		t.Errorf("got age %v, want 16", recs[0].AgeDays)
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(10, newFakeClock())
	s.Write("a", 1, 0.5, 0.5)
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("got %d entries after clear, want 0", s.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(50, clock)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := fmt.Sprintf("g%d-%d", g, i%60)
				s.Write(key, i, 0.5, 0.5)
				s.Read(key)
				if i%25 == 0 {
					s.ComputeHealth()
					clock.Advance(time.Hour)
				}
			}
		}()
	}
	wg.Wait()

	if s.Len() > 50 {
		t.Fatalf("store exceeded capacity: %d", s.Len())
	}
}
