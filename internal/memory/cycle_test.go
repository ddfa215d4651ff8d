package memory

import (
	"testing"

	"go.uber.org/zap"
)

func newTestCycle(s *Store, maxSnapshots int) (*Cycle, *SnapshotManager) {
	m := NewSnapshotManager(s, SnapshotConfig{MinEntriesForSnapshot: 5, MaxSnapshots: maxSnapshots}, zap.NewNop())
	return NewCycle(m, DefaultCycleConfig(), zap.NewNop()), m
}

func TestCycleStableKeepsSnapshotting(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(100, clock)
	c, m := newTestCycle(s, 3)
	fillStore(s, clock, "k", 6)

	stable := Health{Volatility: 0.1, AverageVirtue: 0.8, Density: 0.06}
	for i := range 10 {
		res := c.Run(stable, 0.5)
		if res.Action != ActionSnapshotCreated {
			t.Fatalf("run %d: got %s, want %s", i, res.Action, ActionSnapshotCreated)
		}
		if res.SnapshotHash == "" {
			t.Fatalf("run %d: missing snapshot hash", i)
		}
	}
	if m.Len() != 3 {
		t.Errorf("got %d snapshots, want 3", m.Len())
	}
}

func TestCycleSnapshotSkipped(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(100, clock)
	c, _ := newTestCycle(s, 3)
	fillStore(s, clock, "k", 2)

	res := c.Run(Health{Volatility: 0, AverageVirtue: 0.9}, 0.5)
	if res.Action != ActionSnapshotSkipped {
		t.Fatalf("got %s, want %s", res.Action, ActionSnapshotSkipped)
	}
}

func TestCycleVirtueGate(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(100, clock)
	c, m := newTestCycle(s, 3)
	fillStore(s, clock, "k", 6)

	res := c.Run(Health{Volatility: 0.1, AverageVirtue: 0.4}, 0.5)
	if res.Action != ActionNone {
		t.Fatalf("got %s, want %s", res.Action, ActionNone)
	}
	if m.Len() != 0 {
		t.Error("no snapshot expected below the virtue gate")
	}
}

func TestCycleMiddleBandHolds(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(100, clock)
	c, _ := newTestCycle(s, 3)
	fillStore(s, clock, "k", 6)

	for _, v := range []float64{0.21, 0.4, 0.59} {
		if res := c.Run(Health{Volatility: v, AverageVirtue: 0.9}, 0.5); res.Action != ActionNone {
			t.Errorf("volatility %v: got %s, want %s", v, res.Action, ActionNone)
		}
	}
}

func TestCycleRegenerates(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(100, clock)
	c, _ := newTestCycle(s, 3)

	res := c.Run(Health{Volatility: 0.6}, 0.5)
	if res.Action != ActionRegenerationFailed {
		t.Fatalf("got %s, want %s", res.Action, ActionRegenerationFailed)
	}

	fillStore(s, clock, "k", 6)
	created := c.Run(Health{Volatility: 0.05, AverageVirtue: 0.9}, 0.5)
	if created.Action != ActionSnapshotCreated {
		t.Fatalf("got %s, want %s", created.Action, ActionSnapshotCreated)
	}
	fillStore(s, clock, "late", 4)

	res = c.Run(Health{Volatility: 0.75, AverageVirtue: 0.3}, 0.5)
	if res.Action != ActionRegenerated {
		t.Fatalf("got %s, want %s", res.Action, ActionRegenerated)
	}
	if res.SnapshotID != created.SnapshotID {
		t.Errorf("got snapshot %s, want %s", res.SnapshotID, created.SnapshotID)
	}
	if s.Len() != 6 {
		t.Errorf("got %d entries after regeneration, want 6", s.Len())
	}
}

func TestCycleRoundsHealth(t *testing.T) {
	s := newTestStore(100, newFakeClock())
	c, _ := newTestCycle(s, 3)
	res := c.Run(Health{Volatility: 0.333333, AverageVirtue: 0.123456, Density: 0.000049}, 0.5)
	if res.Volatility != 0.3333 || res.AverageVirtue != 0.1235 || res.Density != 0 {
		t.Errorf("unexpected rounding: %+v", res)
	}
}

func TestMonitorStatus(t *testing.T) {
	tests := []struct {
		volatility float64
		want       string
	}{
		{0, StatusHealthy},
		{0.3, StatusHealthy},
		{0.31, StatusCaution},
		{0.6, StatusCaution},
		{0.61, StatusDegraded},
	}
	for _, tt := range tests {
		if got := Status(Health{Volatility: tt.volatility}); got != tt.want {
			t.Errorf("volatility %v: got %s, want %s", tt.volatility, got, tt.want)
		}
	}

	clock := newFakeClock()
	s := newTestStore(10, clock)
	s.Write("a", 1, 0.5, 0.5)
	r := NewMonitor(s).Check()
	if r.Status != StatusHealthy || r.TotalEntries != 1 {
		t.Errorf("unexpected report: %+v", r)
	}
	if !r.CheckedAt.Equal(clock.Now()) {
		t.Errorf("got checked_at %v, want %v", r.CheckedAt, clock.Now())
	}
}
