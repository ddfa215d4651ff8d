package memory

import (
	"math"

	"go.uber.org/zap"
)

// Cycle actions.
const (
	ActionRegenerated        = "regenerated"
	ActionRegenerationFailed = "regeneration_failed"
	ActionSnapshotCreated    = "snapshot_created"
	ActionSnapshotSkipped    = "snapshot_skipped"
	ActionNone               = "none"
)

// CycleConfig holds the hysteresis band of the regenerative cycle.
type CycleConfig struct {
	VolatilityThreshold float64 // at or above: roll back
	StabilityThreshold  float64 // at or below, with enough virtue: snapshot
}

// DefaultCycleConfig returns sensible defaults.
func DefaultCycleConfig() CycleConfig {
	return CycleConfig{VolatilityThreshold: 0.6, StabilityThreshold: 0.2}
}

// CycleResult reports what one cycle did.
type CycleResult struct {
	Action        string  `json:"action"`
	Volatility    float64 `json:"volatility"`
	AverageVirtue float64 `json:"average_virtue"`
	Density       float64 `json:"density"`
	SnapshotID    string  `json:"snapshot_id,omitempty"`
	SnapshotHash  string  `json:"snapshot_hash,omitempty"`
}

// Cycle decides between snapshot, rollback and holding still.
type Cycle struct {
	snapshots *SnapshotManager
	cfg       CycleConfig
	logger    *zap.Logger
}

// NewCycle creates a regenerative cycle driving snapshots.
func NewCycle(snapshots *SnapshotManager, cfg CycleConfig, logger *zap.Logger) *Cycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cycle{snapshots: snapshots, cfg: cfg, logger: logger}
}

// Run applies one step of the cycle for health. Between the two thresholds
// nothing happens, which keeps the store from flapping between snapshot
// and rollback.
func (c *Cycle) Run(health Health, virtueGate float64) CycleResult {
	res := CycleResult{
		Action:        ActionNone,
		Volatility:    round4(health.Volatility),
		AverageVirtue: round4(health.AverageVirtue),
		Density:       round4(health.Density),
	}

	switch {
	case health.Volatility >= c.cfg.VolatilityThreshold:
		snap, ok := c.snapshots.Regenerate()
		if !ok {
			res.Action = ActionRegenerationFailed
			break
		}
		res.Action = ActionRegenerated
		res.SnapshotID = snap.ID
		res.SnapshotHash = snap.StateHash

	case health.Volatility <= c.cfg.StabilityThreshold && health.AverageVirtue >= virtueGate:
		snap, ok := c.snapshots.Create(health)
		if !ok {
			res.Action = ActionSnapshotSkipped
			break
		}
		res.Action = ActionSnapshotCreated
		res.SnapshotID = snap.ID
		res.SnapshotHash = snap.StateHash
	}

	c.logger.Debug("regenerative cycle",
		zap.String("action", res.Action),
		zap.Float64("volatility", res.Volatility),
		zap.Float64("virtue_gate", virtueGate))
	return res
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
