package memory

import (
	"math"
	"time"
)

// DecayConfig controls entry lifetime.
type DecayConfig struct {
	BaseDecayDays float64 // lifetime of an entry with emotion weight 0.5 (default 30)
}

// DefaultDecayConfig returns sensible defaults.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{BaseDecayDays: 30}
}

// DecayPolicy decides when an entry has outlived its lifetime.
// It holds no state beyond its configuration and is safe for concurrent use.
type DecayPolicy struct {
	baseDecayDays float64
}

// NewDecayPolicy returns a policy for cfg. A non-positive BaseDecayDays
// falls back to the default.
func NewDecayPolicy(cfg DecayConfig) DecayPolicy {
	if cfg.BaseDecayDays <= 0 {
		cfg = DefaultDecayConfig()
	}
	return DecayPolicy{baseDecayDays: cfg.BaseDecayDays}
}

// BaseDecayDays returns the configured base lifetime in days.
func (p DecayPolicy) BaseDecayDays() float64 { return p.baseDecayDays }

// LifetimeDays is baseDecayDays * (0.5 + emotionWeight).
func (p DecayPolicy) LifetimeDays(e Entry) float64 {
	return p.baseDecayDays * (0.5 + e.EmotionWeight)
}

// AgeDays returns the entry age at now in fractional days. Entries stamped
// in the future have age zero.
func AgeDays(e Entry, now time.Time) float64 {
	age := now.Sub(e.CreatedAt).Hours() / 24.0
	return math.Max(age, 0)
}

// IsDecayed reports whether e is past its lifetime at now.
// An entry exactly at its lifetime is still alive.
func (p DecayPolicy) IsDecayed(e Entry, now time.Time) bool {
	return AgeDays(e, now) > p.LifetimeDays(e)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}
