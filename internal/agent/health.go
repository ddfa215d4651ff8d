package agent

import (
	"context"
	"fmt"
	"math"

	"github.com/nidhogg/aegis-council/internal/memory"
	"go.uber.org/zap"
)

// Health turns the store's own health into a virtue profile.
type Health struct {
	base
}

// NewHealth creates a stream health agent.
func NewHealth(store *memory.Store, logger *zap.Logger) *Health {
	return &Health{base: newBase("stream_health", store, logger)}
}

// Analyze ignores the record content and reads store health. Results are
// recorded under the "system" topic.
func (a *Health) Analyze(ctx context.Context, _ Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := a.store.ComputeHealth()

	virtue := VirtueProfile{
		Integrity:  Clamp01(1 - h.Volatility),
		Compassion: h.AverageVirtue,
		Courage:    math.Max(0, 1-h.Volatility),
		Wisdom:     (h.AverageVirtue + 1 - h.Volatility) / 2,
	}

	return a.finish("system", &Result{
		Findings: map[string]any{
			"volatility":    Round(h.Volatility, 4),
			"avg_virtue":    Round(h.AverageVirtue, 4),
			"density":       Round(h.Density, 4),
			"total_entries": h.TotalEntries,
		},
		Virtue: virtue,
		Explanation: fmt.Sprintf("Stream health: volatility=%.3f, virtue=%.3f, density=%.3f",
			h.Volatility, h.AverageVirtue, h.Density),
	}), nil
}
