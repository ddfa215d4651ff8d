package agent

import (
	"context"
	"fmt"
	"math"

	"github.com/nidhogg/aegis-council/internal/memory"
	"go.uber.org/zap"
)

// Forecast labels.
const (
	ForecastStable     = "stable"
	ForecastIncreasing = "increasing"
	ForecastDecreasing = "decreasing"
)

// Trend forecasts the direction of a stream's numeric series.
type Trend struct {
	base
}

// NewTrend creates a trend agent.
func NewTrend(store *memory.Store, logger *zap.Logger) *Trend {
	return &Trend{base: newBase("trend", store, logger)}
}

// Analyze fits a first-to-last slope over the record's values. Fewer than
// three points are reported as stable with low wisdom.
func (a *Trend) Analyze(ctx context.Context, in Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := in.(StreamRecord)
	if !ok {
		return nil, fmt.Errorf("%w: trend needs a stream record, got %T", ErrInvalidInput, in)
	}

	values := rec.Values
	n := len(values)
	forecast := ForecastStable
	var strength float64
	if n >= 3 {
		slope := (values[n-1] - values[0]) / float64(n)
		strength = math.Abs(slope)
		switch {
		case slope > 0.1:
			forecast = ForecastIncreasing
		case slope < -0.1:
			forecast = ForecastDecreasing
		}
	}

	virtue := VirtueProfile{
		Wisdom:     math.Min(1, float64(n)/10*0.8+0.2),
		Courage:    Clamp01(1 - strength),
		Integrity:  0.7,
		Compassion: 0.6,
	}
	if forecast == ForecastStable {
		virtue.Integrity = 0.9
		virtue.Compassion = 0.9
	}

	return a.finish(rec.Topic(), &Result{
		Findings: map[string]any{
			"forecast":       forecast,
			"trend_strength": Round(strength, 3),
			"data_points":    n,
		},
		Virtue:      virtue,
		Explanation: fmt.Sprintf("Trend forecast: %s (strength=%.2f, points=%d)", forecast, strength, n),
	}), nil
}
