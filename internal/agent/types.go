package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidInput marks a record an agent cannot analyze.
var ErrInvalidInput = errors.New("invalid input")

// Agent scores one input record along its own dimension.
type Agent interface {
	Name() string
	Analyze(ctx context.Context, in Input) (*Result, error)
}

// VirtueProfile is a four-dimensional confidence vector, each in [0, 1].
//
//   - Compassion: fairness and safety of the outcome
//   - Integrity: quality of the underlying data
//   - Courage: confidence to act
//   - Wisdom: sufficiency of evidence
type VirtueProfile struct {
	Compassion float64 `json:"compassion"`
	Integrity  float64 `json:"integrity"`
	Courage    float64 `json:"courage"`
	Wisdom     float64 `json:"wisdom"`
}

// Average is the arithmetic mean of the four dimensions.
func (v VirtueProfile) Average() float64 {
	return (v.Compassion + v.Integrity + v.Courage + v.Wisdom) / 4
}

func (v VirtueProfile) String() string {
	return fmt.Sprintf("compassion=%.2f integrity=%.2f courage=%.2f wisdom=%.2f",
		v.Compassion, v.Integrity, v.Courage, v.Wisdom)
}

// MeanProfile averages profiles per dimension. An empty slice yields zero.
func MeanProfile(profiles []VirtueProfile) VirtueProfile {
	if len(profiles) == 0 {
		return VirtueProfile{}
	}
	var sum VirtueProfile
	for _, p := range profiles {
		sum.Compassion += p.Compassion
		sum.Integrity += p.Integrity
		sum.Courage += p.Courage
		sum.Wisdom += p.Wisdom
	}
	n := float64(len(profiles))
	return VirtueProfile{
		Compassion: sum.Compassion / n,
		Integrity:  sum.Integrity / n,
		Courage:    sum.Courage / n,
		Wisdom:     sum.Wisdom / n,
	}
}

// Result is one agent's analysis of one record.
type Result struct {
	AgentName   string         `json:"agent_name"`
	Findings    map[string]any `json:"findings"`
	Virtue      VirtueProfile  `json:"virtue_profile"`
	Explanation string         `json:"explanation"`
	ProcessedAt time.Time      `json:"processed_at"`
}

// Clamp01 bounds v to [0, 1]. NaN becomes 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
