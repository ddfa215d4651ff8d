package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/aegis-council/internal/memory"
	"go.uber.org/zap"
)

// minRequiredFields is the field count below which a record is considered
// structurally incomplete.
const minRequiredFields = 3

// DataQuality scores how complete a record is.
type DataQuality struct {
	base
}

// NewDataQuality creates a data quality agent.
func NewDataQuality(store *memory.Store, logger *zap.Logger) *DataQuality {
	return &DataQuality{base: newBase("data_quality", store, logger)}
}

// Analyze counts empty fields in the record.
func (a *DataQuality) Analyze(ctx context.Context, in Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var fields map[string]any
	switch v := in.(type) {
	case StreamRecord:
		fields = v.Payload
	case TransactionInput:
		fields = v.Fields()
	default:
		return nil, fmt.Errorf("%w: data quality cannot analyze %T", ErrInvalidInput, in)
	}

	var nulls int
	for _, v := range fields {
		if isEmpty(v) {
			nulls++
		}
	}
	total := len(fields)

	completeness := 1.0
	if total > 0 {
		completeness = 1 - float64(nulls)/float64(total)
	}
	hasRequired := total >= minRequiredFields

	virtue := VirtueProfile{
		Integrity:  completeness,
		Compassion: 0.5,
		Courage:    completeness*0.8 + 0.2,
		Wisdom:     completeness / 2,
	}
	if hasRequired {
		virtue.Compassion = 0.9
		virtue.Wisdom = (completeness + 1) / 2
	}

	return a.finish(in.Topic(), &Result{
		Findings: map[string]any{
			"completeness":  Round(completeness, 3),
			"null_ratio":    Round(float64(nulls)/float64(max(1, total)), 3),
			"field_count":   total,
			"quality_score": Round(completeness, 3),
		},
		Virtue: virtue,
		Explanation: fmt.Sprintf("Data quality: %.2f integrity, %d fields, %d null values",
			virtue.Integrity, total, nulls),
	}), nil
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
