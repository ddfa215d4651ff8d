package agent

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Input is a record handed to an agent. The set of implementations is
// closed: TransactionInput and StreamRecord.
type Input interface {
	// Topic names the record stream the input belongs to.
	Topic() string
	isInput()
}

// TransactionInput is a card transaction.
type TransactionInput struct {
	ID          string    `json:"id"`
	CardID      string    `json:"card_id"`
	Amount      float64   `json:"amount"`
	Merchant    string    `json:"merchant"`
	Location    string    `json:"location"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	DataQuality *float64  `json:"data_quality,omitempty"` // nil means unknown
}

func (TransactionInput) Topic() string { return "transaction" }
func (TransactionInput) isInput()      {}

// Validate checks the fields scoring depends on.
func (t TransactionInput) Validate() error {
	if strings.TrimSpace(t.CardID) == "" {
		return fmt.Errorf("%w: card_id is required", ErrInvalidInput)
	}
	if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) || t.Amount < 0 {
		return fmt.Errorf("%w: amount must be a non-negative number", ErrInvalidInput)
	}
	if t.DataQuality != nil && (*t.DataQuality < 0 || *t.DataQuality > 1) {
		return fmt.Errorf("%w: data_quality must be within [0, 1]", ErrInvalidInput)
	}
	return nil
}

// Fields returns the transaction as a flat field map. Empty strings and a
// zero timestamp are reported as nil.
func (t TransactionInput) Fields() map[string]any {
	str := func(s string) any {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		return s
	}
	var ts any
	if !t.Timestamp.IsZero() {
		ts = t.Timestamp
	}
	return map[string]any{
		"id":          str(t.ID),
		"card_id":     str(t.CardID),
		"amount":      t.Amount,
		"merchant":    str(t.Merchant),
		"location":    str(t.Location),
		"category":    str(t.Category),
		"description": str(t.Description),
		"timestamp":   ts,
	}
}

// StreamRecord is a telemetry event: an arbitrary field map tagged with its
// topic, plus an optional numeric series for trend analysis.
type StreamRecord struct {
	TopicName string         `json:"topic"`
	Payload   map[string]any `json:"payload"`
	Values    []float64      `json:"values,omitempty"`
}

func (s StreamRecord) Topic() string {
	if s.TopicName == "" {
		return "unknown"
	}
	return s.TopicName
}

func (StreamRecord) isInput() {}

// Validate rejects records without a payload.
func (s StreamRecord) Validate() error {
	if len(s.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", ErrInvalidInput)
	}
	return nil
}

// stringField returns payload[key] as a string, or "" when absent.
func stringField(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// numberField returns payload[key] as a float64 when it holds a number or
// a numeric string.
func numberField(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
