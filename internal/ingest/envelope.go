// Package ingest feeds records from Redis Streams into the council and
// publishes the resulting decisions.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/aegis-council/internal/agent"
	"github.com/tidwall/gjson"
)

// Envelope kinds.
const (
	KindTransaction = "transaction"
	KindStream      = "stream"
)

// ErrMalformed is returned for envelopes that cannot be decoded.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the JSON document carried in the "data" field of a stream
// message.
type Envelope struct {
	Kind    string          `json:"kind"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload for publishing.
func NewEnvelope(kind, topic string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Envelope{Kind: kind, Topic: topic, Payload: raw}, nil
}

// Decode turns a raw envelope into a council input. Transactions are
// validated here so bad records never reach a worker.
func Decode(data []byte) (agent.Input, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: not valid json", ErrMalformed)
	}
	payload := gjson.GetBytes(data, "payload")
	if !payload.IsObject() {
		return nil, fmt.Errorf("%w: payload must be an object", ErrMalformed)
	}

	switch kind := strings.ToLower(gjson.GetBytes(data, "kind").String()); kind {
	case KindTransaction:
		var tx agent.TransactionInput
		if err := json.Unmarshal([]byte(payload.Raw), &tx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := tx.Validate(); err != nil {
			return nil, err
		}
		return tx, nil

	case KindStream:
		rec := agent.StreamRecord{TopicName: gjson.GetBytes(data, "topic").String()}
		if err := json.Unmarshal([]byte(payload.Raw), &rec.Payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		// A numeric "values" array inside the payload doubles as the trend series.
		for _, v := range payload.Get("values").Array() {
			if v.Type == gjson.Number {
				rec.Values = append(rec.Values, v.Float())
			}
		}
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		return rec, nil

	case "":
		return nil, fmt.Errorf("%w: missing kind", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, kind)
	}
}
