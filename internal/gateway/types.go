package gateway

import (
	"context"
	"time"
)

// Adapter delivers alerts to one chat platform.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, alert *Alert) error
	Close() error
	Status() AdapterStatus
}

// Severity ranks alerts.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert kinds.
const (
	KindFraud = "fraud"
	KindCycle = "cycle"
)

// Alert is a rendered notification sent to every adapter.
type Alert struct {
	Kind     string    `json:"kind"`
	Severity Severity  `json:"severity"`
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	RaisedAt time.Time `json:"raised_at"`
}

// AlertRecord tracks a sent alert for history.
type AlertRecord struct {
	Alert     *Alert            `json:"alert"`
	SentAt    time.Time         `json:"sent_at"`
	Delivered []string          `json:"delivered"`
	Failed    map[string]string `json:"failed,omitempty"` // platform -> error
}

// AdapterStatus reports an adapter's connection and breaker state.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Breaker     string     `json:"breaker"` // filled in by Gateway.Statuses
}

// colorFor maps a severity to an RGB color.
func colorFor(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0xD32F2F
	case SeverityWarning:
		return 0xF9A825
	default:
		return 0x1976D2
	}
}
