package memory

import "time"

// Health status labels.
const (
	StatusHealthy  = "HEALTHY"
	StatusCaution  = "CAUTION"
	StatusDegraded = "DEGRADED"
)

// Report is a health reading with its status label.
type Report struct {
	Health
	Status    string    `json:"status"`
	CheckedAt time.Time `json:"checked_at"`
}

// Monitor reads aggregate health from a store.
type Monitor struct {
	store *Store
}

// NewMonitor creates a monitor for store.
func NewMonitor(store *Store) *Monitor {
	return &Monitor{store: store}
}

// Compute returns the current store health.
func (m *Monitor) Compute() Health {
	return m.store.ComputeHealth()
}

// Check returns the current health with its status label.
func (m *Monitor) Check() Report {
	h := m.store.ComputeHealth()
	return Report{Health: h, Status: Status(h), CheckedAt: m.store.Now()}
}

// Status labels h: above 0.6 volatility is degraded, above 0.3 needs caution.
func Status(h Health) string {
	switch {
	case h.Volatility > 0.6:
		return StatusDegraded
	case h.Volatility > 0.3:
		return StatusCaution
	default:
		return StatusHealthy
	}
}
