package memory

import (
	"time"
)

// Entry is a stored value subject to decay. Entries are never mutated after
// they are written; a re-write replaces the whole entry.
type Entry struct {
	Key           string    `json:"key"`
	Value         any       `json:"value"`
	CreatedAt     time.Time `json:"created_at"`
	EmotionWeight float64   `json:"emotion_weight"` // 0-1, higher resists decay
	VirtueScore   float64   `json:"virtue_score"`   // 0-1, quality of the stored value
}

// AuditRecord is a read-only view of an entry for diagnostics.
type AuditRecord struct {
	HashedKey     string    `json:"hashed_key"`
	Key           string    `json:"key"`
	CreatedAt     time.Time `json:"created_at"`
	AgeDays       float64   `json:"age_days"`
	EmotionWeight float64   `json:"emotion_weight"`
	VirtueScore   float64   `json:"virtue_score"`
	Decayed       bool      `json:"decayed"`
}

// Health is the aggregate state of the store at one instant.
type Health struct {
	Volatility     float64 `json:"volatility"`     // decayed / total
	AverageVirtue  float64 `json:"average_virtue"` // mean virtue of live entries
	Density        float64 `json:"density"`        // total / max entries
	TotalEntries   int     `json:"total_entries"`
	DecayedEntries int     `json:"decayed_entries"`
}
