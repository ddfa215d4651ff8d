package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/aegis-council/internal/agent"
	"github.com/nidhogg/aegis-council/internal/orchestrator"
)

// FraudRecord is a journaled fraud decision.
type FraudRecord struct {
	ID            int64               `json:"id"`
	TransactionID string              `json:"transaction_id"`
	CardID        string              `json:"card_id"`
	Amount        float64             `json:"amount"`
	Action        string              `json:"action"`
	RiskLevel     string              `json:"risk_level"`
	Reason        string              `json:"reason"`
	Virtue        agent.VirtueProfile `json:"virtue_profile"`
	Indicators    map[string]float64  `json:"fraud_indicators"`
	DecidedAt     time.Time           `json:"decided_at"`
}

// RecordStream appends a stream decision.
func (j *Journal) RecordStream(ctx context.Context, d *orchestrator.Decision) error {
	var snapshotID string
	if d.Cycle != nil {
		snapshotID = d.Cycle.SnapshotID
	}
	_, err := j.db.Exec(ctx, `
		INSERT INTO stream_decisions (topic, action, virtue_average, volatility, agent_count,
			snapshot_id, explanation, error, processing_ms, decided_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10)`,
		d.Topic, d.Action, d.VirtueAverage, d.Volatility, d.AgentCount,
		snapshotID, d.Explanation, d.Error, d.ProcessingTimeMs, d.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("record stream decision: %w", err)
	}
	return nil
}

// RecordFraud appends a fraud decision.
func (j *Journal) RecordFraud(ctx context.Context, d *orchestrator.FraudDecision) error {
	indicators := d.FraudIndicators
	if indicators == nil {
		indicators = map[string]float64{}
	}
	_, err := j.db.Exec(ctx, `
		INSERT INTO fraud_decisions (transaction_id, card_id, amount, merchant, location, action,
			risk_level, reason, virtue, indicators, explanation, error, processing_ms, decided_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6,
			NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, NULLIF($12, ''), $13, $14)`,
		d.TransactionID, d.CardID, d.Amount, d.Merchant, d.Location, d.Action,
		d.RiskLevel, d.Reason, d.VirtueProfile, indicators, d.Explanation, d.Error,
		d.ProcessingTimeMs, d.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("record fraud decision %s: %w", d.TransactionID, err)
	}
	return nil
}

// RecentFraud returns the latest fraud decisions for cardID, newest first.
// An empty cardID matches every card.
func (j *Journal) RecentFraud(ctx context.Context, cardID string, limit int) ([]FraudRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(ctx, `
		SELECT id, transaction_id, card_id, amount, action, COALESCE(risk_level,''),
		       COALESCE(reason,''), virtue, indicators, decided_at
		FROM fraud_decisions
		WHERE $1::text = '' OR card_id = $1
		ORDER BY decided_at DESC, id DESC
		LIMIT $2`, cardID, limit)
	if err != nil {
		return nil, fmt.Errorf("query fraud decisions: %w", err)
	}
	defer rows.Close()

	var out []FraudRecord
	for rows.Next() {
		var r FraudRecord
		if err := rows.Scan(&r.ID, &r.TransactionID, &r.CardID, &r.Amount, &r.Action,
			&r.RiskLevel, &r.Reason, &r.Virtue, &r.Indicators, &r.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan fraud decision: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActionCounts returns how many decisions of kind ("stream" or "fraud")
// carry each action.
func (j *Journal) ActionCounts(ctx context.Context, kind string) (map[string]int, error) {
	var table string
	switch kind {
	case "stream":
		table = "stream_decisions"
	case "fraud":
		table = "fraud_decisions"
	default:
		return nil, fmt.Errorf("unknown decision kind %q", kind)
	}

	rows, err := j.db.Query(ctx, `SELECT action, COUNT(*) FROM `+table+` GROUP BY action`)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", table, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("scan %s count: %w", table, err)
		}
		counts[action] = n
	}
	return counts, rows.Err()
}
