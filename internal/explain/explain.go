// Package explain renders council decisions as human-readable text. It is
// presentation only and never feeds back into scoring.
package explain

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/nidhogg/aegis-council/internal/agent"
	"github.com/nidhogg/aegis-council/internal/fraud"
	"github.com/nidhogg/aegis-council/internal/memory"
	"github.com/nidhogg/aegis-council/internal/orchestrator"
)

// Perspective is one labelled line of commentary on a transaction.
type Perspective struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Money formats an amount as dollars with thousands separators.
func Money(amount float64) string {
	return "$" + humanize.FormatFloat("#,###.##", amount)
}

func amountTier(amount float64) string {
	switch {
	case amount > 5000:
		return "elevated"
	case amount > 1000:
		return "moderate"
	default:
		return "low"
	}
}

func categoryTier(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "electronics":
		return "moderate"
	case "luxury":
		return "elevated"
	case "essentials":
		return "low"
	default:
		return "neutral"
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

// Perspectives returns fixed, threshold-keyed commentary on tx.
func Perspectives(tx agent.TransactionInput) []Perspective {
	merchant, category := orUnknown(tx.Merchant), orUnknown(tx.Category)

	intent := 0.35
	if tx.Amount > 2000 {
		intent = 0.65
	}
	percentile := tx.Amount / 10000
	if percentile > 1 {
		percentile = 1
	}

	return []Perspective{
		{"pattern", fmt.Sprintf("%s to %s shows a %s risk pattern.", Money(tx.Amount), merchant, amountTier(tx.Amount))},
		{"category", fmt.Sprintf("Category '%s' has %s inherent risk.", category, categoryTier(category))},
		{"intent", fmt.Sprintf("Probability of fraudulent intent approximately %.0f%%.", intent*100)},
		{"distribution", fmt.Sprintf("Amount %s sits at %.0f%% of the distribution.", Money(tx.Amount), percentile*100)},
		{"fairness", "All parties deserve consideration of honest intent before judgment."},
	}
}

// Risk recomputes the weighted risk score from a decision's indicators.
func Risk(d *orchestrator.FraudDecision) float64 {
	return fraud.Indicators{
		Velocity:        d.FraudIndicators["velocity_score"],
		AmountAnomaly:   d.FraudIndicators["amount_anomaly"],
		MerchantAnomaly: d.FraudIndicators["merchant_anomaly"],
		History:         d.FraudIndicators["history_score"],
	}.Risk()
}

// FraudAlert renders a fraud decision as a one-paragraph alert.
func FraudAlert(d *orchestrator.FraudDecision) string {
	if d.Action == orchestrator.ActionError {
		return fmt.Sprintf("[ERROR] card %s: analysis failed: %s", d.CardID, d.Error)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] card %s: %s", d.Action, d.CardID, Money(d.Amount))
	if d.Merchant != "" {
		fmt.Fprintf(&b, " at %s", d.Merchant)
	}
	if d.Location != "" {
		fmt.Fprintf(&b, " (%s)", d.Location)
	}
	fmt.Fprintf(&b, ", risk %s %.2f.", d.RiskLevel, Risk(d))
	if d.Reason != "" {
		fmt.Fprintf(&b, " %s.", d.Reason)
	}
	fmt.Fprintf(&b, " %s", Guidance(d.RiskLevel))
	fmt.Fprintf(&b, " Virtue: %s.", d.VirtueProfile)
	return b.String()
}

// Guidance returns the recommended operator response for a risk level.
func Guidance(level string) string {
	switch level {
	case fraud.RiskCritical:
		return "Freeze the card and contact the holder."
	case fraud.RiskHigh:
		return "Review the transaction before settlement."
	case fraud.RiskMedium:
		return "Monitor the card for further activity."
	default:
		return "No action needed."
	}
}

// CycleAlert renders a regenerative cycle result.
func CycleAlert(res memory.CycleResult) string {
	switch res.Action {
	case memory.ActionRegenerated:
		return fmt.Sprintf("[REGENERATED] memory rolled back to snapshot %s at volatility %.2f (state %s).",
			res.SnapshotID, res.Volatility, shortHash(res.SnapshotHash))
	case memory.ActionRegenerationFailed:
		return fmt.Sprintf("[REGENERATION_FAILED] volatility %.2f but no snapshot is available.", res.Volatility)
	case memory.ActionSnapshotCreated:
		return fmt.Sprintf("[SNAPSHOT] stable memory captured as %s (virtue %.2f, density %.0f%%).",
			res.SnapshotID, res.AverageVirtue, res.Density*100)
	default:
		return fmt.Sprintf("[%s] volatility %.2f, virtue %.2f.", res.Action, res.Volatility, res.AverageVirtue)
	}
}

// StreamSummary renders a stream decision.
func StreamSummary(d *orchestrator.Decision) string {
	if d.Action == orchestrator.ActionError {
		return fmt.Sprintf("[ERROR] topic %s: %s", d.Topic, d.Error)
	}
	return fmt.Sprintf("[%s] topic %s: %s agents agreed on virtue %.2f at volatility %.2f.",
		d.Action, d.Topic, humanize.Comma(int64(d.AgentCount)), d.VirtueAverage, d.Volatility)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
