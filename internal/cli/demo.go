package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/aegis-council/internal/agent"
	"github.com/nidhogg/aegis-council/internal/config"
	"github.com/nidhogg/aegis-council/internal/explain"
	"github.com/nidhogg/aegis-council/internal/fraud"
	"github.com/nidhogg/aegis-council/internal/orchestrator"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the built-in fraud and stream scenarios against an in-memory council",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runDemo(cmd.Context(), cmd.OutOrStdout(), cfg, logger)
		},
	}

	RootCmd.AddCommand(cmd)
}

func quality(q float64) *float64 { return &q }

// runDemo plays every scenario in order on a fresh council.
func runDemo(ctx context.Context, out io.Writer, cfg *config.Config, logger *zap.Logger) error {
	mem := newMemory(cfg, logger)
	council := newCouncil(cfg, mem, logger)
	now := time.Now().UTC()

	scenarios := []struct {
		title string
		run   func() error
	}{
		{"Impossible travel", func() error {
			card := "CARD_12345"
			first := council.AnalyzeFraud(ctx, agent.TransactionInput{
				ID: uuid.NewString(), CardID: card, Amount: 150, Merchant: "Coffee NYC",
				Location: "New York", Timestamp: now, DataQuality: quality(0.95),
			})
			fmt.Fprintln(out, explain.FraudAlert(first))
			second := council.AnalyzeFraud(ctx, agent.TransactionInput{
				ID: uuid.NewString(), CardID: card, Amount: 200, Merchant: "Coffee LAX",
				Location: "Los Angeles", Timestamp: now.Add(5 * time.Minute), DataQuality: quality(0.90),
			})
			fmt.Fprintln(out, explain.FraudAlert(second))
			return failed(second)
		}},
		{"Anomalous amount", func() error {
			card := "CARD_ANOMALY_" + uuid.NewString()[:8]
			for i := 0; i < 5; i++ {
				d := council.AnalyzeFraud(ctx, agent.TransactionInput{
					ID: uuid.NewString(), CardID: card, Amount: 15 + float64(i), Merchant: "Grocery Store",
					Location: "Home City", Timestamp: now.Add(-time.Duration(5-i) * time.Hour), DataQuality: quality(0.98),
				})
				if err := failed(d); err != nil {
					return err
				}
			}
			tx := agent.TransactionInput{
				ID: uuid.NewString(), CardID: card, Amount: 5000, Merchant: "Luxury Watch Store",
				Location: "Home City", Category: "luxury", Timestamp: now, DataQuality: quality(0.92),
			}
			d := council.AnalyzeFraud(ctx, tx)
			fmt.Fprintln(out, explain.FraudAlert(d))
			for _, p := range explain.Perspectives(tx) {
				fmt.Fprintf(out, "  %-12s %s\n", p.Name, p.Text)
			}
			return failed(d)
		}},
		{"Batch analysis", func() error {
			res := council.AnalyzeFraudBatch(ctx, []agent.TransactionInput{
				{ID: "TXN_001", CardID: "CARD_BATCH_A", Amount: 75.50, Merchant: "Gas Station", Location: "Home", Timestamp: now, DataQuality: quality(0.97)},
				{ID: "TXN_002", CardID: "CARD_BATCH_B", Amount: 2500, Merchant: "Wire Transfer Service", Location: "Online", Timestamp: now, DataQuality: quality(0.75)},
				{ID: "TXN_003", CardID: "CARD_BATCH_C", Amount: 35, Merchant: "Coffee Shop", Location: "Work", Timestamp: now, DataQuality: quality(0.96)},
				{ID: "TXN_004", CardID: "CARD_BATCH_D", Amount: 4200, Merchant: "Electronics Store", Location: "Unknown", Category: "electronics", Timestamp: now, DataQuality: quality(0.50)},
				{ID: "TXN_005", CardID: "CARD_BATCH_E", Amount: 12.99, Merchant: "Subscription Service", Location: "Online", Timestamp: now, DataQuality: quality(0.88)},
			})
			for _, d := range res.Decisions {
				fmt.Fprintf(out, "[%s] %s | risk=%s | virtue=%.2f\n", d.TransactionID, d.Action, d.RiskLevel, d.VirtueProfile.Average())
			}
			fmt.Fprintf(out, "batch: %d blocked, %d allowed, %d errors, average virtue %.2f\n",
				res.Blocked, res.Allowed, res.Errors, res.AverageVirtue)
			return nil
		}},
		{"Stream council", func() error {
			for _, rec := range []agent.StreamRecord{
				{TopicName: "payments", Payload: map[string]any{"merchant": "Shop", "amount": 42.0, "region": "eu"}, Values: []float64{40, 41, 42, 44, 47}},
				{TopicName: "telemetry", Payload: map[string]any{"host": "edge-1", "signal": "steady throughput, honest reporting"}},
			} {
				d := council.AnalyzeStream(ctx, rec)
				fmt.Fprintln(out, explain.StreamSummary(d))
				if d.Action == orchestrator.ActionError {
					return fmt.Errorf("stream %s: %s", d.Topic, d.Error)
				}
			}
			return nil
		}},
		{"Health and regeneration", func() error {
			res := council.RunCycle(council.VirtueGate())
			fmt.Fprintln(out, explain.CycleAlert(res))
			h := council.Health()
			fmt.Fprintf(out, "health: %s, %d entries, volatility %.2f, virtue %.2f, %d snapshots\n",
				h.Status, h.TotalEntries, h.Volatility, h.AverageVirtue, len(council.Snapshots()))
			if snap, ok := council.Regenerate(); ok {
				fmt.Fprintf(out, "regenerated to snapshot %s (%d entries)\n", snap.ID, snap.EntryCount)
			}
			stats := council.FraudStats()
			fmt.Fprintf(out, "fraud: %d cards, %d transactions, %d blocked\n", stats.Entities, stats.Transactions, stats.Blocked)
			return nil
		}},
	}

	for i, s := range scenarios {
		fmt.Fprintf(out, "\n=== Scenario %d: %s ===\n", i+1, s.title)
		if err := s.run(); err != nil {
			return fmt.Errorf("scenario %q: %w", s.title, err)
		}
	}
	return nil
}

func failed(d *orchestrator.FraudDecision) error {
	if d.Action != fraud.ActionAllow && d.Action != fraud.ActionBlock {
		return fmt.Errorf("card %s: %s", d.CardID, d.Error)
	}
	return nil
}
