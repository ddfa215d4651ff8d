//go:build integration

package journal

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/aegis-council/internal/agent"
	"github.com/nidhogg/aegis-council/internal/memory"
	"github.com/nidhogg/aegis-council/internal/orchestrator"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("aegis_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pg connection string: %v", err)
	}
	return dsn
}

func TestJournalRoundTrip(t *testing.T) {
	ctx := context.Background()
	j, err := Open(ctx, startPostgres(t), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()

	if err := j.Migrate(ctx, "../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Migrations are idempotent.
	if err := j.Migrate(ctx, "../../migrations"); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	j.FraudDecided(ctx, &orchestrator.FraudDecision{
		TransactionID: "tx-1", CardID: "card-1", Amount: 200, Action: "ALLOW", RiskLevel: "HIGH",
		Reason:          "Impossible travel detected",
		VirtueProfile:   agent.VirtueProfile{Compassion: 0.4, Integrity: 0.9, Courage: 1, Wisdom: 0.8},
		FraudIndicators: map[string]float64{"velocity_score": 0.9},
		DecidedAt:       now,
	})
	j.FraudDecided(ctx, &orchestrator.FraudDecision{
		TransactionID: "tx-2", CardID: "card-2", Action: orchestrator.ActionError, Error: "boom",
		DecidedAt: now.Add(time.Second),
	})
	j.StreamDecided(ctx, &orchestrator.Decision{
		Topic: "orders", Action: memory.ActionSnapshotCreated, VirtueAverage: 0.8, AgentCount: 4,
		Cycle: &memory.CycleResult{Action: memory.ActionSnapshotCreated, SnapshotID: "snap-1"}, DecidedAt: now,
	})

	records, err := j.RecentFraud(ctx, "card-1", 10)
	if err != nil {
		t.Fatalf("recent fraud: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.TransactionID != "tx-1" || r.RiskLevel != "HIGH" || r.Virtue.Integrity != 0.9 {
		t.Errorf("unexpected record: %+v", r)
	}
	if r.Indicators["velocity_score"] != 0.9 {
		t.Errorf("indicators not stored: %v", r.Indicators)
	}

	all, err := j.RecentFraud(ctx, "", 0)
	if err != nil {
		t.Fatalf("recent fraud: %v", err)
	}
	if len(all) != 2 || all[0].TransactionID != "tx-2" {
		t.Errorf("expected newest first, got %+v", all)
	}

	counts, err := j.ActionCounts(ctx, "fraud")
	if err != nil {
		t.Fatalf("action counts: %v", err)
	}
	if counts["ALLOW"] != 1 || counts[orchestrator.ActionError] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
	stream, err := j.ActionCounts(ctx, "stream")
	if err != nil {
		t.Fatalf("action counts: %v", err)
	}
	if stream[memory.ActionSnapshotCreated] != 1 {
		t.Errorf("unexpected stream counts: %v", stream)
	}
	if _, err := j.ActionCounts(ctx, "other"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
