package cli

import (
	"context"
	"fmt"

	"github.com/nidhogg/aegis-council/internal/api"
	"github.com/nidhogg/aegis-council/internal/config"
	"github.com/nidhogg/aegis-council/internal/fraud"
	"github.com/nidhogg/aegis-council/internal/gateway"
	"github.com/nidhogg/aegis-council/internal/ingest"
	"github.com/nidhogg/aegis-council/internal/journal"
	"github.com/nidhogg/aegis-council/internal/lifecycle"
	"github.com/nidhogg/aegis-council/internal/memory"
	"github.com/nidhogg/aegis-council/internal/orchestrator"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds every long-lived component of a running server.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	mem       orchestrator.Memory
	council   *orchestrator.Council
	journal   *journal.Journal
	gateway   *gateway.Gateway
	clock     *lifecycle.Clock
	heartbeat *lifecycle.Heartbeat
	rdb       *redis.Client
	consumer  *ingest.Consumer
}

// newMemory builds the in-process store and the components managing it.
func newMemory(cfg *config.Config, logger *zap.Logger) orchestrator.Memory {
	store := memory.NewStore(memory.StoreConfig{
		MaxEntries: cfg.Memory.MaxEntries,
		Decay:      memory.DecayConfig{BaseDecayDays: cfg.Memory.BaseDecayDays},
	}, logger.Named("memory"))
	snaps := memory.NewSnapshotManager(store, memory.SnapshotConfig{
		MinEntriesForSnapshot: cfg.Memory.MinEntriesForSnapshot,
		MaxSnapshots:          cfg.Memory.MaxSnapshots,
	}, logger.Named("snapshots"))
	cycle := memory.NewCycle(snaps, memory.CycleConfig{
		VolatilityThreshold: cfg.Memory.VolatilityThreshold,
		StabilityThreshold:  cfg.Memory.StabilityThreshold,
	}, logger.Named("cycle"))
	return orchestrator.Memory{Store: store, Snapshots: snaps, Cycle: cycle}
}

// newCouncil builds a council over mem with the configured scorer.
func newCouncil(cfg *config.Config, mem orchestrator.Memory, logger *zap.Logger, sinks ...orchestrator.Sink) *orchestrator.Council {
	scorer := fraud.NewScorer(mem.Store, fraud.Config{
		BlockThreshold: cfg.Fraud.BlockThreshold,
		HistoryWindow:  cfg.Fraud.HistoryWindow,
	}, logger.Named("fraud"))
	return orchestrator.NewCouncil(mem, scorer, orchestrator.Config{
		PoolSize:     cfg.Council.PoolSize,
		AgentTimeout: cfg.Council.AgentTimeout.Duration,
		VirtueGate:   cfg.Council.VirtueGate,
	}, logger, orchestrator.WithSinks(sinks...))
}

// newApp wires the server. Optional backends that cannot be reached are
// logged and skipped.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrationsDir string) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	var sinks []orchestrator.Sink

	if dsn := cfg.Database.Postgres.DSN; dsn != "" {
		j, err := journal.Open(ctx, dsn, logger.Named("journal"))
		if err != nil {
			logger.Warn("PostgreSQL unavailable, running without decision journal", zap.Error(err))
		} else if err := j.Migrate(ctx, migrationsDir); err != nil {
			j.Close()
			return nil, fmt.Errorf("migrate journal: %w", err)
		} else {
			a.journal = j
			sinks = append(sinks, j)
		}
	}

	a.gateway = gateway.NewGateway(gateway.DefaultConfig(), logger.Named("gateway"))
	if s := cfg.Gateway.Slack; s.Enabled && s.BotToken != "" {
		a.gateway.Register(gateway.NewSlackAdapter(s.BotToken, s.ChannelID, logger.Named("slack")))
	}
	if d := cfg.Gateway.Discord; d.Enabled && d.BotToken != "" {
		a.gateway.Register(gateway.NewDiscordAdapter(d.BotToken, d.ChannelID, logger.Named("discord")))
	}
	if len(a.gateway.Adapters()) > 0 {
		if err := a.gateway.ConnectAll(ctx); err != nil {
			logger.Warn("some alert adapters failed to connect", zap.Error(err))
		}
		sinks = append(sinks, a.gateway)
	}

	a.mem = newMemory(cfg, logger)
	a.council = newCouncil(cfg, a.mem, logger, sinks...)

	interval := cfg.Council.CycleInterval.Duration
	a.clock = lifecycle.NewClock(lifecycle.TickInterval(interval), nil, logger.Named("clock"))
	a.heartbeat = lifecycle.NewHeartbeat(interval, a.council, logger.Named("heartbeat"),
		func(res memory.CycleResult) { a.gateway.CycleRan(context.Background(), res) })
	a.clock.AddListener(a.heartbeat)

	if cfg.Ingest.Enabled {
		rdb, err := ingest.Connect(ctx, cfg.Database.Redis.URL)
		if err != nil {
			logger.Warn("Redis unavailable, running without stream ingestion", zap.Error(err))
		} else {
			a.rdb = rdb
			a.consumer = ingest.NewConsumer(rdb, a.council, ingest.Config{
				Streams:        cfg.Ingest.Streams,
				Workers:        cfg.Ingest.Workers,
				QueueSize:      cfg.Ingest.QueueSize,
				DecisionStream: cfg.Ingest.DecisionStream,
			}, logger)
		}
	}
	return a, nil
}

// apiOptions exposes the optional backends that came up.
func (a *app) apiOptions() []api.Option {
	opts := []api.Option{api.WithAlerts(a.gateway)}
	if a.consumer != nil {
		opts = append(opts, api.WithIngest(a.consumer))
	}
	if a.journal != nil {
		opts = append(opts, api.WithJournal(a.journal))
	}
	return opts
}

func (a *app) close() {
	a.clock.Stop()
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.journal != nil {
		a.journal.Close()
	}
	a.gateway.Close()
}
