// Package gateway sends council alerts to chat platforms.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/aegis-council/internal/explain"
	"github.com/nidhogg/aegis-council/internal/fraud"
	"github.com/nidhogg/aegis-council/internal/memory"
	"github.com/nidhogg/aegis-council/internal/orchestrator"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when an adapter's breaker rejects a send.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config tunes alert delivery.
type Config struct {
	MaxFailures  uint32        // consecutive failures that trip a breaker
	OpenTimeout  time.Duration // how long a tripped breaker stays open
	SendTimeout  time.Duration
	HistoryLimit int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxFailures:  3,
		OpenTimeout:  30 * time.Second,
		SendTimeout:  5 * time.Second,
		HistoryLimit: 200,
	}
}

type registered struct {
	adapter Adapter
	breaker *gobreaker.CircuitBreaker
}

// Gateway fans alerts out to every registered adapter. Each adapter sits
// behind its own circuit breaker.
type Gateway struct {
	adapters map[string]*registered
	history  []AlertRecord
	cfg      Config
	now      func() time.Time
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewGateway creates a gateway manager.
func NewGateway(cfg Config, logger *zap.Logger) *Gateway {
	return &Gateway{
		adapters: make(map[string]*registered),
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// Register adds an adapter with a fresh breaker.
func (g *Gateway) Register(adapter Adapter) {
	platform := adapter.Platform()
	maxFailures := g.cfg.MaxFailures
	settings := gobreaker.Settings{
		Name:        platform,
		MaxRequests: 1,
		Timeout:     g.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("alert breaker state changed",
				zap.String("platform", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.adapters[platform] = &registered{adapter: adapter, breaker: gobreaker.NewCircuitBreaker(settings)}
	g.logger.Info("registered alert adapter", zap.String("platform", platform))
}

// ConnectAll starts all registered adapters.
func (g *Gateway) ConnectAll(ctx context.Context) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for platform, r := range g.adapters {
		if err := r.adapter.Connect(ctx); err != nil {
			g.logger.Error("adapter connect failed",
				zap.String("platform", platform), zap.Error(err))
			return fmt.Errorf("connect %s: %w", platform, err)
		}
		g.logger.Info("adapter connected", zap.String("platform", platform))
	}
	return nil
}

// Send delivers alert to every adapter and records the outcome. It fails
// only when no adapter accepted the alert.
func (g *Gateway) Send(ctx context.Context, alert *Alert) error {
	if alert.Kind == "" {
		return fmt.Errorf("alert kind is required")
	}
	if alert.RaisedAt.IsZero() {
		alert.RaisedAt = g.now()
	}

	g.mu.RLock()
	targets := make([]*registered, 0, len(g.adapters))
	for _, r := range g.adapters {
		targets = append(targets, r)
	}
	g.mu.RUnlock()
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].adapter.Platform() < targets[j].adapter.Platform()
	})

	rec := AlertRecord{Alert: alert, Failed: map[string]string{}}
	for _, r := range targets {
		platform := r.adapter.Platform()
		if err := g.sendOne(ctx, r, alert); err != nil {
			rec.Failed[platform] = err.Error()
			g.logger.Error("alert send failed",
				zap.String("platform", platform),
				zap.String("kind", alert.Kind),
				zap.Error(err))
			continue
		}
		rec.Delivered = append(rec.Delivered, platform)
	}
	rec.SentAt = g.now()
	if len(rec.Failed) == 0 {
		rec.Failed = nil
	}

	g.mu.Lock()
	g.history = append(g.history, rec)
	if over := len(g.history) - g.cfg.HistoryLimit; g.cfg.HistoryLimit > 0 && over > 0 {
		g.history = append([]AlertRecord(nil), g.history[over:]...)
	}
	g.mu.Unlock()

	if len(targets) > 0 && len(rec.Delivered) == 0 {
		return fmt.Errorf("alert failed on %d platform(s)", len(targets))
	}
	return nil
}

func (g *Gateway) sendOne(ctx context.Context, r *registered, alert *Alert) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		sctx := ctx
		if g.cfg.SendTimeout > 0 {
			var cancel context.CancelFunc
			sctx, cancel = context.WithTimeout(ctx, g.cfg.SendTimeout)
			defer cancel()
		}
		return nil, r.adapter.Send(sctx, alert)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// History returns up to limit of the most recent alert records, oldest
// first. A non-positive limit returns all of them.
func (g *Gateway) History(limit int) []AlertRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if limit <= 0 || limit > len(g.history) {
		limit = len(g.history)
	}
	out := make([]AlertRecord, limit)
	copy(out, g.history[len(g.history)-limit:])
	return out
}

// Close shuts down all adapters.
func (g *Gateway) Close() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for platform, r := range g.adapters {
		if err := r.adapter.Close(); err != nil {
			g.logger.Error("adapter close failed",
				zap.String("platform", platform), zap.Error(err))
		}
	}
	return nil
}

// Adapters returns the registered platform names, sorted.
func (g *Gateway) Adapters() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.adapters))
	for p := range g.adapters {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}

// Statuses reports every adapter with its breaker state, sorted by
// platform.
func (g *Gateway) Statuses() []AdapterStatus {
	g.mu.RLock()
	out := make([]AdapterStatus, 0, len(g.adapters))
	for platform, r := range g.adapters {
		st := r.adapter.Status()
		st.Platform = platform
		st.Breaker = r.breaker.State().String()
		out = append(out, st)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

// FraudDecided implements orchestrator.Sink. Blocked and critical
// decisions raise an alert.
func (g *Gateway) FraudDecided(ctx context.Context, d *orchestrator.FraudDecision) {
	if d.Action != fraud.ActionBlock && d.RiskLevel != fraud.RiskCritical {
		return
	}
	severity := SeverityWarning
	if d.Action == fraud.ActionBlock {
		severity = SeverityCritical
	}
	alert := &Alert{
		Kind:     KindFraud,
		Severity: severity,
		Title:    fmt.Sprintf("Fraud %s on card %s", d.Action, d.CardID),
		Content:  explain.FraudAlert(d),
	}
	if err := g.Send(ctx, alert); err != nil {
		g.logger.Warn("fraud alert not delivered", zap.String("card", d.CardID), zap.Error(err))
	}
}

// StreamDecided implements orchestrator.Sink. Only regenerations raise
// an alert.
func (g *Gateway) StreamDecided(ctx context.Context, d *orchestrator.Decision) {
	if d.Cycle != nil {
		g.CycleRan(ctx, *d.Cycle)
	}
}

// CycleRan raises an alert when a cycle regenerated memory or failed to.
func (g *Gateway) CycleRan(ctx context.Context, res memory.CycleResult) {
	var severity Severity
	switch res.Action {
	case memory.ActionRegenerated:
		severity = SeverityWarning
	case memory.ActionRegenerationFailed:
		severity = SeverityCritical
	default:
		return
	}
	alert := &Alert{
		Kind:     KindCycle,
		Severity: severity,
		Title:    "Memory " + res.Action,
		Content:  explain.CycleAlert(res),
	}
	if err := g.Send(ctx, alert); err != nil {
		g.logger.Warn("cycle alert not delivered", zap.Error(err))
	}
}
