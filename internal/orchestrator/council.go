package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/aegis-council/internal/agent"
	"github.com/nidhogg/aegis-council/internal/fraud"
	"github.com/nidhogg/aegis-council/internal/memory"
	"go.uber.org/zap"
)

// Config tunes the council.
type Config struct {
	PoolSize     int
	AgentTimeout time.Duration
	VirtueGate   float64 // gate used by maintenance cycles
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{PoolSize: 8, AgentTimeout: 5 * time.Second, VirtueGate: 0.5}
}

// Sink receives every decision the council reaches. Sinks run
// synchronously on the deciding goroutine.
type Sink interface {
	StreamDecided(ctx context.Context, d *Decision)
	FraudDecided(ctx context.Context, d *FraudDecision)
}

// Memory bundles the store with the components managing its health.
type Memory struct {
	Store     *memory.Store
	Snapshots *memory.SnapshotManager
	Cycle     *memory.Cycle
}

// Option customizes a Council.
type Option func(*Council)

// WithStreamAgents replaces the default stream agent set.
func WithStreamAgents(agents ...agent.Agent) Option {
	return func(c *Council) { c.streamAgents = agents }
}

// WithQualityAgent replaces the agent that vets transactions before
// fraud scoring.
func WithQualityAgent(a agent.Agent) Option {
	return func(c *Council) { c.quality = a }
}

// WithSinks registers decision sinks.
func WithSinks(sinks ...Sink) Option {
	return func(c *Council) { c.sinks = append(c.sinks, sinks...) }
}

// Council fans records out to its agents and turns their virtue profiles
// into decisions, driving the regenerative cycle on the way.
type Council struct {
	mem          Memory
	monitor      *memory.Monitor
	scheduler    *Scheduler
	streamAgents []agent.Agent
	quality      agent.Agent
	scorer       *fraud.Scorer
	sinks        []Sink
	virtueGate   float64
	logger       *zap.Logger
}

// NewCouncil creates a council. The default stream set is data quality,
// trend, stream health and signal; fraud analysis runs the data quality
// agent ahead of the scorer.
func NewCouncil(mem Memory, scorer *fraud.Scorer, cfg Config, logger *zap.Logger, opts ...Option) *Council {
	if logger == nil {
		logger = zap.NewNop()
	}
	quality := agent.NewDataQuality(mem.Store, logger)
	c := &Council{
		mem:       mem,
		monitor:   memory.NewMonitor(mem.Store),
		scheduler: NewScheduler(cfg.PoolSize, cfg.AgentTimeout, logger.Named("scheduler")),
		streamAgents: []agent.Agent{
			quality,
			agent.NewTrend(mem.Store, logger),
			agent.NewHealth(mem.Store, logger),
			agent.NewSignal(mem.Store, logger),
		},
		quality:    quality,
		scorer:     scorer,
		virtueGate: cfg.VirtueGate,
		logger:     logger.Named("council"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// VirtueGate returns the gate used by maintenance cycles.
func (c *Council) VirtueGate() float64 { return c.virtueGate }

// Scheduler returns the council's agent scheduler.
func (c *Council) Scheduler() *Scheduler { return c.scheduler }

// AnalyzeStream runs the stream agents on rec, averages their virtue
// profiles and feeds the result into one regenerative cycle. Any agent
// failure yields an ERROR decision without an aggregate.
func (c *Council) AnalyzeStream(ctx context.Context, rec agent.StreamRecord) *Decision {
	start := time.Now()
	d := &Decision{Topic: rec.Topic()}
	defer func() {
		d.ProcessingTimeMs = msSince(start)
		d.DecidedAt = time.Now()
		c.notifyStream(ctx, d)
	}()

	if err := rec.Validate(); err != nil {
		c.fail(d, err)
		return d
	}

	c.logger.Info("dispatching agents",
		zap.String("topic", d.Topic),
		zap.Int("agents", len(c.streamAgents)))

	results, err := collect(c.scheduler.Dispatch(ctx, c.streamAgents, rec))
	if err != nil {
		c.fail(d, err)
		return d
	}

	aggregate := agent.MeanProfile(profiles(results))
	avg := aggregate.Average()

	// The store lock is taken inside ComputeHealth and the snapshot lock
	// inside Run; neither is held across the other.
	health := c.mem.Store.ComputeHealth()
	cycle := c.mem.Cycle.Run(health, avg)

	d.Action = cycle.Action
	d.AggregateVirtue = aggregate
	d.VirtueAverage = avg
	d.Volatility = cycle.Volatility
	d.AgentCount = len(results)
	d.Cycle = &cycle
	d.Results = results
	d.Explanation = fmt.Sprintf("Council decision: %s | virtue: %s", cycle.Action, aggregate)

	c.logger.Info("cycle complete",
		zap.String("topic", d.Topic),
		zap.String("action", d.Action),
		zap.Float64("virtue", avg),
		zap.Float64("volatility", d.Volatility))
	return d
}

// AnalyzeFraud vets tx with the data quality agent, then scores it and
// averages both virtue profiles. Scoring appends to the card history, so it
// only runs once the quality check has passed.
func (c *Council) AnalyzeFraud(ctx context.Context, tx agent.TransactionInput) *FraudDecision {
	start := time.Now()
	d := &FraudDecision{
		TransactionID: tx.ID,
		CardID:        tx.CardID,
		Amount:        tx.Amount,
		Merchant:      tx.Merchant,
		Location:      tx.Location,
	}
	defer func() {
		d.ProcessingTimeMs = msSince(start)
		d.DecidedAt = time.Now()
		c.notifyFraud(ctx, d)
	}()

	if err := tx.Validate(); err != nil {
		c.failFraud(d, err)
		return d
	}

	checked, err := collect(c.scheduler.Dispatch(ctx, []agent.Agent{c.quality}, tx))
	if err != nil {
		c.failFraud(d, err)
		return d
	}
	scored, err := collect(c.scheduler.Dispatch(ctx, []agent.Agent{c.scorer}, tx))
	if err != nil {
		c.failFraud(d, err)
		return d
	}
	fraudRes, qualityRes := scored[0], checked[0]
	results := []*agent.Result{fraudRes, qualityRes}

	d.TransactionID = findingString(fraudRes, "transaction_id")
	d.Action = findingString(fraudRes, "action")
	d.RiskLevel = findingString(fraudRes, "risk_level")
	d.Reason = findingString(fraudRes, "reason")
	d.VirtueProfile = agent.MeanProfile(profiles(results))
	d.FraudIndicators = make(map[string]float64, 4)
	for _, k := range []string{"velocity_score", "amount_anomaly", "merchant_anomaly", "history_score"} {
		if v, ok := fraudRes.Findings[k].(float64); ok {
			d.FraudIndicators[k] = v
		}
	}
	d.Explanation = fmt.Sprintf("%s | quality: %.2f", fraudRes.Explanation, qualityRes.Virtue.Integrity)

	c.logger.Info("fraud decision",
		zap.String("card", d.CardID),
		zap.String("action", d.Action),
		zap.String("risk_level", d.RiskLevel),
		zap.Float64("virtue", d.VirtueProfile.Average()))
	return d
}

// AnalyzeFraudBatch scores transactions in order. Transactions for the
// same card therefore see each other in their history.
func (c *Council) AnalyzeFraudBatch(ctx context.Context, txs []agent.TransactionInput) *BatchResult {
	res := &BatchResult{Total: len(txs), Decisions: make([]*FraudDecision, 0, len(txs))}
	var virtueSum float64
	var scored int

	for _, tx := range txs {
		d := c.AnalyzeFraud(ctx, tx)
		res.Decisions = append(res.Decisions, d)
		switch d.Action {
		case fraud.ActionBlock:
			res.Blocked++
		case fraud.ActionAllow:
			res.Allowed++
		default:
			res.Errors++
			continue
		}
		virtueSum += d.VirtueProfile.Average()
		scored++
	}
	if scored > 0 {
		res.AverageVirtue = virtueSum / float64(scored)
	}
	return res
}

// Health returns the current store health with its status label.
func (c *Council) Health() memory.Report {
	return c.monitor.Check()
}

// CreateSnapshot captures the store regardless of the cycle thresholds.
func (c *Council) CreateSnapshot() (*memory.Snapshot, bool) {
	return c.mem.Snapshots.Create(c.mem.Store.ComputeHealth())
}

// Regenerate rolls the store back to the best snapshot.
func (c *Council) Regenerate() (*memory.Snapshot, bool) {
	return c.mem.Snapshots.Regenerate()
}

// Snapshots lists retained snapshots.
func (c *Council) Snapshots() []memory.Snapshot {
	return c.mem.Snapshots.List()
}

// Audit lists store entries, oldest first.
func (c *Council) Audit(limit int) []memory.AuditRecord {
	return c.mem.Store.Audit(limit)
}

// FraudStats returns the fraud scorer's counters.
func (c *Council) FraudStats() fraud.Stats {
	return c.scorer.Stats()
}

// RunCycle runs one regenerative cycle on current health without any new
// input.
func (c *Council) RunCycle(virtueGate float64) memory.CycleResult {
	return c.mem.Cycle.Run(c.mem.Store.ComputeHealth(), virtueGate)
}

func (c *Council) fail(d *Decision, err error) {
	d.Action = ActionError
	d.Error = err.Error()
	d.Explanation = "Council analysis failed"
	c.logger.Error("stream analysis failed", zap.String("topic", d.Topic), zap.Error(err))
}

func (c *Council) failFraud(d *FraudDecision, err error) {
	d.Action = ActionError
	d.Error = err.Error()
	d.Explanation = "Fraud analysis failed"
	c.logger.Error("fraud analysis failed", zap.String("card", d.CardID), zap.Error(err))
}

func (c *Council) notifyStream(ctx context.Context, d *Decision) {
	for _, s := range c.sinks {
		s.StreamDecided(ctx, d)
	}
}

func (c *Council) notifyFraud(ctx context.Context, d *FraudDecision) {
	for _, s := range c.sinks {
		s.FraudDecided(ctx, d)
	}
}

// collect returns the agent results in order, or the first failure.
func collect(outcomes []*TaskResult) ([]*agent.Result, error) {
	results := make([]*agent.Result, 0, len(outcomes))
	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
			continue
		}
		results = append(results, o.Result)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return results, nil
}

func profiles(results []*agent.Result) []agent.VirtueProfile {
	out := make([]agent.VirtueProfile, len(results))
	for i, r := range results {
		out[i] = r.Virtue
	}
	return out
}

func findingString(r *agent.Result, key string) string {
	s, _ := r.Findings[key].(string)
	return s
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
