// Package fraud scores card transactions against per-card sliding history.
package fraud

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/aegis-council/internal/agent"
	"github.com/nidhogg/aegis-council/internal/memory"
	"go.uber.org/zap"
)

// Actions and risk levels.
const (
	ActionAllow = "ALLOW"
	ActionBlock = "BLOCK"

	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

// Indicator weights of the aggregate risk.
const (
	weightVelocity = 0.35
	weightAmount   = 0.25
	weightMerchant = 0.20
	weightHistory  = 0.20
)

const (
	travelWindow         = 30 * time.Minute
	frequencyWindow      = time.Hour
	highVelocity         = 0.7
	highAmountAnomaly    = 0.75
	highMerchantAnomaly  = 0.7
	highHistoryRisk      = 0.7
	defaultDataQuality   = 0.8
	frequentTransactions = 5
)

// Config tunes the scorer.
type Config struct {
	BlockThreshold float64 // risk strictly above blocks
	HistoryWindow  int     // transactions kept per card
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{BlockThreshold: 0.85, HistoryWindow: 100}
}

// Indicators are the per-transaction risk signals, each in [0, 1].
type Indicators struct {
	Velocity        float64 `json:"velocity_score"`
	AmountAnomaly   float64 `json:"amount_anomaly"`
	MerchantAnomaly float64 `json:"merchant_anomaly"`
	History         float64 `json:"history_score"`
}

// Risk is the weighted aggregate of the indicators.
func (in Indicators) Risk() float64 {
	return in.Velocity*weightVelocity +
		in.AmountAnomaly*weightAmount +
		in.MerchantAnomaly*weightMerchant +
		in.History*weightHistory
}

// Map returns the indicators keyed by their wire names.
func (in Indicators) Map() map[string]float64 {
	return map[string]float64{
		"velocity_score":   agent.Round(in.Velocity, 3),
		"amount_anomaly":   agent.Round(in.AmountAnomaly, 3),
		"merchant_anomaly": agent.Round(in.MerchantAnomaly, 3),
		"history_score":    agent.Round(in.History, 3),
	}
}

// Assessment is the scorer's verdict on one transaction.
type Assessment struct {
	Transaction agent.TransactionInput `json:"transaction"`
	Indicators  Indicators             `json:"indicators"`
	Risk        float64                `json:"risk"`
	Blocked     bool                   `json:"blocked"`
	Action      string                 `json:"action"`
	RiskLevel   string                 `json:"risk_level"`
	Reason      string                 `json:"reason"`
	Virtue      agent.VirtueProfile    `json:"virtue_profile"`
}

// Stats summarizes what the scorer has seen.
type Stats struct {
	Entities     int `json:"entities"`
	Transactions int `json:"transactions"`
	Blocked      int `json:"blocked"`
}

type history struct {
	txns       []agent.TransactionInput
	fraudCount int
	createdAt  time.Time
}

// Scorer is the fraud agent. Per-card histories share one mutex; scoring
// and the history update happen in the same critical section, so
// concurrent transactions on one card always see each other.
type Scorer struct {
	mu        sync.Mutex
	histories map[string]*history
	scored    int
	blocked   int

	cfg    Config
	store  *memory.Store
	now    func() time.Time
	logger *zap.Logger
}

// NewScorer creates a scorer that records its findings in store.
func NewScorer(store *memory.Store, cfg Config, logger *zap.Logger) *Scorer {
	def := DefaultConfig()
	if cfg.BlockThreshold <= 0 {
		cfg.BlockThreshold = def.BlockThreshold
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{
		histories: make(map[string]*history),
		cfg:       cfg,
		store:     store,
		now:       store.Now,
		logger:    logger.Named("fraud"),
	}
}

// Name implements agent.Agent.
func (s *Scorer) Name() string { return "fraud" }

// Analyze implements agent.Agent for transaction inputs.
func (s *Scorer) Analyze(ctx context.Context, in agent.Input) (*agent.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, ok := in.(agent.TransactionInput)
	if !ok {
		return nil, fmt.Errorf("%w: fraud scorer needs a transaction, got %T", agent.ErrInvalidInput, in)
	}
	a, err := s.Score(tx)
	if err != nil {
		return nil, err
	}

	res := &agent.Result{
		AgentName: s.Name(),
		Findings: map[string]any{
			"transaction_id":   a.Transaction.ID,
			"card_id":          a.Transaction.CardID,
			"amount":           agent.Round(a.Transaction.Amount, 2),
			"merchant":         a.Transaction.Merchant,
			"location":         a.Transaction.Location,
			"velocity_score":   agent.Round(a.Indicators.Velocity, 3),
			"amount_anomaly":   agent.Round(a.Indicators.AmountAnomaly, 3),
			"merchant_anomaly": agent.Round(a.Indicators.MerchantAnomaly, 3),
			"history_score":    agent.Round(a.Indicators.History, 3),
			"risk_score":       agent.Round(a.Risk, 3),
			"risk_level":       a.RiskLevel,
			"action":           a.Action,
			"reason":           a.Reason,
		},
		Virtue: a.Virtue,
		Explanation: fmt.Sprintf("Fraud analysis: %s | risk=%s | virtue: %s | velocity=%.2f amount=%.2f",
			a.Action, a.RiskLevel, a.Virtue, a.Indicators.Velocity, a.Indicators.AmountAnomaly),
		ProcessedAt: s.now(),
	}

	// The history lock is released by now; the store has its own lock.
	avg := a.Virtue.Average()
	s.store.Write(fmt.Sprintf("%s:%s:%s", s.Name(), tx.CardID, uuid.New().String()), res.Findings, avg, avg)

	s.logger.Info(res.Explanation,
		zap.String("card", tx.CardID),
		zap.String("transaction", a.Transaction.ID),
		zap.Float64("risk", a.Risk))
	return res, nil
}

// Score evaluates tx against the card's history and appends it to that
// history. A missing id is generated and a zero timestamp means now.
func (s *Scorer) Score(tx agent.TransactionInput) (*Assessment, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	now := s.now()
	if tx.Timestamp.IsZero() {
		tx.Timestamp = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.histories[tx.CardID]
	ind := Indicators{
		Velocity:        velocityScore(h, tx),
		AmountAnomaly:   amountAnomaly(h, tx),
		MerchantAnomaly: merchantAnomaly(h, tx),
		History:         historyScore(h, now),
	}
	risk := ind.Risk()
	blocked := risk > s.cfg.BlockThreshold

	if h == nil {
		h = &history{createdAt: now}
		s.histories[tx.CardID] = h
	}
	h.txns = append(h.txns, tx)
	if blocked {
		h.fraudCount++
		s.blocked++
	}
	if over := len(h.txns) - s.cfg.HistoryWindow; over > 0 {
		h.txns = append(h.txns[:0:0], h.txns[over:]...)
	}
	s.scored++

	a := &Assessment{
		Transaction: tx,
		Indicators:  ind,
		Risk:        risk,
		Blocked:     blocked,
		Action:      ActionAllow,
		RiskLevel:   riskLevel(ind, blocked),
		Reason:      reason(ind),
		Virtue:      virtueProfile(ind, risk, tx.DataQuality),
	}
	if blocked {
		a.Action = ActionBlock
	}
	return a, nil
}

// Stats returns counters over everything scored so far.
func (s *Scorer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Entities: len(s.histories), Transactions: s.scored, Blocked: s.blocked}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// velocityScore flags impossible travel first, then high frequency.
// Windows are measured in absolute time so late arrivals still count.
func velocityScore(h *history, tx agent.TransactionInput) float64 {
	if h == nil {
		return 0
	}
	var hourly int
	for _, prev := range h.txns {
		dt := absDuration(tx.Timestamp.Sub(prev.Timestamp))
		if dt < travelWindow && prev.Location != tx.Location {
			return 0.9
		}
		if dt < frequencyWindow {
			hourly++
		}
	}
	if hourly > frequentTransactions {
		return 0.7
	}
	return math.Min(float64(hourly)/10, 0.5)
}

// amountAnomaly is the z-score of the amount against the card's history,
// scaled so that three standard deviations saturate.
func amountAnomaly(h *history, tx agent.TransactionInput) float64 {
	if h == nil || len(h.txns) == 0 {
		return 0.2
	}
	n := float64(len(h.txns))
	var sum float64
	for _, prev := range h.txns {
		sum += prev.Amount
	}
	mean := sum / n

	var sq float64
	for _, prev := range h.txns {
		d := prev.Amount - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / n)
	if stddev == 0 {
		stddev = mean * 0.1
	}
	if stddev == 0 {
		// every previous amount was zero
		if tx.Amount == 0 {
			return 0
		}
		return 1
	}
	z := math.Abs(tx.Amount-mean) / stddev
	return math.Min(z/3, 1)
}

func merchantAnomaly(h *history, tx agent.TransactionInput) float64 {
	if h == nil || len(h.txns) == 0 {
		return 0.1
	}
	var seen int
	for _, prev := range h.txns {
		if prev.Merchant == tx.Merchant {
			seen++
		}
	}
	if seen == 0 {
		return 0.3
	}
	return math.Max(0, 0.5-float64(seen)/10)
}

// historyScore blends account age with the card's blocked-transaction rate.
func historyScore(h *history, now time.Time) float64 {
	if h == nil {
		return 0.2
	}
	ageDays := math.Max(now.Sub(h.createdAt).Hours()/24, 0)
	ageScore := math.Min(ageDays/365, 1)

	rate := float64(h.fraudCount) / float64(max(1, len(h.txns)))
	bucket := 0.1
	switch {
	case rate > 0.05:
		bucket = 0.8
	case rate > 0.01:
		bucket = 0.4
	}
	return ageScore*0.6 + (1-bucket)*0.4
}

func riskLevel(ind Indicators, blocked bool) string {
	switch {
	case blocked:
		return RiskCritical
	case ind.AmountAnomaly > 0.6:
		return RiskHigh
	case ind.Velocity > 0.5:
		return RiskMedium
	default:
		return RiskLow
	}
}

func reason(ind Indicators) string {
	switch {
	case ind.Velocity > highVelocity:
		return "Impossible travel detected"
	case ind.AmountAnomaly > highAmountAnomaly:
		return "Unusual transaction amount"
	case ind.MerchantAnomaly > highMerchantAnomaly:
		return "Unknown merchant for this card"
	case ind.History > highHistoryRisk:
		return "Account history risk"
	default:
		return "Transaction approved"
	}
}

// virtueProfile expresses confidence in the decision rather than the risk
// itself.
func virtueProfile(ind Indicators, risk float64, dataQuality *float64) agent.VirtueProfile {
	q := defaultDataQuality
	if dataQuality != nil {
		q = *dataQuality
	}
	integrity := 0.4
	switch {
	case q >= 0.8:
		integrity = 0.95
	case q >= 0.6:
		integrity = 0.7
	}
	compassion := math.Max(0.4, 1-risk*0.8)
	courage := math.Min(1, ind.Velocity+ind.AmountAnomaly)*0.9 + 0.1
	wisdom := (integrity + courage + (1 - ind.History)) / 3

	return agent.VirtueProfile{
		Integrity:  agent.Round(integrity, 3),
		Compassion: agent.Round(compassion, 3),
		Courage:    agent.Round(courage, 3),
		Wisdom:     agent.Round(wisdom, 3),
	}
}
