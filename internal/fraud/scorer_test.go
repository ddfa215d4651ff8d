package fraud

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/aegis-council/internal/agent"
	"github.com/nidhogg/aegis-council/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestScorer(cfg Config) (*Scorer, *memory.Store, *clock) {
	c := &clock{t: t0}
	store := memory.NewStore(memory.DefaultStoreConfig(), zap.NewNop(), memory.WithClock(c.Now))
	return NewScorer(store, cfg, zap.NewNop()), store, c
}

func txn(card string, amount float64, merchant, location string, at time.Time) agent.TransactionInput {
	return agent.TransactionInput{
		CardID:    card,
		Amount:    amount,
		Merchant:  merchant,
		Location:  location,
		Timestamp: at,
	}
}

func TestFirstTransactionBaseline(t *testing.T) {
	s, _, _ := newTestScorer(DefaultConfig())

	a, err := s.Score(txn("card-1", 150, "Deli", "New York", t0))
	require.NoError(t, err)

	assert.Equal(t, Indicators{Velocity: 0, AmountAnomaly: 0.2, MerchantAnomaly: 0.1, History: 0.2}, a.Indicators)
	assert.InDelta(t, 0.11, a.Risk, 1e-9)
	assert.Equal(t, ActionAllow, a.Action)
	assert.Equal(t, RiskLow, a.RiskLevel)
	assert.Equal(t, "Transaction approved", a.Reason)
	assert.NotEmpty(t, a.Transaction.ID)
}

func TestImpossibleTravel(t *testing.T) {
	s, _, _ := newTestScorer(DefaultConfig())

	_, err := s.Score(txn("card-1", 150, "Deli", "New York", t0))
	require.NoError(t, err)
	a, err := s.Score(txn("card-1", 200, "Diner", "Los Angeles", t0.Add(5*time.Minute)))
	require.NoError(t, err)

	assert.Equal(t, 0.9, a.Indicators.Velocity)
	assert.Equal(t, 1.0, a.Indicators.AmountAnomaly)
	assert.Equal(t, 0.3, a.Indicators.MerchantAnomaly)
	assert.InDelta(t, 0.36, a.Indicators.History, 1e-9)
	assert.InDelta(t, 0.697, a.Risk, 1e-9)

	// Risk stays below the block threshold, so the amount drives the level.
	assert.Equal(t, ActionAllow, a.Action)
	assert.Equal(t, RiskHigh, a.RiskLevel)
	assert.Equal(t, "Impossible travel detected", a.Reason)

	assert.Equal(t, agent.VirtueProfile{Compassion: 0.442, Integrity: 0.95, Courage: 1, Wisdom: 0.863}, a.Virtue)
}

func TestImpossibleTravelOutOfOrder(t *testing.T) {
	s, _, _ := newTestScorer(DefaultConfig())

	_, err := s.Score(txn("card-1", 40, "Deli", "Paris", t0))
	require.NoError(t, err)
	a, err := s.Score(txn("card-1", 40, "Deli", "Tokyo", t0.Add(-10*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, 0.9, a.Indicators.Velocity)
}

func TestAnomalousAmount(t *testing.T) {
	s, _, _ := newTestScorer(DefaultConfig())

	for i, amt := range []float64{15, 16, 17, 18, 19} {
		_, err := s.Score(txn("card-2", amt, "Cafe", "Boston", t0.Add(time.Duration(i)*2*time.Hour)))
		require.NoError(t, err)
	}
	a, err := s.Score(txn("card-2", 5000, "Electronics", "Boston", t0.Add(10*time.Hour)))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, a.Indicators.AmountAnomaly, 0.33)
	assert.Equal(t, 1.0, a.Indicators.AmountAnomaly)
	assert.Equal(t, 0.0, a.Indicators.Velocity)
	assert.Contains(t, []string{RiskHigh, RiskCritical}, a.RiskLevel)
	assert.Equal(t, "Unusual transaction amount", a.Reason)
}

func TestHighFrequency(t *testing.T) {
	s, _, _ := newTestScorer(DefaultConfig())

	for i := range 6 {
		_, err := s.Score(txn("card-3", 20, "Kiosk", "Berlin", t0.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	a, err := s.Score(txn("card-3", 20, "Kiosk", "Berlin", t0.Add(7*time.Minute)))
	require.NoError(t, err)

	assert.Equal(t, 0.7, a.Indicators.Velocity)
	assert.Equal(t, 0.0, a.Indicators.AmountAnomaly)
	assert.Equal(t, 0.0, a.Indicators.MerchantAnomaly)
	assert.Equal(t, RiskMedium, a.RiskLevel)
	assert.Equal(t, "Transaction approved", a.Reason)
}

func TestModerateFrequency(t *testing.T) {
	s, _, _ := newTestScorer(DefaultConfig())

	for i := range 3 {
		_, err := s.Score(txn("card-3", 20, "Kiosk", "Berlin", t0.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	a, err := s.Score(txn("card-3", 20, "Kiosk", "Berlin", t0.Add(5*time.Minute)))
	require.NoError(t, err)
	assert.InDelta(t, 0.3, a.Indicators.Velocity, 1e-9)
	assert.InDelta(t, 0.2, a.Indicators.MerchantAnomaly, 1e-9)
}

func TestAccountHistoryAges(t *testing.T) {
	s, _, c := newTestScorer(DefaultConfig())

	_, err := s.Score(txn("card-4", 30, "Grocer", "Oslo", t0))
	require.NoError(t, err)

	c.Advance(400 * 24 * time.Hour)
	a, err := s.Score(txn("card-4", 30, "Grocer", "Oslo", c.Now()))
	require.NoError(t, err)

	assert.InDelta(t, 0.96, a.Indicators.History, 1e-9)
	assert.Equal(t, "Account history risk", a.Reason)
}

func TestBlockUpdatesFraudCount(t *testing.T) {
	s, _, _ := newTestScorer(Config{BlockThreshold: 0.5, HistoryWindow: 100})

	_, err := s.Score(txn("card-5", 100, "Store", "Rome", t0))
	require.NoError(t, err)
	a, err := s.Score(txn("card-5", 900, "Casino", "Madrid", t0.Add(time.Minute)))
	require.NoError(t, err)

	assert.True(t, a.Blocked)
	assert.Equal(t, ActionBlock, a.Action)
	assert.Equal(t, RiskCritical, a.RiskLevel)

	stats := s.Stats()
	assert.Equal(t, Stats{Entities: 1, Transactions: 2, Blocked: 1}, stats)
	assert.Equal(t, 1, s.histories["card-5"].fraudCount)

	// One blocked out of two pushes the fraud rate into the top bucket.
	b, err := s.Score(txn("card-5", 100, "Store", "Rome", t0.Add(3*time.Hour)))
	require.NoError(t, err)
	assert.InDelta(t, 0.08, b.Indicators.History, 1e-9)
}

func TestHistoryWindowBounded(t *testing.T) {
	s, _, _ := newTestScorer(Config{HistoryWindow: 3})

	for i := range 5 {
		_, err := s.Score(txn("card-6", float64(10+i), "Shop", "Lima", t0.Add(time.Duration(i)*2*time.Hour)))
		require.NoError(t, err)
	}
	h := s.histories["card-6"]
	require.Len(t, h.txns, 3)
	assert.Equal(t, 12.0, h.txns[0].Amount)
	assert.Equal(t, 5, s.Stats().Transactions)
}

func TestDataQualityTiers(t *testing.T) {
	s, _, _ := newTestScorer(DefaultConfig())
	tests := []struct {
		quality float64
		want    float64
	}{
		{0.9, 0.95},
		{0.8, 0.95},
		{0.65, 0.7},
		{0.3, 0.4},
	}
	for i, tt := range tests {
		q := tt.quality
		tx := txn(fmt.Sprintf("dq-%d", i), 10, "Shop", "Lima", t0)
		tx.DataQuality = &q
		a, err := s.Score(tx)
		require.NoError(t, err)
		assert.Equal(t, tt.want, a.Virtue.Integrity, "quality %v", tt.quality)
	}
}

func TestScoreRejectsInvalid(t *testing.T) {
	s, _, _ := newTestScorer(DefaultConfig())

	_, err := s.Score(agent.TransactionInput{Amount: 10})
	assert.ErrorIs(t, err, agent.ErrInvalidInput)
	assert.Equal(t, Stats{}, s.Stats())

	_, err = s.Analyze(context.Background(), agent.StreamRecord{TopicName: "x"})
	assert.ErrorIs(t, err, agent.ErrInvalidInput)
}

func TestAnalyzeRecordsFindings(t *testing.T) {
	s, store, _ := newTestScorer(DefaultConfig())

	res, err := s.Analyze(context.Background(), txn("card-7", 42, "Books", "Dublin", t0))
	require.NoError(t, err)

	assert.Equal(t, "fraud", res.AgentName)
	assert.Equal(t, ActionAllow, res.Findings["action"])
	assert.Equal(t, "Transaction approved", res.Findings["reason"])
	assert.Equal(t, 0.2, res.Findings["amount_anomaly"])

	recs := store.Audit(0)
	require.Len(t, recs, 1)
	assert.True(t, strings.HasPrefix(recs[0].Key, "fraud:card-7:"))
	assert.InDelta(t, res.Virtue.Average(), recs[0].VirtueScore, 1e-9)
}

func TestConcurrentScoringSameCard(t *testing.T) {
	s, _, _ := newTestScorer(DefaultConfig())

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Score(txn("card-8", float64(10+i), "Shop", "Quito", t0.Add(time.Duration(i)*time.Hour)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, Stats{Entities: 1, Transactions: 50}, s.Stats())
	assert.Len(t, s.histories["card-8"].txns, 50)
}
