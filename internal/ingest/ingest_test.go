package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/aegis-council/internal/agent"
	"github.com/nidhogg/aegis-council/internal/orchestrator"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRedis struct {
	mu      sync.Mutex
	batches [][]redis.XStream
	reads   []*redis.XReadArgs
	added   []*redis.XAddArgs
}

func (f *fakeRedis) XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd {
	f.mu.Lock()
	f.reads = append(f.reads, a)
	if len(f.batches) > 0 {
		b := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return redis.NewXStreamSliceCmdResult(b, nil)
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return redis.NewXStreamSliceCmdResult(nil, ctx.Err())
	case <-time.After(5 * time.Millisecond):
		return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
	}
}

func (f *fakeRedis) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, a)
	return redis.NewStringResult("1-0", nil)
}

func (f *fakeRedis) addedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added)
}

type fakeCouncil struct {
	mu     sync.Mutex
	frauds []agent.TransactionInput
	stream []agent.StreamRecord
}

func (f *fakeCouncil) AnalyzeFraud(_ context.Context, tx agent.TransactionInput) *orchestrator.FraudDecision {
	f.mu.Lock()
	f.frauds = append(f.frauds, tx)
	f.mu.Unlock()
	return &orchestrator.FraudDecision{CardID: tx.CardID, Action: "ALLOW"}
}

func (f *fakeCouncil) AnalyzeStream(_ context.Context, rec agent.StreamRecord) *orchestrator.Decision {
	f.mu.Lock()
	f.stream = append(f.stream, rec)
	f.mu.Unlock()
	return &orchestrator.Decision{Topic: rec.Topic(), Action: "NO_ACTION"}
}

func message(t *testing.T, id string, env any) redis.XMessage {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: map[string]interface{}{"data": string(data)}}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
		check   func(t *testing.T, in agent.Input)
	}{
		{
			name: "transaction",
			data: `{"kind":"transaction","payload":{"card_id":"c1","amount":12.5,"merchant":"Deli"}}`,
			check: func(t *testing.T, in agent.Input) {
				tx, ok := in.(agent.TransactionInput)
				require.True(t, ok)
				assert.Equal(t, "c1", tx.CardID)
				assert.Equal(t, 12.5, tx.Amount)
			},
		},
		{
			name: "stream with series",
			data: `{"kind":"STREAM","topic":"cpu","payload":{"host":"a","values":[1,2,"x",3]}}`,
			check: func(t *testing.T, in agent.Input) {
				rec, ok := in.(agent.StreamRecord)
				require.True(t, ok)
				assert.Equal(t, "cpu", rec.Topic())
				assert.Equal(t, []float64{1, 2, 3}, rec.Values)
				assert.Equal(t, "a", rec.Payload["host"])
			},
		},
		{name: "not json", data: `{kind`, wantErr: true},
		{name: "missing kind", data: `{"payload":{"a":1}}`, wantErr: true},
		{name: "unknown kind", data: `{"kind":"email","payload":{"a":1}}`, wantErr: true},
		{name: "payload not object", data: `{"kind":"stream","payload":[1]}`, wantErr: true},
		{name: "transaction without card", data: `{"kind":"transaction","payload":{"amount":1}}`, wantErr: true},
		{name: "empty stream payload", data: `{"kind":"stream","payload":{}}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := Decode([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, in)
		})
	}
}

func TestConsumerDecidesAndPublishes(t *testing.T) {
	txEnv, err := NewEnvelope(KindTransaction, "", agent.TransactionInput{CardID: "c1", Amount: 20})
	require.NoError(t, err)
	recEnv, err := NewEnvelope(KindStream, "orders", map[string]any{"merchant": "Shop"})
	require.NoError(t, err)

	rdb := &fakeRedis{batches: [][]redis.XStream{{
		{Stream: "tx", Messages: []redis.XMessage{
			message(t, "1-0", txEnv),
			{ID: "1-1", Values: map[string]interface{}{"other": "x"}},
			message(t, "1-2", map[string]any{"kind": "bogus", "payload": map[string]any{"a": 1}}),
		}},
		{Stream: "telemetry", Messages: []redis.XMessage{message(t, "2-0", recEnv)}},
	}}}
	council := &fakeCouncil{}

	c := NewConsumer(rdb, council, Config{
		Streams:        []string{"tx", "telemetry"},
		Workers:        2,
		QueueSize:      1,
		DecisionStream: "decisions",
		Block:          10 * time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return rdb.addedCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	stats := c.Stats()
	assert.Equal(t, int64(4), stats.Received)
	assert.Equal(t, int64(2), stats.Malformed)
	assert.Equal(t, int64(2), stats.Decided)
	assert.Equal(t, int64(2), stats.Published)

	council.mu.Lock()
	require.Len(t, council.frauds, 1)
	assert.Equal(t, "c1", council.frauds[0].CardID)
	require.Len(t, council.stream, 1)
	assert.Equal(t, "orders", council.stream[0].Topic())
	council.mu.Unlock()

	rdb.mu.Lock()
	defer rdb.mu.Unlock()
	for _, a := range rdb.added {
		assert.Equal(t, "decisions", a.Stream)
	}
	// Later reads resume after the last delivered IDs.
	last := rdb.reads[len(rdb.reads)-1]
	assert.Equal(t, []string{"tx", "telemetry", "1-2", "2-0"}, last.Streams)
}

func TestConsumerRequiresStreams(t *testing.T) {
	c := NewConsumer(&fakeRedis{}, &fakeCouncil{}, Config{}, zap.NewNop())
	assert.Error(t, c.Run(context.Background()))
}

func TestPublish(t *testing.T) {
	rdb := &fakeRedis{}
	env, err := NewEnvelope(KindStream, "cpu", map[string]any{"load": 0.4})
	require.NoError(t, err)

	id, err := Publish(context.Background(), rdb, "telemetry", env)
	require.NoError(t, err)
	assert.Equal(t, "1-0", id)

	require.Len(t, rdb.added, 1)
	data := rdb.added[0].Values.(map[string]interface{})["data"].(string)
	in, err := Decode([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, "cpu", in.Topic())
}
