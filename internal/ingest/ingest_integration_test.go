//go:build integration

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/aegis-council/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "start redis")
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err, "redis endpoint")
	return "redis://" + endpoint
}

func TestConsumerAgainstRedis(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := Connect(ctx, startRedis(t))
	require.NoError(t, err)
	defer rdb.Close()

	council := &fakeCouncil{}
	c := NewConsumer(rdb, council, Config{
		Streams:        []string{"tx"},
		Workers:        2,
		DecisionStream: "decisions",
		Block:          50 * time.Millisecond,
	}, zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	env, err := NewEnvelope(KindTransaction, "", agent.TransactionInput{CardID: "c1", Amount: 10})
	require.NoError(t, err)

	// The consumer starts at "$", so keep publishing until one lands
	// after its first read.
	assert.Eventually(t, func() bool {
		if _, err := Publish(ctx, rdb, "tx", env); err != nil {
			return false
		}
		return c.Stats().Published > 0
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	msgs, err := rdb.XRange(context.Background(), "decisions", "-", "+").Result()
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, KindTransaction, msgs[0].Values["kind"])
	assert.NotEmpty(t, msgs[0].Values["source"])
}
