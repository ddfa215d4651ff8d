package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nidhogg/aegis-council/internal/agent"
	"github.com/nidhogg/aegis-council/internal/orchestrator"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamClient is the subset of the Redis client the consumer uses.
type StreamClient interface {
	XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Council decides on decoded inputs.
type Council interface {
	AnalyzeFraud(ctx context.Context, tx agent.TransactionInput) *orchestrator.FraudDecision
	AnalyzeStream(ctx context.Context, rec agent.StreamRecord) *orchestrator.Decision
}

// Config tunes the consumer.
type Config struct {
	Streams        []string
	Workers        int
	QueueSize      int
	DecisionStream string // empty disables publishing
	Block          time.Duration
	Count          int64
}

// Stats counts consumer activity.
type Stats struct {
	Received  int64 `json:"received"`
	Malformed int64 `json:"malformed"`
	Decided   int64 `json:"decided"`
	Published int64 `json:"published"`
}

// Connect opens a Redis client from a URL and checks it is reachable.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Consumer reads envelopes from Redis Streams and hands them to a bounded
// worker pool. A full queue blocks the reader.
type Consumer struct {
	rdb     StreamClient
	council Council
	cfg     Config
	queue   chan redis.XMessage
	logger  *zap.Logger

	received  atomic.Int64
	malformed atomic.Int64
	decided   atomic.Int64
	published atomic.Int64
}

// NewConsumer creates a consumer. Missing sizes fall back to one worker,
// a queue of 16 and a two second block.
func NewConsumer(rdb StreamClient, council Council, cfg Config, logger *zap.Logger) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	return &Consumer{
		rdb:     rdb,
		council: council,
		cfg:     cfg,
		queue:   make(chan redis.XMessage, cfg.QueueSize),
		logger:  logger.Named("ingest"),
	}
}

// Run consumes until ctx is cancelled. Messages already queued are still
// decided before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.cfg.Streams) == 0 {
		return errors.New("ingest: no streams configured")
	}

	var wg sync.WaitGroup
	work := context.WithoutCancel(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range c.queue {
				c.handle(work, msg)
			}
		}()
	}

	c.logger.Info("ingest started",
		zap.Strings("streams", c.cfg.Streams),
		zap.Int("workers", c.cfg.Workers))

	err := c.read(ctx)
	close(c.queue)
	wg.Wait()

	c.logger.Info("ingest stopped", zap.Int64("decided", c.decided.Load()))
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (c *Consumer) read(ctx context.Context) error {
	lastIDs := make([]string, len(c.cfg.Streams))
	for i := range lastIDs {
		lastIDs[i] = "$"
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams := append(append([]string{}, c.cfg.Streams...), lastIDs...)
		results, err := c.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: streams,
			Count:   c.cfg.Count,
			Block:   c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("xread failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, r := range results {
			idx := c.streamIndex(r.Stream)
			for _, msg := range r.Messages {
				if idx >= 0 {
					lastIDs[idx] = msg.ID
				}
				c.received.Add(1)
				select {
				case c.queue <- msg:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (c *Consumer) streamIndex(name string) int {
	for i, s := range c.cfg.Streams {
		if s == name {
			return i
		}
	}
	return -1
}

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		c.malformed.Add(1)
		c.logger.Warn("message without data field", zap.String("id", msg.ID))
		return
	}

	in, err := Decode([]byte(data))
	if err != nil {
		c.malformed.Add(1)
		c.logger.Warn("skipping message", zap.String("id", msg.ID), zap.Error(err))
		return
	}

	var (
		kind     string
		decision any
	)
	switch v := in.(type) {
	case agent.TransactionInput:
		kind, decision = KindTransaction, c.council.AnalyzeFraud(ctx, v)
	case agent.StreamRecord:
		kind, decision = KindStream, c.council.AnalyzeStream(ctx, v)
	}
	c.decided.Add(1)

	if err := c.publishDecision(ctx, msg.ID, kind, decision); err != nil {
		c.logger.Error("publish decision failed", zap.String("id", msg.ID), zap.Error(err))
	}
}

func (c *Consumer) publishDecision(ctx context.Context, sourceID, kind string, decision any) error {
	if c.cfg.DecisionStream == "" {
		return nil
	}
	data, err := json.Marshal(decision)
	if err != nil {
		return err
	}
	_, err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DecisionStream,
		Values: map[string]interface{}{
			"kind":   kind,
			"source": sourceID,
			"data":   string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", c.cfg.DecisionStream, err)
	}
	c.published.Add(1)
	return nil
}

// Stats returns the consumer's counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Received:  c.received.Load(),
		Malformed: c.malformed.Load(),
		Decided:   c.decided.Load(),
		Published: c.published.Load(),
	}
}

// Publish appends an envelope to stream and returns the message ID.
func Publish(ctx context.Context, rdb StreamClient, stream string, env *Envelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	id, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", stream, err)
	}
	return id, nil
}
