package agent

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/nidhogg/aegis-council/internal/memory"
	"go.uber.org/zap"
)

// base carries what every agent shares: its name, the injected store and a
// logger.
type base struct {
	name   string
	store  *memory.Store
	logger *zap.Logger
}

func newBase(name string, store *memory.Store, logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{name: name, store: store, logger: logger.Named(name)}
}

// Name returns the agent name.
func (b base) Name() string { return b.name }

// finish stamps r, records its findings in the store weighted by the
// virtue average, and logs it.
func (b base) finish(topic string, r *Result) *Result {
	r.AgentName = b.name
	r.ProcessedAt = b.store.Now()

	avg := r.Virtue.Average()
	key := fmt.Sprintf("%s:%s:%s", b.name, topic, uuid.New().String())
	b.store.Write(key, r.Findings, avg, avg)

	b.logger.Info(r.Explanation,
		zap.String("topic", topic),
		zap.Float64("virtue", avg))
	return r
}
