package lifecycle

import (
	"sync"
	"time"

	"github.com/nidhogg/aegis-council/internal/memory"
	"go.uber.org/zap"
)

// Cycler runs regenerative cycles.
type Cycler interface {
	RunCycle(virtueGate float64) memory.CycleResult
	VirtueGate() float64
}

// ObserverFunc is called with the result of every heartbeat cycle.
type ObserverFunc func(res memory.CycleResult)

// Heartbeat is a Listener that runs a regenerative cycle once per
// interval, so the store is maintained even without traffic.
type Heartbeat struct {
	interval  time.Duration
	next      time.Time
	cycler    Cycler
	observers []ObserverFunc
	beats     int
	mu        sync.Mutex
	logger    *zap.Logger
}

// NewHeartbeat creates a heartbeat listener.
func NewHeartbeat(interval time.Duration, cycler Cycler, logger *zap.Logger, observers ...ObserverFunc) *Heartbeat {
	return &Heartbeat{
		interval:  interval,
		cycler:    cycler,
		observers: observers,
		logger:    logger,
	}
}

// FireNow runs a cycle immediately, bypassing the interval check.
func (h *Heartbeat) FireNow() memory.CycleResult {
	return h.beat()
}

// Beats returns how many cycles the heartbeat has run.
func (h *Heartbeat) Beats() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.beats
}

// TickInterval returns the clock interval to drive a heartbeat of the given
// interval: a tenth of it, capped at one second.
func TickInterval(interval time.Duration) time.Duration {
	tick := interval / 10
	if tick > time.Second {
		tick = time.Second
	}
	if tick <= 0 {
		tick = interval
	}
	return tick
}

// OnTick implements Listener. The first tick arms the heartbeat; after that
// beats are due every interval from that tick. A tick within a tenth of the
// interval of the deadline counts, so a late tick does not push the
// schedule back, and a heartbeat that fell a full interval behind resumes
// from now instead of catching up.
func (h *Heartbeat) OnTick(now time.Time) {
	h.mu.Lock()
	if h.next.IsZero() {
		h.next = now.Add(h.interval)
		h.mu.Unlock()
		return
	}
	if now.Before(h.next.Add(-h.interval / 10)) {
		h.mu.Unlock()
		return
	}
	h.next = h.next.Add(h.interval)
	if !h.next.After(now) {
		h.next = now.Add(h.interval)
	}
	h.mu.Unlock()

	h.beat()
}

func (h *Heartbeat) beat() memory.CycleResult {
	res := h.cycler.RunCycle(h.cycler.VirtueGate())

	h.mu.Lock()
	h.beats++
	h.mu.Unlock()

	if res.Action == memory.ActionNone {
		h.logger.Debug("heartbeat cycle", zap.Float64("volatility", res.Volatility))
	} else {
		h.logger.Info("heartbeat cycle",
			zap.String("action", res.Action),
			zap.Float64("volatility", res.Volatility),
			zap.String("snapshot", res.SnapshotID))
	}
	for _, fn := range h.observers {
		fn(res)
	}
	return res
}
