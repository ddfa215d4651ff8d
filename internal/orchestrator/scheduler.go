package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/aegis-council/internal/agent"
	"go.uber.org/zap"
)

// Scheduler runs agents in parallel on a bounded goroutine pool.
type Scheduler struct {
	mu      sync.RWMutex
	running map[string]*Task
	pool    chan struct{} // semaphore-based pool
	timeout time.Duration
	logger  *zap.Logger
}

// NewScheduler creates a scheduler with a bounded pool and a per-agent
// timeout.
func NewScheduler(poolSize int, timeout time.Duration, logger *zap.Logger) *Scheduler {
	if poolSize <= 0 {
		poolSize = 8
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		running: make(map[string]*Task),
		pool:    make(chan struct{}, poolSize),
		timeout: timeout,
		logger:  logger,
	}
}

// Dispatch runs every agent on in and waits for all of them. Results are
// returned in the order of agents.
func (s *Scheduler) Dispatch(ctx context.Context, agents []agent.Agent, in agent.Input) []*TaskResult {
	results := make([]*TaskResult, len(agents))
	var wg sync.WaitGroup

	for i, a := range agents {
		task := &Task{
			ID:        uuid.New().String(),
			Agent:     a.Name(),
			Topic:     in.Topic(),
			Status:    TaskPending,
			CreatedAt: time.Now(),
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case s.pool <- struct{}{}: // acquire slot
			case <-ctx.Done():
				results[i] = failed(task, ctx.Err(), 0)
				return
			}
			defer func() { <-s.pool }() // release slot

			results[i] = s.executeTask(ctx, a, task, in)
		}()
	}

	wg.Wait()
	return results
}

// executeTask runs one agent under the scheduler timeout. A panic inside
// the agent is converted into an error. On timeout the agent goroutine is
// left to observe its cancelled context.
func (s *Scheduler) executeTask(ctx context.Context, a agent.Agent, task *Task, in agent.Input) *TaskResult {
	start := time.Now()

	s.mu.Lock()
	task.StartedAt = &start
	task.Status = TaskRunning
	s.running[task.ID] = task
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type reply struct {
		res *agent.Result
		err error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := a.Analyze(ctx, in)
		done <- reply{res: res, err: err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = ctx.Err()
	}
	if errors.Is(r.err, context.DeadlineExceeded) {
		r.err = fmt.Errorf("timed out after %s: %w", s.timeout, r.err)
	}
	if r.err == nil && r.res == nil {
		r.err = errors.New("no result")
	}

	s.mu.Lock()
	delete(s.running, task.ID)
	s.mu.Unlock()

	if r.err != nil {
		task.Status = TaskFailed
		s.logger.Warn("agent failed",
			zap.String("task", task.ID),
			zap.String("agent", task.Agent),
			zap.Error(r.err))
		return failed(task, r.err, time.Since(start))
	}

	task.Status = TaskDone
	s.logger.Debug("agent done",
		zap.String("task", task.ID),
		zap.String("agent", task.Agent),
		zap.Duration("duration", time.Since(start)))
	return &TaskResult{
		TaskID:   task.ID,
		Agent:    task.Agent,
		Result:   r.res,
		Status:   TaskDone,
		Duration: time.Since(start),
	}
}

func failed(task *Task, err error, d time.Duration) *TaskResult {
	return &TaskResult{
		TaskID:   task.ID,
		Agent:    task.Agent,
		Err:      &AgentError{Agent: task.Agent, Err: err},
		Status:   TaskFailed,
		Duration: d,
	}
}

// Running returns the tasks currently executing.
func (s *Scheduler) Running() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]Task, 0, len(s.running))
	for _, t := range s.running {
		tasks = append(tasks, *t)
	}
	return tasks
}
