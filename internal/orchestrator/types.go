package orchestrator

import (
	"fmt"
	"time"

	"github.com/nidhogg/aegis-council/internal/agent"
	"github.com/nidhogg/aegis-council/internal/memory"
)

// ActionError is the decision action when analysis could not complete.
const ActionError = "ERROR"

// TaskStatus tracks one agent run.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed"
)

// Task is one agent analyzing one input.
type Task struct {
	ID        string     `json:"id"`
	Agent     string     `json:"agent"`
	Topic     string     `json:"topic"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// TaskResult is the outcome of a task. Exactly one of Result and Err is set.
type TaskResult struct {
	TaskID   string
	Agent    string
	Result   *agent.Result
	Err      error
	Status   TaskStatus
	Duration time.Duration
}

// AgentError reports an agent that failed, panicked or timed out.
type AgentError struct {
	Agent string
	Err   error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// Decision is the council's verdict on a stream record.
type Decision struct {
	Topic            string              `json:"topic"`
	Action           string              `json:"action"`
	AggregateVirtue  agent.VirtueProfile `json:"aggregate_virtue"`
	VirtueAverage    float64             `json:"virtue_average"`
	Volatility       float64             `json:"volatility"`
	AgentCount       int                 `json:"agent_count"`
	Explanation      string              `json:"explanation"`
	Cycle            *memory.CycleResult `json:"cycle,omitempty"`
	Results          []*agent.Result     `json:"results,omitempty"`
	Error            string              `json:"error,omitempty"`
	ProcessingTimeMs float64             `json:"processing_time_ms"`
	DecidedAt        time.Time           `json:"decided_at"`
}

// FraudDecision is the council's verdict on a transaction.
type FraudDecision struct {
	TransactionID    string              `json:"transaction_id"`
	CardID           string              `json:"card_id"`
	Amount           float64             `json:"amount"`
	Merchant         string              `json:"merchant,omitempty"`
	Location         string              `json:"location,omitempty"`
	Action           string              `json:"action"`
	RiskLevel        string              `json:"risk_level,omitempty"`
	Reason           string              `json:"reason,omitempty"`
	VirtueProfile    agent.VirtueProfile `json:"virtue_profile"`
	FraudIndicators  map[string]float64  `json:"fraud_indicators,omitempty"`
	Explanation      string              `json:"explanation"`
	Error            string              `json:"error,omitempty"`
	ProcessingTimeMs float64             `json:"processing_time_ms"`
	DecidedAt        time.Time           `json:"decided_at"`
}

// BatchResult summarizes a batch of fraud decisions.
type BatchResult struct {
	Total         int              `json:"total"`
	Blocked       int              `json:"blocked"`
	Allowed       int              `json:"allowed"`
	Errors        int              `json:"errors"`
	AverageVirtue float64          `json:"avg_virtue"`
	Decisions     []*FraudDecision `json:"decisions"`
}
