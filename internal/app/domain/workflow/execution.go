package workflow

import "time"

// Per-node execution statuses.
const (
	NodeStatusPending = "pending"
	NodeStatusRunning = "running"
	NodeStatusSuccess = "success"
	NodeStatusError   = "error"
	NodeStatusSkipped = "skipped"
)

// Run-level execution statuses.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// NodeExecutionResult records one node's visit within a run. A result is
// created pending, moves to running immediately before invocation, and then
// to exactly one terminal state; it never transitions afterwards.
type NodeExecutionResult struct {
	NodeID      string    `json:"nodeId"`
	NodeLabel   string    `json:"nodeLabel"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	DurationMs  int64     `json:"durationMs"`
	Output      any       `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// ExecutionResult is the terminal record of one workflow run. Node results
// appear in visitation order.
type ExecutionResult struct {
	ID          string                `json:"id"`
	WorkflowID  string                `json:"workflowId"`
	Status      string                `json:"status"`
	StartedAt   time.Time             `json:"startedAt"`
	CompletedAt *time.Time            `json:"completedAt,omitempty"`
	Nodes       []NodeExecutionResult `json:"nodes"`
}

// ExecutionContext is the mutable, run-scoped variable store shared by every
// node invocation within one run. It is created per run and discarded at run
// end; nothing persists across runs.
type ExecutionContext struct {
	Variables map[string]any
}

// NewExecutionContext seeds a context from a workflow's default variables.
// The seed map is copied so runs never share state.
func NewExecutionContext(seed map[string]any) *ExecutionContext {
	vars := make(map[string]any, len(seed))
	for k, v := range seed {
		vars[k] = v
	}
	return &ExecutionContext{Variables: vars}
}
