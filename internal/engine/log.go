package engine

import "time"

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
)

// FinalState is the terminal state of one plan execution.
type FinalState string

const (
	FinalCompleted FinalState = "completed"
	FinalFailed    FinalState = "failed"
)

// StepResult records one step. Input is the resolved input; it is nil when
// resolution itself failed.
type StepResult struct {
	Index      int            `json:"step"`
	ToolName   string         `json:"tool_name"`
	Input      map[string]any `json:"tool_input"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Status     StepStatus     `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	ElapsedMS  int64          `json:"elapsed_ms"`
}

// FinalStatus summarises an execution. AtStep is set only on failure.
type FinalStatus struct {
	Status FinalState `json:"status"`
	Reason string     `json:"reason,omitempty"`
	AtStep *int       `json:"at_step,omitempty"`
}

// ExecutionLog is the complete record of one plan execution. It is built by
// Execute and not modified afterwards.
type ExecutionLog struct {
	TaskID      string       `json:"task_id"`
	Steps       []StepResult `json:"steps"`
	FinalStatus FinalStatus  `json:"final_status"`
	ContextKeys []string     `json:"context_keys"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// Completed reports whether every step succeeded.
func (l *ExecutionLog) Completed() bool {
	return l != nil && l.FinalStatus.Status == FinalCompleted
}
