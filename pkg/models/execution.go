package models

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionWaiting   ExecutionStatus = "waiting"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal executions are
// never mutated again.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}

	return false
}

// CanTransition reports whether moving from s to next respects the monotonic
// state machine pending -> running <-> waiting -> {completed, failed,
// cancelled}.
func (s ExecutionStatus) CanTransition(next ExecutionStatus) bool {
	if s.Terminal() {
		return false
	}

	switch s {
	case ExecutionPending:
		return next == ExecutionRunning || next == ExecutionCancelled
	case ExecutionRunning:
		return next == ExecutionWaiting || next.Terminal()
	case ExecutionWaiting:
		return next == ExecutionRunning || next.Terminal()
	}

	return false
}

// StepStatus is the outcome state of a single step attempt sequence.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult records one step's outcome within an execution. Results are
// append-only and ordered by the step's declared order.
type StepResult struct {
	StepID      string     `json:"step_id"`
	Status      StepStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	Attempts    int        `json:"attempts"`
}

// WorkflowExecution is one run of a workflow's pipeline. It is owned
// independently of the workflow and retained for audit.
//
// ResumeOrder and ResumeAt carry the continuation point while the execution
// is waiting; RunningMS accumulates wall-clock time spent running (waiting
// time excluded) for the overall timeout; CancelRequested is the cooperative
// cancellation flag observed between steps.
type WorkflowExecution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	OwnerID         string          `json:"owner_id"`
	Status          ExecutionStatus `json:"status"`
	TriggerData     map[string]any  `json:"trigger_data,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Error           string          `json:"error,omitempty"`
	TestMode        bool            `json:"test_mode"`
	StepResults     []StepResult    `json:"step_results"`
	ResumeAt        *time.Time      `json:"resume_at,omitempty"`
	ResumeOrder     int             `json:"resume_order"`
	RunningMS       int64           `json:"running_ms"`
	CancelRequested bool            `json:"cancel_requested"`
	PartialFailure  bool            `json:"partial_failure"`
	WorkerID        string          `json:"worker_id,omitempty"`
}

// Duration returns the wall-clock span from start to completion, or zero for
// a non-terminal execution.
func (e *WorkflowExecution) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}

	return e.CompletedAt.Sub(e.StartedAt)
}

// ExecutionStatistics summarizes the execution log, derived on demand so the
// numbers can never drift from the records themselves.
type ExecutionStatistics struct {
	Total           int64                     `json:"total"`
	ByStatus        map[ExecutionStatus]int64 `json:"by_status"`
	AverageDuration time.Duration             `json:"average_duration"`
	SuccessRate     float64                   `json:"success_rate"`
}
