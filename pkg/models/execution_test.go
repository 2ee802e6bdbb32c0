package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecutionStatus_Terminal(t *testing.T) {
	assert.False(t, ExecutionPending.Terminal())
	assert.False(t, ExecutionRunning.Terminal())
	assert.False(t, ExecutionWaiting.Terminal())
	assert.True(t, ExecutionCompleted.Terminal())
	assert.True(t, ExecutionFailed.Terminal())
	assert.True(t, ExecutionCancelled.Terminal())
}

func TestExecutionStatus_CanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    ExecutionStatus
		to      ExecutionStatus
		allowed bool
	}{
		{"pending to running", ExecutionPending, ExecutionRunning, true},
		{"pending to cancelled", ExecutionPending, ExecutionCancelled, true},
		{"pending to completed", ExecutionPending, ExecutionCompleted, false},
		{"pending to waiting", ExecutionPending, ExecutionWaiting, false},
		{"running to waiting", ExecutionRunning, ExecutionWaiting, true},
		{"running to completed", ExecutionRunning, ExecutionCompleted, true},
		{"running to failed", ExecutionRunning, ExecutionFailed, true},
		{"running to cancelled", ExecutionRunning, ExecutionCancelled, true},
		{"running to pending", ExecutionRunning, ExecutionPending, false},
		{"waiting to running", ExecutionWaiting, ExecutionRunning, true},
		{"waiting to cancelled", ExecutionWaiting, ExecutionCancelled, true},
		{"waiting to pending", ExecutionWaiting, ExecutionPending, false},
		{"completed is final", ExecutionCompleted, ExecutionRunning, false},
		{"failed is final", ExecutionFailed, ExecutionCancelled, false},
		{"cancelled is final", ExecutionCancelled, ExecutionRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestWorkflowExecution_Duration(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)

	execution := &WorkflowExecution{StartedAt: started}
	assert.Zero(t, execution.Duration())

	execution.CompletedAt = &completed
	assert.Equal(t, 90*time.Second, execution.Duration())
}
