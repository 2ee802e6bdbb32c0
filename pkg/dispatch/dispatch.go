// Package dispatch converts external stimuli into enqueued executions: the
// schedule tick, inbound webhook deliveries, and domain event fan-out. The
// dispatcher only enqueues; it never runs action handlers, so a slow
// handler cannot stall scheduling.
package dispatch

import (
	"context"

	"github.com/mstairs/flowline/pkg/models"
)

// Enqueuer is the single convergence point for all trigger paths.
type Enqueuer interface {
	Enqueue(ctx context.Context, workflowID string, triggerData map[string]any, testMode bool) (*models.WorkflowExecution, error)
}
