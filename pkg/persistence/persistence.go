// Package persistence provides the data storage abstraction for workflow
// definitions, trigger side records, variables, and the execution log.
package persistence

import (
	"context"
	"time"

	"github.com/mstairs/flowline/pkg/models"
)

// Persistence is the root storage interface. Implementations must provide
// the atomicity guarantees called out on the individual repositories: the
// execution claim, the variable upsert, and the schedule next-run fence are
// compare-and-set operations, not read-modify-write on the caller's side.
type Persistence interface {
	Workflows() WorkflowRepository
	Executions() ExecutionRepository
	Schedules() ScheduleRepository
	Webhooks() WebhookRepository
	Subscriptions() SubscriptionRepository
	Variables() VariableRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Pagination bounds shared by every store and the HTTP layer. Oversized
// limits clamp to MaxPageLimit; non-positive limits fall back to the
// default.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// ClampPageLimit normalizes a requested page limit to the shared bounds.
func ClampPageLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}

	if limit > MaxPageLimit {
		return MaxPageLimit
	}

	return limit
}

// ListWorkflowsOptions filters and paginates workflow listings.
type ListWorkflowsOptions struct {
	OwnerID     string
	TriggerType models.TriggerType
	IsActive    *bool
	Tag         string
	Limit       int
	Offset      int
}

// WorkflowListResult carries one page plus the unpaginated total.
type WorkflowListResult struct {
	Items []*models.Workflow
	Total int64
}

// WorkflowRepository stores the workflow aggregate.
type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	List(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)
	Delete(ctx context.Context, id string) error
}

// ListExecutionsOptions filters and paginates the execution log.
type ListExecutionsOptions struct {
	WorkflowID string
	OwnerID    string
	Status     models.ExecutionStatus
	Limit      int
	Offset     int
}

// ExecutionListResult carries one page plus the unpaginated total.
type ExecutionListResult struct {
	Items []*models.WorkflowExecution
	Total int64
}

// ExecutionRepository stores the append-oriented execution log.
type ExecutionRepository interface {
	Save(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	List(ctx context.Context, opts ListExecutionsOptions) (*ExecutionListResult, error)

	// Claim atomically transitions one pending execution to running on
	// behalf of workerID. Exactly one concurrent caller wins; the rest get
	// false.
	Claim(ctx context.Context, id, workerID string) (bool, error)

	// ClaimResume atomically transitions one waiting execution back to
	// running, clearing its resume timestamp.
	ClaimResume(ctx context.Context, id, workerID string) (bool, error)

	// RequestCancel sets the cooperative cancellation flag unless the
	// execution already reached a terminal state. A pending execution is
	// cancelled outright.
	RequestCancel(ctx context.Context, id string) (*models.WorkflowExecution, error)

	// DueResumptions returns waiting executions whose resume time has
	// passed.
	DueResumptions(ctx context.Context, now time.Time) ([]*models.WorkflowExecution, error)

	// Statistics derives counts, average duration, and success rate from
	// the log. An empty workflowID aggregates over all workflows.
	Statistics(ctx context.Context, workflowID string) (*models.ExecutionStatistics, error)

	// Purge hard-deletes the execution history of a workflow. Owner
	// initiated only; everything else is retained for audit.
	Purge(ctx context.Context, workflowID string) error
}

// ScheduleRepository stores schedule trigger records.
type ScheduleRepository interface {
	Save(ctx context.Context, schedule *models.Schedule) error
	GetByID(ctx context.Context, id string) (*models.Schedule, error)
	Delete(ctx context.Context, id string) error
	ActiveSchedules(ctx context.Context) ([]*models.Schedule, error)
	ForWorkflow(ctx context.Context, workflowID string) ([]*models.Schedule, error)

	// AdvanceNextRun moves next_run_at from an expected value to the next
	// occurrence, returning false when the stored value no longer matches.
	// The dispatcher fences on this before enqueuing so a duplicate tick
	// cannot double-fire an occurrence.
	AdvanceNextRun(ctx context.Context, id string, from, to time.Time) (bool, error)
}

// WebhookRepository stores webhook trigger records.
type WebhookRepository interface {
	Save(ctx context.Context, webhook *models.Webhook) error
	GetByID(ctx context.Context, id string) (*models.Webhook, error)
	Delete(ctx context.Context, id string) error
	ByEndpoint(ctx context.Context, endpointID string) (*models.Webhook, error)
	ForWorkflow(ctx context.Context, workflowID string) ([]*models.Webhook, error)
}

// SubscriptionRepository stores event subscription trigger records.
type SubscriptionRepository interface {
	Save(ctx context.Context, subscription *models.EventSubscription) error
	GetByID(ctx context.Context, id string) (*models.EventSubscription, error)
	Delete(ctx context.Context, id string) error
	ForEventType(ctx context.Context, eventType string) ([]*models.EventSubscription, error)
	ForWorkflow(ctx context.Context, workflowID string) ([]*models.EventSubscription, error)
}

// VariableRepository stores workflow and global variables.
type VariableRepository interface {
	// Upsert writes the variable atomically by its scope key. Concurrent
	// upserts to the same key serialize; the surviving value is always one
	// of the written values.
	Upsert(ctx context.Context, variable *models.Variable) error

	Get(ctx context.Context, scope models.VariableScope, workflowID, name string) (*models.Variable, error)
	Delete(ctx context.Context, scope models.VariableScope, workflowID, name string) error

	// Resolve returns globals overlaid with the workflow's own variables,
	// ready for an execution context.
	Resolve(ctx context.Context, workflowID string) (map[string]any, error)
}
