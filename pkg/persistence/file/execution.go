package file

import (
	"context"
	"sort"
	"time"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence"
)

const kindExecutions = "executions"

// ExecutionRepository stores the execution log. The store lock makes Claim,
// ClaimResume, and RequestCancel atomic.
type ExecutionRepository struct {
	store *Persistence
}

func (r *ExecutionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeEntity(kindExecutions, execution.ID, execution)
}

func (r *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.getLocked(id)
}

func (r *ExecutionRepository) getLocked(id string) (*models.WorkflowExecution, error) {
	execution := &models.WorkflowExecution{}

	err := r.store.readEntity(kindExecutions, id, execution)
	if err != nil {
		if notExist(err) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, err
	}

	return execution, nil
}

func (r *ExecutionRepository) List(_ context.Context, opts persistence.ListExecutionsOptions) (*persistence.ExecutionListResult, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	all, err := r.allLocked()
	if err != nil {
		return nil, err
	}

	matched := make([]*models.WorkflowExecution, 0, len(all))

	for _, execution := range all {
		if opts.WorkflowID != "" && execution.WorkflowID != opts.WorkflowID {
			continue
		}

		if opts.OwnerID != "" && execution.OwnerID != opts.OwnerID {
			continue
		}

		if opts.Status != "" && execution.Status != opts.Status {
			continue
		}

		matched = append(matched, execution)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	return &persistence.ExecutionListResult{
		Items: page(matched, opts.Limit, opts.Offset),
		Total: int64(len(matched)),
	}, nil
}

func (r *ExecutionRepository) Claim(_ context.Context, id, workerID string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	execution, err := r.getLocked(id)
	if err != nil {
		return false, err
	}

	if execution.Status != models.ExecutionPending {
		return false, nil
	}

	execution.Status = models.ExecutionRunning
	execution.WorkerID = workerID

	return true, r.store.writeEntity(kindExecutions, id, execution)
}

func (r *ExecutionRepository) ClaimResume(_ context.Context, id, workerID string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	execution, err := r.getLocked(id)
	if err != nil {
		return false, err
	}

	if execution.Status != models.ExecutionWaiting {
		return false, nil
	}

	execution.Status = models.ExecutionRunning
	execution.WorkerID = workerID
	execution.ResumeAt = nil

	return true, r.store.writeEntity(kindExecutions, id, execution)
}

func (r *ExecutionRepository) RequestCancel(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	execution, err := r.getLocked(id)
	if err != nil {
		return nil, err
	}

	if execution.Status.Terminal() {
		return nil, persistence.ErrTerminalExecution
	}

	execution.CancelRequested = true

	// Pending and waiting executions have no worker to observe the flag;
	// cancel them outright instead of leaving them parked until claim or
	// resumption.
	if execution.Status == models.ExecutionPending || execution.Status == models.ExecutionWaiting {
		now := time.Now().UTC()
		execution.Status = models.ExecutionCancelled
		execution.CompletedAt = &now
		execution.ResumeAt = nil
	}

	if err := r.store.writeEntity(kindExecutions, id, execution); err != nil {
		return nil, err
	}

	return execution, nil
}

func (r *ExecutionRepository) DueResumptions(_ context.Context, now time.Time) ([]*models.WorkflowExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	all, err := r.allLocked()
	if err != nil {
		return nil, err
	}

	due := make([]*models.WorkflowExecution, 0)

	for _, execution := range all {
		if execution.Status != models.ExecutionWaiting || execution.ResumeAt == nil {
			continue
		}

		if !execution.ResumeAt.After(now) {
			due = append(due, execution)
		}
	}

	return due, nil
}

func (r *ExecutionRepository) Statistics(_ context.Context, workflowID string) (*models.ExecutionStatistics, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	all, err := r.allLocked()
	if err != nil {
		return nil, err
	}

	stats := &models.ExecutionStatistics{
		ByStatus: make(map[models.ExecutionStatus]int64),
	}

	var (
		completed       int64
		durationSamples int64
		totalDuration   time.Duration
	)

	for _, execution := range all {
		if workflowID != "" && execution.WorkflowID != workflowID {
			continue
		}

		stats.Total++
		stats.ByStatus[execution.Status]++

		// Only rows with a completion timestamp contribute a duration.
		if execution.Status.Terminal() && execution.CompletedAt != nil {
			totalDuration += execution.Duration()
			durationSamples++
		}

		if execution.Status == models.ExecutionCompleted {
			completed++
		}
	}

	terminal := stats.ByStatus[models.ExecutionCompleted] +
		stats.ByStatus[models.ExecutionFailed] +
		stats.ByStatus[models.ExecutionCancelled]

	if durationSamples > 0 {
		stats.AverageDuration = totalDuration / time.Duration(durationSamples)
	}

	if terminal > 0 {
		stats.SuccessRate = float64(completed) / float64(terminal)
	}

	return stats, nil
}

func (r *ExecutionRepository) Purge(_ context.Context, workflowID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	all, err := r.allLocked()
	if err != nil {
		return err
	}

	for _, execution := range all {
		if execution.WorkflowID != workflowID {
			continue
		}

		if err := r.store.deleteEntity(kindExecutions, execution.ID); err != nil {
			return err
		}
	}

	return nil
}

func (r *ExecutionRepository) allLocked() ([]*models.WorkflowExecution, error) {
	ids, err := r.store.listIDs(kindExecutions)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0, len(ids))

	for _, id := range ids {
		execution, err := r.getLocked(id)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, nil
}
