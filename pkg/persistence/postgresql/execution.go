package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence"
)

// ExecutionRepository stores the execution log. Claim, ClaimResume, and
// RequestCancel are single UPDATE statements so exactly one engine instance
// wins each transition.
type ExecutionRepository struct {
	db *sql.DB
}

const executionColumns = `id, workflow_id, owner_id, status, trigger_data, started_at, completed_at,
	error, test_mode, step_results, resume_at, resume_order, running_ms,
	cancel_requested, partial_failure, worker_id`

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	triggerData, err := marshalJSONB(execution.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	stepResults, err := marshalJSONB(execution.StepResults)
	if err != nil {
		return fmt.Errorf("failed to marshal step results: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, '[]'::jsonb), $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			error = EXCLUDED.error,
			step_results = EXCLUDED.step_results,
			resume_at = EXCLUDED.resume_at,
			resume_order = EXCLUDED.resume_order,
			running_ms = EXCLUDED.running_ms,
			cancel_requested = EXCLUDED.cancel_requested,
			partial_failure = EXCLUDED.partial_failure,
			worker_id = EXCLUDED.worker_id`,
		execution.ID, execution.WorkflowID, execution.OwnerID, execution.Status,
		triggerData, execution.StartedAt, nullTime(execution.CompletedAt),
		nullString(execution.Error), execution.TestMode, stepResults,
		nullTime(execution.ResumeAt), execution.ResumeOrder, execution.RunningMS,
		execution.CancelRequested, execution.PartialFailure, nullString(execution.WorkerID),
	)
	if err != nil {
		return persistence.NewStoreError("save", "execution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, persistence.NewStoreError("get", "execution", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) (*persistence.ExecutionListResult, error) {
	limit := persistence.ClampPageLimit(opts.Limit)

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	where := "WHERE 1=1"
	args := []any{}

	if opts.WorkflowID != "" {
		args = append(args, opts.WorkflowID)
		where += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}

	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		where += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}

	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_executions "+where, args...).Scan(&total); err != nil {
		return nil, persistence.NewStoreError("list", "execution", "", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT `+executionColumns+` FROM workflow_executions %s
		ORDER BY started_at DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewStoreError("list", "execution", "", err)
	}
	defer rows.Close()

	items := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, persistence.NewStoreError("list", "execution", "", err)
		}

		items = append(items, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("list", "execution", "", err)
	}

	return &persistence.ExecutionListResult{Items: items, Total: total}, nil
}

func (r *ExecutionRepository) Claim(ctx context.Context, id, workerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions SET status = 'running', worker_id = $2
		WHERE id = $1 AND status = 'pending'`, id, workerID)
	if err != nil {
		return false, persistence.NewStoreError("claim", "execution", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewStoreError("claim", "execution", id, err)
	}

	return affected == 1, nil
}

func (r *ExecutionRepository) ClaimResume(ctx context.Context, id, workerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions SET status = 'running', worker_id = $2, resume_at = NULL
		WHERE id = $1 AND status = 'waiting'`, id, workerID)
	if err != nil {
		return false, persistence.NewStoreError("claim_resume", "execution", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewStoreError("claim_resume", "execution", id, err)
	}

	return affected == 1, nil
}

func (r *ExecutionRepository) RequestCancel(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	// Pending and waiting executions have no worker to observe the flag;
	// cancel them outright instead of leaving them parked until claim or
	// resumption.
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions SET
			cancel_requested = true,
			status = CASE WHEN status IN ('pending', 'waiting') THEN 'cancelled' ELSE status END,
			completed_at = CASE WHEN status IN ('pending', 'waiting') THEN NOW() ELSE completed_at END,
			resume_at = CASE WHEN status IN ('pending', 'waiting') THEN NULL ELSE resume_at END
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`, id)
	if err != nil {
		return nil, persistence.NewStoreError("cancel", "execution", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, persistence.NewStoreError("cancel", "execution", id, err)
	}

	if affected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}

		return nil, persistence.ErrTerminalExecution
	}

	return r.GetByID(ctx, id)
}

func (r *ExecutionRepository) DueResumptions(ctx context.Context, now time.Time) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM workflow_executions
		WHERE status = 'waiting' AND resume_at IS NOT NULL AND resume_at <= $1
		ORDER BY resume_at ASC`, now)
	if err != nil {
		return nil, persistence.NewStoreError("due_resumptions", "execution", "", err)
	}
	defer rows.Close()

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, persistence.NewStoreError("due_resumptions", "execution", "", err)
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

func (r *ExecutionRepository) Statistics(ctx context.Context, workflowID string) (*models.ExecutionStatistics, error) {
	where := ""
	args := []any{}

	if workflowID != "" {
		where = "WHERE workflow_id = $1"
		args = append(args, workflowID)
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT status, COUNT(*), COUNT(completed_at),
			COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at))) FILTER (WHERE completed_at IS NOT NULL), 0)
		FROM workflow_executions %s GROUP BY status`, where), args...)
	if err != nil {
		return nil, persistence.NewStoreError("statistics", "execution", workflowID, err)
	}
	defer rows.Close()

	stats := &models.ExecutionStatistics{
		ByStatus: make(map[models.ExecutionStatus]int64),
	}

	var (
		terminal        int64
		durationSamples int64
		totalDuration   time.Duration
	)

	for rows.Next() {
		var (
			status         models.ExecutionStatus
			count          int64
			completedCount int64
			avgSeconds     float64
		)

		if err := rows.Scan(&status, &count, &completedCount, &avgSeconds); err != nil {
			return nil, persistence.NewStoreError("statistics", "execution", workflowID, err)
		}

		stats.Total += count
		stats.ByStatus[status] = count

		// Only rows with a completion timestamp contribute a duration.
		if status.Terminal() {
			terminal += count
			durationSamples += completedCount
			totalDuration += time.Duration(avgSeconds*float64(completedCount)) * time.Second
		}
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("statistics", "execution", workflowID, err)
	}

	if durationSamples > 0 {
		stats.AverageDuration = totalDuration / time.Duration(durationSamples)
	}

	if terminal > 0 {
		stats.SuccessRate = float64(stats.ByStatus[models.ExecutionCompleted]) / float64(terminal)
	}

	return stats, nil
}

func (r *ExecutionRepository) Purge(ctx context.Context, workflowID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM workflow_executions WHERE workflow_id = $1", workflowID)
	if err != nil {
		return persistence.NewStoreError("purge", "execution", workflowID, err)
	}

	return nil
}

func scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	execution := &models.WorkflowExecution{}

	var (
		triggerData, stepResults []byte
		completedAt, resumeAt    sql.NullTime
		errMsg, workerID         sql.NullString
	)

	err := row.Scan(
		&execution.ID, &execution.WorkflowID, &execution.OwnerID, &execution.Status,
		&triggerData, &execution.StartedAt, &completedAt, &errMsg,
		&execution.TestMode, &stepResults, &resumeAt, &execution.ResumeOrder,
		&execution.RunningMS, &execution.CancelRequested, &execution.PartialFailure,
		&workerID,
	)
	if err != nil {
		return nil, err
	}

	execution.CompletedAt = timePtr(completedAt)
	execution.ResumeAt = timePtr(resumeAt)
	execution.Error = errMsg.String
	execution.WorkerID = workerID.String

	if err := unmarshalJSONB(triggerData, &execution.TriggerData); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(stepResults, &execution.StepResults); err != nil {
		return nil, err
	}

	return execution, nil
}
