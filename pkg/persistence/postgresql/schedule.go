package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence"
)

// ScheduleRepository stores schedule trigger records. AdvanceNextRun fences
// on the stored next_run_at in a single UPDATE.
type ScheduleRepository struct {
	db *sql.DB
}

const scheduleColumns = `id, workflow_id, cron_expression, timezone, next_run_at, starts_at,
	ends_at, is_active, created_at, updated_at`

func (r *ScheduleRepository) Save(ctx context.Context, schedule *models.Schedule) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			cron_expression = EXCLUDED.cron_expression,
			timezone = EXCLUDED.timezone,
			next_run_at = EXCLUDED.next_run_at,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		schedule.ID, schedule.WorkflowID, schedule.CronExpression, schedule.Timezone,
		schedule.NextRunAt, nullTime(schedule.StartsAt), nullTime(schedule.EndsAt),
		schedule.IsActive, schedule.CreatedAt, schedule.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("save", "schedule", schedule.ID, err)
	}

	return nil
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*models.Schedule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)

	schedule, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrScheduleNotFound
		}

		return nil, persistence.NewStoreError("get", "schedule", id, err)
	}

	return schedule, nil
}

func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = $1", id)
	if err != nil {
		return persistence.NewStoreError("delete", "schedule", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("delete", "schedule", id, err)
	}

	if affected == 0 {
		return persistence.ErrScheduleNotFound
	}

	return nil
}

func (r *ScheduleRepository) ActiveSchedules(ctx context.Context) ([]*models.Schedule, error) {
	return r.query(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE is_active ORDER BY next_run_at ASC`)
}

func (r *ScheduleRepository) ForWorkflow(ctx context.Context, workflowID string) ([]*models.Schedule, error) {
	return r.query(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE workflow_id = $1`, workflowID)
}

func (r *ScheduleRepository) AdvanceNextRun(ctx context.Context, id string, from, to time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE schedules SET next_run_at = $3, updated_at = NOW()
		WHERE id = $1 AND next_run_at = $2`, id, from, to)
	if err != nil {
		return false, persistence.NewStoreError("advance", "schedule", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewStoreError("advance", "schedule", id, err)
	}

	return affected == 1, nil
}

func (r *ScheduleRepository) query(ctx context.Context, query string, args ...any) ([]*models.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewStoreError("query", "schedule", "", err)
	}
	defer rows.Close()

	schedules := make([]*models.Schedule, 0)

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, persistence.NewStoreError("query", "schedule", "", err)
		}

		schedules = append(schedules, schedule)
	}

	return schedules, rows.Err()
}

func scanSchedule(row rowScanner) (*models.Schedule, error) {
	schedule := &models.Schedule{}

	var startsAt, endsAt sql.NullTime

	err := row.Scan(
		&schedule.ID, &schedule.WorkflowID, &schedule.CronExpression, &schedule.Timezone,
		&schedule.NextRunAt, &startsAt, &endsAt, &schedule.IsActive,
		&schedule.CreatedAt, &schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	schedule.StartsAt = timePtr(startsAt)
	schedule.EndsAt = timePtr(endsAt)

	return schedule, nil
}
