package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence"
)

// WorkflowRepository stores workflows with steps and conditions as JSONB.
type WorkflowRepository struct {
	db *sql.DB
}

const workflowColumns = `id, owner_id, name, trigger_type, trigger_config, actions, conditions,
	is_active, tags, metadata, created_at, updated_at`

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	triggerConfig, err := marshalJSONB(workflow.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	actions, err := marshalJSONB(workflow.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	conditions, err := marshalJSONB(workflow.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	tags, err := marshalJSONB(workflow.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	metadata, err := marshalJSONB(workflow.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflows (`+workflowColumns+`)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, '[]'::jsonb), $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			trigger_type = EXCLUDED.trigger_type,
			trigger_config = EXCLUDED.trigger_config,
			actions = EXCLUDED.actions,
			conditions = EXCLUDED.conditions,
			is_active = EXCLUDED.is_active,
			tags = EXCLUDED.tags,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`,
		workflow.ID, workflow.OwnerID, workflow.Name, workflow.TriggerType,
		triggerConfig, actions, conditions, workflow.IsActive, tags, metadata,
		workflow.CreatedAt, workflow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("save", "workflow", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, persistence.NewStoreError("get", "workflow", id, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	limit := persistence.ClampPageLimit(opts.Limit)

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	where := "WHERE 1=1"
	args := []any{}

	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		where += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}

	if opts.TriggerType != "" {
		args = append(args, string(opts.TriggerType))
		where += fmt.Sprintf(" AND trigger_type = $%d", len(args))
	}

	if opts.IsActive != nil {
		args = append(args, *opts.IsActive)
		where += fmt.Sprintf(" AND is_active = $%d", len(args))
	}

	if opts.Tag != "" {
		args = append(args, fmt.Sprintf(`["%s"]`, opts.Tag))
		where += fmt.Sprintf(" AND tags @> $%d::jsonb", len(args))
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows "+where, args...).Scan(&total); err != nil {
		return nil, persistence.NewStoreError("list", "workflow", "", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT `+workflowColumns+` FROM workflows %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewStoreError("list", "workflow", "", err)
	}
	defer rows.Close()

	items := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, persistence.NewStoreError("list", "workflow", "", err)
		}

		items = append(items, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewStoreError("list", "workflow", "", err)
	}

	return &persistence.WorkflowListResult{Items: items, Total: total}, nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return persistence.NewStoreError("delete", "workflow", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("delete", "workflow", id, err)
	}

	if affected == 0 {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	workflow := &models.Workflow{}

	var triggerConfig, actions, conditions, tags, metadata []byte

	err := row.Scan(
		&workflow.ID, &workflow.OwnerID, &workflow.Name, &workflow.TriggerType,
		&triggerConfig, &actions, &conditions, &workflow.IsActive, &tags,
		&metadata, &workflow.CreatedAt, &workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(triggerConfig, &workflow.TriggerConfig); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(actions, &workflow.Actions); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(conditions, &workflow.Conditions); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(tags, &workflow.Tags); err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(metadata, &workflow.Metadata); err != nil {
		return nil, err
	}

	return workflow, nil
}
