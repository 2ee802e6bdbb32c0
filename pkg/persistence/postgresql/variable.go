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

// VariableRepository stores variables keyed by (scope, workflow_id, name).
// Upsert is a single INSERT ... ON CONFLICT so concurrent writers to the
// same key cannot lose an update: the final row always holds exactly one
// writer's value.
type VariableRepository struct {
	db *sql.DB
}

func (r *VariableRepository) Upsert(ctx context.Context, variable *models.Variable) error {
	value, err := marshalJSONB(variable.Value)
	if err != nil {
		return fmt.Errorf("failed to marshal variable value: %w", err)
	}

	workflowID := variable.WorkflowID
	if variable.Scope == models.ScopeGlobal {
		workflowID = ""
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO variables (scope, workflow_id, name, value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scope, workflow_id, name) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`,
		variable.Scope, workflowID, variable.Name, value, time.Now().UTC(),
	)
	if err != nil {
		return persistence.NewStoreError("upsert", "variable", variable.Key(), err)
	}

	return nil
}

func (r *VariableRepository) Get(ctx context.Context, scope models.VariableScope, workflowID, name string) (*models.Variable, error) {
	if scope == models.ScopeGlobal {
		workflowID = ""
	}

	variable := &models.Variable{Scope: scope, WorkflowID: workflowID, Name: name}

	var value []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT value, updated_at FROM variables
		WHERE scope = $1 AND workflow_id = $2 AND name = $3`,
		scope, workflowID, name,
	).Scan(&value, &variable.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrVariableNotFound
		}

		return nil, persistence.NewStoreError("get", "variable", variable.Key(), err)
	}

	if err := unmarshalJSONB(value, &variable.Value); err != nil {
		return nil, err
	}

	return variable, nil
}

func (r *VariableRepository) Delete(ctx context.Context, scope models.VariableScope, workflowID, name string) error {
	if scope == models.ScopeGlobal {
		workflowID = ""
	}

	_, err := r.db.ExecContext(ctx, `
		DELETE FROM variables WHERE scope = $1 AND workflow_id = $2 AND name = $3`,
		scope, workflowID, name)
	if err != nil {
		return persistence.NewStoreError("delete", "variable", name, err)
	}

	return nil
}

func (r *VariableRepository) Resolve(ctx context.Context, workflowID string) (map[string]any, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT scope, name, value FROM variables
		WHERE scope = 'global' OR (scope = 'workflow' AND workflow_id = $1)
		ORDER BY scope ASC`, workflowID)
	if err != nil {
		return nil, persistence.NewStoreError("resolve", "variable", workflowID, err)
	}
	defer rows.Close()

	// 'global' sorts before 'workflow', so workflow-scoped values overwrite
	// globals of the same name.
	resolved := make(map[string]any)

	for rows.Next() {
		var (
			scope models.VariableScope
			name  string
			raw   []byte
		)

		if err := rows.Scan(&scope, &name, &raw); err != nil {
			return nil, persistence.NewStoreError("resolve", "variable", workflowID, err)
		}

		var value any
		if err := unmarshalJSONB(raw, &value); err != nil {
			return nil, err
		}

		resolved[name] = value
	}

	return resolved, rows.Err()
}
