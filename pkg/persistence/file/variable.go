package file

import (
	"context"
	"time"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence"
)

const kindVariables = "variables"

// VariableRepository stores variables keyed by scope key. The store lock
// serializes upserts so concurrent writers cannot interleave a read-modify-
// write; the surviving value is always exactly one writer's value.
type VariableRepository struct {
	store *Persistence
}

func (r *VariableRepository) Upsert(_ context.Context, variable *models.Variable) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	variable.UpdatedAt = time.Now().UTC()

	return r.store.writeEntity(kindVariables, variable.Key(), variable)
}

func (r *VariableRepository) Get(_ context.Context, scope models.VariableScope, workflowID, name string) (*models.Variable, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	key := (&models.Variable{Scope: scope, WorkflowID: workflowID, Name: name}).Key()

	variable := &models.Variable{}

	err := r.store.readEntity(kindVariables, key, variable)
	if err != nil {
		if notExist(err) {
			return nil, persistence.ErrVariableNotFound
		}

		return nil, err
	}

	return variable, nil
}

func (r *VariableRepository) Delete(_ context.Context, scope models.VariableScope, workflowID, name string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := (&models.Variable{Scope: scope, WorkflowID: workflowID, Name: name}).Key()

	return r.store.deleteEntity(kindVariables, key)
}

// Resolve overlays workflow-scoped variables on top of globals.
func (r *VariableRepository) Resolve(_ context.Context, workflowID string) (map[string]any, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ids, err := r.store.listIDs(kindVariables)
	if err != nil {
		return nil, err
	}

	globals := make(map[string]any)
	scoped := make(map[string]any)

	for _, id := range ids {
		variable := &models.Variable{}
		if err := r.store.readEntity(kindVariables, id, variable); err != nil {
			return nil, err
		}

		switch {
		case variable.Scope == models.ScopeGlobal:
			globals[variable.Name] = variable.Value
		case variable.WorkflowID == workflowID:
			scoped[variable.Name] = variable.Value
		}
	}

	for name, value := range scoped {
		globals[name] = value
	}

	return globals, nil
}
