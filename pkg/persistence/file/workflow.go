package file

import (
	"context"
	"sort"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence"
)

const kindWorkflows = "workflows"

// WorkflowRepository stores workflows as JSON documents.
type WorkflowRepository struct {
	store *Persistence
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeEntity(kindWorkflows, workflow.ID, workflow)
}

func (r *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.getLocked(id)
}

func (r *WorkflowRepository) getLocked(id string) (*models.Workflow, error) {
	workflow := &models.Workflow{}

	err := r.store.readEntity(kindWorkflows, id, workflow)
	if err != nil {
		if notExist(err) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, err
	}

	return workflow, nil
}

func (r *WorkflowRepository) List(_ context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ids, err := r.store.listIDs(kindWorkflows)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := r.getLocked(id)
		if err != nil {
			return nil, err
		}

		if opts.OwnerID != "" && workflow.OwnerID != opts.OwnerID {
			continue
		}

		if opts.TriggerType != "" && workflow.TriggerType != opts.TriggerType {
			continue
		}

		if opts.IsActive != nil && workflow.IsActive != *opts.IsActive {
			continue
		}

		if opts.Tag != "" && !hasTag(workflow.Tags, opts.Tag) {
			continue
		}

		matched = append(matched, workflow)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))

	return &persistence.WorkflowListResult{
		Items: page(matched, opts.Limit, opts.Offset),
		Total: total,
	}, nil
}

func (r *WorkflowRepository) Delete(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, err := r.getLocked(id); err != nil {
		return err
	}

	return r.store.deleteEntity(kindWorkflows, id)
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}

	return false
}

// page applies limit/offset to a sorted slice using the shared pagination
// bounds, so the items returned match the limit the API echoes.
func page[T any](items []T, limit, offset int) []T {
	limit = persistence.ClampPageLimit(limit)

	if offset < 0 {
		offset = 0
	}

	if offset >= len(items) {
		return []T{}
	}

	end := offset + limit
	if end > len(items) {
		end = len(items)
	}

	return items[offset:end]
}
