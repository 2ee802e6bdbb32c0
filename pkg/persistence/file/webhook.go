package file

import (
	"context"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence"
)

const (
	kindWebhooks      = "webhooks"
	kindSubscriptions = "subscriptions"
)

// WebhookRepository stores webhook trigger records.
type WebhookRepository struct {
	store *Persistence
}

func (r *WebhookRepository) Save(_ context.Context, webhook *models.Webhook) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeEntity(kindWebhooks, webhook.ID, webhook)
}

func (r *WebhookRepository) GetByID(_ context.Context, id string) (*models.Webhook, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.getLocked(id)
}

func (r *WebhookRepository) getLocked(id string) (*models.Webhook, error) {
	webhook := &models.Webhook{}

	err := r.store.readEntity(kindWebhooks, id, webhook)
	if err != nil {
		if notExist(err) {
			return nil, persistence.ErrWebhookNotFound
		}

		return nil, err
	}

	return webhook, nil
}

func (r *WebhookRepository) Delete(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, err := r.getLocked(id); err != nil {
		return err
	}

	return r.store.deleteEntity(kindWebhooks, id)
}

// ByEndpoint returns the active webhook bound to an endpoint ID.
func (r *WebhookRepository) ByEndpoint(_ context.Context, endpointID string) (*models.Webhook, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ids, err := r.store.listIDs(kindWebhooks)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		webhook, err := r.getLocked(id)
		if err != nil {
			return nil, err
		}

		if webhook.EndpointID == endpointID && webhook.IsActive {
			return webhook, nil
		}
	}

	return nil, persistence.ErrWebhookNotFound
}

func (r *WebhookRepository) ForWorkflow(_ context.Context, workflowID string) ([]*models.Webhook, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ids, err := r.store.listIDs(kindWebhooks)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.Webhook, 0)

	for _, id := range ids {
		webhook, err := r.getLocked(id)
		if err != nil {
			return nil, err
		}

		if webhook.WorkflowID == workflowID {
			matched = append(matched, webhook)
		}
	}

	return matched, nil
}

// SubscriptionRepository stores event subscription trigger records.
type SubscriptionRepository struct {
	store *Persistence
}

func (r *SubscriptionRepository) Save(_ context.Context, subscription *models.EventSubscription) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeEntity(kindSubscriptions, subscription.ID, subscription)
}

func (r *SubscriptionRepository) GetByID(_ context.Context, id string) (*models.EventSubscription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.getLocked(id)
}

func (r *SubscriptionRepository) getLocked(id string) (*models.EventSubscription, error) {
	subscription := &models.EventSubscription{}

	err := r.store.readEntity(kindSubscriptions, id, subscription)
	if err != nil {
		if notExist(err) {
			return nil, persistence.ErrSubscriptionNotFound
		}

		return nil, err
	}

	return subscription, nil
}

func (r *SubscriptionRepository) Delete(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, err := r.getLocked(id); err != nil {
		return err
	}

	return r.store.deleteEntity(kindSubscriptions, id)
}

// ForEventType returns the active subscriptions listening on an event type.
func (r *SubscriptionRepository) ForEventType(_ context.Context, eventType string) ([]*models.EventSubscription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ids, err := r.store.listIDs(kindSubscriptions)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.EventSubscription, 0)

	for _, id := range ids {
		subscription, err := r.getLocked(id)
		if err != nil {
			return nil, err
		}

		if subscription.EventType == eventType && subscription.IsActive {
			matched = append(matched, subscription)
		}
	}

	return matched, nil
}

func (r *SubscriptionRepository) ForWorkflow(_ context.Context, workflowID string) ([]*models.EventSubscription, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ids, err := r.store.listIDs(kindSubscriptions)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.EventSubscription, 0)

	for _, id := range ids {
		subscription, err := r.getLocked(id)
		if err != nil {
			return nil, err
		}

		if subscription.WorkflowID == workflowID {
			matched = append(matched, subscription)
		}
	}

	return matched, nil
}
