package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence"
)

// WebhookRepository stores webhook trigger records. A partial unique index
// guarantees at most one active webhook per endpoint.
type WebhookRepository struct {
	db *sql.DB
}

const webhookColumns = `id, workflow_id, endpoint_id, secret, is_active, created_at, updated_at`

func (r *WebhookRepository) Save(ctx context.Context, webhook *models.Webhook) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhooks (`+webhookColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			endpoint_id = EXCLUDED.endpoint_id,
			secret = EXCLUDED.secret,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		webhook.ID, webhook.WorkflowID, webhook.EndpointID, nullString(webhook.Secret),
		webhook.IsActive, webhook.CreatedAt, webhook.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("save", "webhook", webhook.ID, err)
	}

	return nil
}

func (r *WebhookRepository) GetByID(ctx context.Context, id string) (*models.Webhook, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id)

	webhook, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWebhookNotFound
		}

		return nil, persistence.NewStoreError("get", "webhook", id, err)
	}

	return webhook, nil
}

func (r *WebhookRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM webhooks WHERE id = $1", id)
	if err != nil {
		return persistence.NewStoreError("delete", "webhook", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("delete", "webhook", id, err)
	}

	if affected == 0 {
		return persistence.ErrWebhookNotFound
	}

	return nil
}

func (r *WebhookRepository) ByEndpoint(ctx context.Context, endpointID string) (*models.Webhook, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+webhookColumns+` FROM webhooks WHERE endpoint_id = $1 AND is_active`, endpointID)

	webhook, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWebhookNotFound
		}

		return nil, persistence.NewStoreError("by_endpoint", "webhook", endpointID, err)
	}

	return webhook, nil
}

func (r *WebhookRepository) ForWorkflow(ctx context.Context, workflowID string) ([]*models.Webhook, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+webhookColumns+` FROM webhooks WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return nil, persistence.NewStoreError("for_workflow", "webhook", workflowID, err)
	}
	defer rows.Close()

	webhooks := make([]*models.Webhook, 0)

	for rows.Next() {
		webhook, err := scanWebhook(rows)
		if err != nil {
			return nil, persistence.NewStoreError("for_workflow", "webhook", workflowID, err)
		}

		webhooks = append(webhooks, webhook)
	}

	return webhooks, rows.Err()
}

func scanWebhook(row rowScanner) (*models.Webhook, error) {
	webhook := &models.Webhook{}

	var secret sql.NullString

	err := row.Scan(
		&webhook.ID, &webhook.WorkflowID, &webhook.EndpointID, &secret,
		&webhook.IsActive, &webhook.CreatedAt, &webhook.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	webhook.Secret = secret.String

	return webhook, nil
}

// SubscriptionRepository stores event subscription records.
type SubscriptionRepository struct {
	db *sql.DB
}

const subscriptionColumns = `id, workflow_id, event_type, event_filters, is_active, created_at, updated_at`

func (r *SubscriptionRepository) Save(ctx context.Context, subscription *models.EventSubscription) error {
	filters, err := marshalJSONB(subscription.EventFilters)
	if err != nil {
		return fmt.Errorf("failed to marshal event filters: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO event_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			event_type = EXCLUDED.event_type,
			event_filters = EXCLUDED.event_filters,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		subscription.ID, subscription.WorkflowID, subscription.EventType, filters,
		subscription.IsActive, subscription.CreatedAt, subscription.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("save", "subscription", subscription.ID, err)
	}

	return nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (*models.EventSubscription, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM event_subscriptions WHERE id = $1`, id)

	subscription, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSubscriptionNotFound
		}

		return nil, persistence.NewStoreError("get", "subscription", id, err)
	}

	return subscription, nil
}

func (r *SubscriptionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM event_subscriptions WHERE id = $1", id)
	if err != nil {
		return persistence.NewStoreError("delete", "subscription", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewStoreError("delete", "subscription", id, err)
	}

	if affected == 0 {
		return persistence.ErrSubscriptionNotFound
	}

	return nil
}

func (r *SubscriptionRepository) ForEventType(ctx context.Context, eventType string) ([]*models.EventSubscription, error) {
	return r.query(ctx, `
		SELECT `+subscriptionColumns+` FROM event_subscriptions
		WHERE event_type = $1 AND is_active`, eventType)
}

func (r *SubscriptionRepository) ForWorkflow(ctx context.Context, workflowID string) ([]*models.EventSubscription, error) {
	return r.query(ctx, `
		SELECT `+subscriptionColumns+` FROM event_subscriptions WHERE workflow_id = $1`, workflowID)
}

func (r *SubscriptionRepository) query(ctx context.Context, query string, args ...any) ([]*models.EventSubscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewStoreError("query", "subscription", "", err)
	}
	defer rows.Close()

	subscriptions := make([]*models.EventSubscription, 0)

	for rows.Next() {
		subscription, err := scanSubscription(rows)
		if err != nil {
			return nil, persistence.NewStoreError("query", "subscription", "", err)
		}

		subscriptions = append(subscriptions, subscription)
	}

	return subscriptions, rows.Err()
}

func scanSubscription(row rowScanner) (*models.EventSubscription, error) {
	subscription := &models.EventSubscription{}

	var filters []byte

	err := row.Scan(
		&subscription.ID, &subscription.WorkflowID, &subscription.EventType, &filters,
		&subscription.IsActive, &subscription.CreatedAt, &subscription.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(filters, &subscription.EventFilters); err != nil {
		return nil, err
	}

	return subscription, nil
}
