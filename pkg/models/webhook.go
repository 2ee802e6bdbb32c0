package models

import "time"

// Webhook is the trigger side record for a webhook-triggered workflow. The
// endpoint ID is the public path segment inbound requests address; Secret,
// when set, is the shared HMAC-SHA256 key requests must sign the raw payload
// with. At most one active Webhook exists per workflow.
type Webhook struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id" validate:"required"`
	EndpointID string    `json:"endpoint_id" validate:"required"`
	Secret     string    `json:"secret,omitempty"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EventSubscription is a trigger side record binding a workflow to a domain
// event type. EventFilters are field -> expected value checks against the
// event payload; all must match. An event-triggered workflow may hold many
// subscriptions (fan-in from multiple event types).
type EventSubscription struct {
	ID           string         `json:"id"`
	WorkflowID   string         `json:"workflow_id" validate:"required"`
	EventType    string         `json:"event_type"  validate:"required"`
	EventFilters map[string]any `json:"event_filters,omitempty"`
	IsActive     bool           `json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
