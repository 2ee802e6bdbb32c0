package web

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/mstairs/flowline/pkg/models"
)

type CreateWorkflowRequest struct {
	Name          string                 `json:"name"`
	TriggerType   models.TriggerType     `json:"trigger_type"`
	TriggerConfig map[string]any         `json:"trigger_config"`
	Actions       []*models.ActionStep   `json:"actions"`
	Conditions    *models.ExpressionNode `json:"conditions"`
	IsActive      bool                   `json:"is_active"`
	Tags          []string               `json:"tags"`
	Metadata      map[string]any         `json:"metadata"`
}

type UpdateWorkflowRequest struct {
	Name          string                 `json:"name"`
	TriggerType   models.TriggerType     `json:"trigger_type"`
	TriggerConfig map[string]any         `json:"trigger_config"`
	Actions       []*models.ActionStep   `json:"actions"`
	Conditions    *models.ExpressionNode `json:"conditions"`
	IsActive      *bool                  `json:"is_active"`
	Tags          []string               `json:"tags"`
	Metadata      map[string]any         `json:"metadata"`
}

type ToggleActiveRequest struct {
	IsActive bool `json:"is_active"`
}

type ExecuteWorkflowRequest struct {
	TriggerData map[string]any `json:"trigger_data"`
}

type ScheduleRequest struct {
	Cron     string     `json:"cron"`
	Timezone string     `json:"timezone"`
	StartsAt *time.Time `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
}

type WebhookRequest struct {
	Secret string `json:"secret"`
}

type SubscribeRequest struct {
	EventType string         `json:"event_type"`
	Filters   map[string]any `json:"filters"`
}

type SetVariableRequest struct {
	Name       string               `json:"name"`
	Value      any                  `json:"value"`
	Scope      models.VariableScope `json:"scope"`
	WorkflowID string               `json:"workflow_id"`
}

type PublishEventRequest struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

// listResponse is the common page shape of every list endpoint.
func listResponse(items any, total int64, limit, offset int) fiber.Map {
	return fiber.Map{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	}
}
