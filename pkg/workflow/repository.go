// Package workflow implements the definition store and the pipeline
// executor. The definition store owns the workflow aggregate and keeps the
// trigger side records (Schedule, Webhook, EventSubscription) consistent
// with the workflow's declared trigger type.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence"
	"github.com/mstairs/flowline/pkg/registry"
	"github.com/mstairs/flowline/pkg/services"
)

type Repository struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	validate    *validator.Validate
}

func NewRepository(logger *slog.Logger, persist persistence.Persistence, reg *registry.Registry) *Repository {
	return &Repository{
		logger:      logger.With("module", "workflow_repository"),
		persistence: persist,
		registry:    reg,
		validate:    validator.New(),
	}
}

// Create validates the workflow and stores it together with the side
// records its trigger type requires.
func (r *Repository) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if err := r.validateWorkflow("create_workflow", workflow); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	workflow.ID = uuid.New().String()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	for _, step := range workflow.Actions {
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
	}

	if err := r.persistence.Workflows().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	if err := r.syncSideRecords(ctx, workflow); err != nil {
		return nil, err
	}

	r.logger.Info("Workflow created", "workflow_id", workflow.ID, "trigger_type", workflow.TriggerType)

	return workflow, nil
}

// Update validates and replaces the stored aggregate, then re-syncs side
// records. Changing the trigger type removes side records of the old type.
func (r *Repository) Update(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil || workflow.ID == "" {
		return nil, services.NewValidationError("update_workflow", "missing_id", "workflow id is required", services.ErrInvalidRequest)
	}

	existing, err := r.persistence.Workflows().GetByID(ctx, workflow.ID)
	if err != nil {
		return nil, r.notFound("update_workflow", workflow.ID, err)
	}

	if err := r.validateWorkflow("update_workflow", workflow); err != nil {
		return nil, err
	}

	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()

	for _, step := range workflow.Actions {
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
	}

	if err := r.persistence.Workflows().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	if err := r.syncSideRecords(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := r.persistence.Workflows().GetByID(ctx, id)
	if err != nil {
		return nil, r.notFound("get_workflow", id, err)
	}

	return workflow, nil
}

func (r *Repository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	return r.persistence.Workflows().List(ctx, opts)
}

// Delete removes the workflow and all its side records. The execution log
// is retained for audit; Purge removes it separately.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.persistence.Workflows().GetByID(ctx, id); err != nil {
		return r.notFound("delete_workflow", id, err)
	}

	if err := r.removeSideRecords(ctx, id, ""); err != nil {
		return err
	}

	if err := r.persistence.Workflows().Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	r.logger.Info("Workflow deleted", "workflow_id", id)

	return nil
}

// ToggleActive flips the workflow's active flag and cascades it to every
// side record, so an inactive workflow cannot fire from a stale schedule or
// webhook.
func (r *Repository) ToggleActive(ctx context.Context, id string, active bool) (*models.Workflow, error) {
	workflow, err := r.persistence.Workflows().GetByID(ctx, id)
	if err != nil {
		return nil, r.notFound("toggle_active", id, err)
	}

	workflow.IsActive = active
	workflow.UpdatedAt = time.Now().UTC()

	if err := r.persistence.Workflows().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow %s: %w", id, err)
	}

	now := time.Now().UTC()

	schedules, err := r.persistence.Schedules().ForWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, schedule := range schedules {
		schedule.IsActive = active
		schedule.UpdatedAt = now

		// Reactivation recomputes the next occurrence so the schedule
		// does not fire immediately for occurrences missed while inactive.
		if active {
			if err := schedule.Advance(now); err != nil {
				return nil, fmt.Errorf("failed to advance schedule %s: %w", schedule.ID, err)
			}
		}

		if err := r.persistence.Schedules().Save(ctx, schedule); err != nil {
			return nil, err
		}
	}

	webhooks, err := r.persistence.Webhooks().ForWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, webhook := range webhooks {
		webhook.IsActive = active
		webhook.UpdatedAt = now

		if err := r.persistence.Webhooks().Save(ctx, webhook); err != nil {
			return nil, err
		}
	}

	subscriptions, err := r.persistence.Subscriptions().ForWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, subscription := range subscriptions {
		subscription.IsActive = active
		subscription.UpdatedAt = now

		if err := r.persistence.Subscriptions().Save(ctx, subscription); err != nil {
			return nil, err
		}
	}

	r.logger.Info("Workflow toggled", "workflow_id", id, "is_active", active)

	return workflow, nil
}

// Duplicate deep-copies the aggregate into a new inactive workflow with no
// side records. The owner must re-attach triggers explicitly, so two
// workflows never silently share a webhook endpoint or cron slot.
func (r *Repository) Duplicate(ctx context.Context, id string) (*models.Workflow, error) {
	original, err := r.persistence.Workflows().GetByID(ctx, id)
	if err != nil {
		return nil, r.notFound("duplicate_workflow", id, err)
	}

	clone, err := original.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to clone workflow %s: %w", id, err)
	}

	now := time.Now().UTC()
	clone.ID = uuid.New().String()
	clone.Name = original.Name + " (copy)"
	clone.IsActive = false
	clone.CreatedAt = now
	clone.UpdatedAt = now

	if err := r.persistence.Workflows().Save(ctx, clone); err != nil {
		return nil, fmt.Errorf("failed to save duplicated workflow: %w", err)
	}

	r.logger.Info("Workflow duplicated", "source_id", id, "workflow_id", clone.ID)

	return clone, nil
}

// CreateSchedule attaches a schedule side record. The workflow must be
// schedule-triggered and must not already carry an active schedule.
func (r *Repository) CreateSchedule(ctx context.Context, workflowID, cronExpression, timezone string, startsAt, endsAt *time.Time) (*models.Schedule, error) {
	workflow, err := r.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return nil, r.notFound("create_schedule", workflowID, err)
	}

	if workflow.TriggerType != models.TriggerTypeSchedule {
		return nil, services.NewConflictError("create_schedule", "trigger_mismatch",
			fmt.Sprintf("workflow %s trigger type is %s, not schedule", workflowID, workflow.TriggerType))
	}

	existing, err := r.persistence.Schedules().ForWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	for _, schedule := range existing {
		if schedule.IsActive {
			return nil, services.NewConflictError("create_schedule", "schedule_exists",
				fmt.Sprintf("workflow %s already has an active schedule", workflowID))
		}
	}

	schedule, err := models.NewSchedule(uuid.New().String(), workflowID, cronExpression, timezone)
	if err != nil {
		return nil, services.NewValidationError("create_schedule", "invalid_cron", err.Error(), services.ErrValidation)
	}

	schedule.StartsAt = startsAt
	schedule.EndsAt = endsAt
	schedule.IsActive = workflow.IsActive

	if err := r.persistence.Schedules().Save(ctx, schedule); err != nil {
		return nil, err
	}

	r.syncTriggerConfig(ctx, workflow, map[string]any{"cron": cronExpression, "timezone": timezone})

	return schedule, nil
}

// UpdateSchedule replaces the cron expression, timezone, and window of an
// existing schedule and recomputes its next occurrence.
func (r *Repository) UpdateSchedule(ctx context.Context, scheduleID, cronExpression, timezone string, startsAt, endsAt *time.Time) (*models.Schedule, error) {
	schedule, err := r.persistence.Schedules().GetByID(ctx, scheduleID)
	if err != nil {
		return nil, r.notFound("update_schedule", scheduleID, err)
	}

	schedule.CronExpression = cronExpression
	schedule.Timezone = timezone
	schedule.StartsAt = startsAt
	schedule.EndsAt = endsAt

	if err := schedule.Validate(); err != nil {
		return nil, services.NewValidationError("update_schedule", "invalid_cron", err.Error(), services.ErrValidation)
	}

	if err := schedule.Advance(time.Now().UTC()); err != nil {
		return nil, services.NewValidationError("update_schedule", "invalid_cron", err.Error(), services.ErrValidation)
	}

	if err := r.persistence.Schedules().Save(ctx, schedule); err != nil {
		return nil, err
	}

	if workflow, err := r.persistence.Workflows().GetByID(ctx, schedule.WorkflowID); err == nil {
		r.syncTriggerConfig(ctx, workflow, map[string]any{"cron": cronExpression, "timezone": timezone})
	}

	return schedule, nil
}

func (r *Repository) DeleteSchedule(ctx context.Context, scheduleID string) error {
	if _, err := r.persistence.Schedules().GetByID(ctx, scheduleID); err != nil {
		return r.notFound("delete_schedule", scheduleID, err)
	}

	return r.persistence.Schedules().Delete(ctx, scheduleID)
}

// CreateWebhook attaches a webhook side record with a fresh endpoint ID.
// The secret, when non-empty, becomes the HMAC key inbound payloads must be
// signed with.
func (r *Repository) CreateWebhook(ctx context.Context, workflowID, secret string) (*models.Webhook, error) {
	workflow, err := r.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return nil, r.notFound("create_webhook", workflowID, err)
	}

	if workflow.TriggerType != models.TriggerTypeWebhook {
		return nil, services.NewConflictError("create_webhook", "trigger_mismatch",
			fmt.Sprintf("workflow %s trigger type is %s, not webhook", workflowID, workflow.TriggerType))
	}

	existing, err := r.persistence.Webhooks().ForWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	for _, webhook := range existing {
		if webhook.IsActive {
			return nil, services.NewConflictError("create_webhook", "webhook_exists",
				fmt.Sprintf("workflow %s already has an active webhook", workflowID))
		}
	}

	now := time.Now().UTC()
	webhook := &models.Webhook{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		EndpointID: "wh-" + uuid.New().String()[:8],
		Secret:     secret,
		IsActive:   workflow.IsActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := r.persistence.Webhooks().Save(ctx, webhook); err != nil {
		return nil, err
	}

	return webhook, nil
}

func (r *Repository) DeleteWebhook(ctx context.Context, webhookID string) error {
	if _, err := r.persistence.Webhooks().GetByID(ctx, webhookID); err != nil {
		return r.notFound("delete_webhook", webhookID, err)
	}

	return r.persistence.Webhooks().Delete(ctx, webhookID)
}

// SubscribeEvent attaches an event subscription. Event-triggered workflows
// may hold any number of subscriptions.
func (r *Repository) SubscribeEvent(ctx context.Context, workflowID, eventType string, filters map[string]any) (*models.EventSubscription, error) {
	workflow, err := r.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		return nil, r.notFound("subscribe_event", workflowID, err)
	}

	if workflow.TriggerType != models.TriggerTypeEvent {
		return nil, services.NewConflictError("subscribe_event", "trigger_mismatch",
			fmt.Sprintf("workflow %s trigger type is %s, not event", workflowID, workflow.TriggerType))
	}

	if eventType == "" {
		return nil, services.NewValidationError("subscribe_event", "missing_event_type", "event type is required", services.ErrValidation)
	}

	now := time.Now().UTC()
	subscription := &models.EventSubscription{
		ID:           uuid.New().String(),
		WorkflowID:   workflowID,
		EventType:    eventType,
		EventFilters: filters,
		IsActive:     workflow.IsActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := r.persistence.Subscriptions().Save(ctx, subscription); err != nil {
		return nil, err
	}

	return subscription, nil
}

func (r *Repository) UnsubscribeEvent(ctx context.Context, subscriptionID string) error {
	if _, err := r.persistence.Subscriptions().GetByID(ctx, subscriptionID); err != nil {
		return r.notFound("unsubscribe_event", subscriptionID, err)
	}

	return r.persistence.Subscriptions().Delete(ctx, subscriptionID)
}

// SetVariable writes a variable through the store's atomic upsert.
func (r *Repository) SetVariable(ctx context.Context, variable *models.Variable) error {
	if variable == nil || variable.Name == "" {
		return services.NewValidationError("set_variable", "missing_name", "variable name is required", services.ErrValidation)
	}

	if variable.Scope == "" {
		variable.Scope = models.ScopeWorkflow
	}

	if variable.Scope == models.ScopeWorkflow && variable.WorkflowID == "" {
		return services.NewValidationError("set_variable", "missing_workflow", "workflow id is required for workflow-scoped variables", services.ErrValidation)
	}

	variable.UpdatedAt = time.Now().UTC()

	return r.persistence.Variables().Upsert(ctx, variable)
}

// validateWorkflow enforces the aggregate's structural invariants plus
// per-step config schemas from the action registry.
func (r *Repository) validateWorkflow(op string, workflow *models.Workflow) error {
	if workflow == nil {
		return services.NewValidationError(op, "nil_workflow", "workflow cannot be nil", services.ErrWorkflowNil)
	}

	if workflow.OwnerID == "" {
		return services.NewValidationError(op, "missing_owner", "owner ID cannot be empty", services.ErrEmptyOwnerID)
	}

	if !workflow.TriggerType.Valid() {
		return services.NewValidationError(op, "invalid_trigger",
			fmt.Sprintf("unknown trigger type '%s'", workflow.TriggerType), services.ErrInvalidTrigger)
	}

	if len(workflow.Actions) == 0 {
		return services.NewValidationError(op, "no_steps", "workflow must have at least one action step", services.ErrStepsRequired)
	}

	if err := r.validate.Struct(workflow); err != nil {
		return services.NewValidationError(op, "invalid_workflow", err.Error(), services.ErrValidation)
	}

	seen := make(map[string]bool, len(workflow.Actions))
	for _, step := range workflow.Actions {
		if step.ID != "" && seen[step.ID] {
			return services.NewValidationError(op, "duplicate_step",
				fmt.Sprintf("duplicate step id '%s'", step.ID), services.ErrValidation)
		}

		seen[step.ID] = true

		if err := r.registry.ValidateConfig(step.Type, step.Config); err != nil {
			return services.NewValidationError(op, "invalid_action_config", err.Error(), services.ErrInvalidActionType)
		}

		if step.Retry != nil && step.Retry.MaxAttempts < 1 {
			return services.NewValidationError(op, "invalid_retry",
				fmt.Sprintf("step '%s' retry max attempts must be at least 1", step.ID), services.ErrValidation)
		}
	}

	return r.validateTriggerConfig(op, workflow)
}

func (r *Repository) validateTriggerConfig(op string, workflow *models.Workflow) error {
	switch workflow.TriggerType {
	case models.TriggerTypeSchedule:
		cronExpression, _ := workflow.TriggerConfig["cron"].(string)
		if cronExpression == "" {
			return services.NewValidationError(op, "missing_cron", "schedule trigger requires trigger_config.cron", services.ErrValidation)
		}

		timezone, _ := workflow.TriggerConfig["timezone"].(string)

		probe := &models.Schedule{ID: "probe", WorkflowID: "probe", CronExpression: cronExpression, Timezone: timezone}
		if err := probe.Validate(); err != nil {
			return services.NewValidationError(op, "invalid_cron", err.Error(), services.ErrValidation)
		}
	case models.TriggerTypeEvent:
		eventType, _ := workflow.TriggerConfig["event_type"].(string)
		if eventType == "" {
			return services.NewValidationError(op, "missing_event_type", "event trigger requires trigger_config.event_type", services.ErrValidation)
		}
	case models.TriggerTypeWebhook, models.TriggerTypeManual:
	}

	return nil
}

// syncSideRecords reconciles side records with the workflow's trigger type:
// the matching record is created or updated from trigger_config, records of
// other types are removed.
func (r *Repository) syncSideRecords(ctx context.Context, workflow *models.Workflow) error {
	if err := r.removeSideRecords(ctx, workflow.ID, workflow.TriggerType); err != nil {
		return err
	}

	switch workflow.TriggerType {
	case models.TriggerTypeSchedule:
		return r.syncSchedule(ctx, workflow)
	case models.TriggerTypeWebhook:
		return r.syncWebhook(ctx, workflow)
	case models.TriggerTypeEvent:
		return r.syncSubscription(ctx, workflow)
	case models.TriggerTypeManual:
	}

	return nil
}

func (r *Repository) syncSchedule(ctx context.Context, workflow *models.Workflow) error {
	cronExpression, _ := workflow.TriggerConfig["cron"].(string)
	timezone, _ := workflow.TriggerConfig["timezone"].(string)

	existing, err := r.persistence.Schedules().ForWorkflow(ctx, workflow.ID)
	if err != nil {
		return err
	}

	if len(existing) > 0 {
		schedule := existing[0]
		changed := schedule.CronExpression != cronExpression || schedule.Timezone != timezone

		schedule.CronExpression = cronExpression
		schedule.Timezone = timezone
		schedule.IsActive = workflow.IsActive

		if changed {
			if err := schedule.Advance(time.Now().UTC()); err != nil {
				return services.NewValidationError("sync_schedule", "invalid_cron", err.Error(), services.ErrValidation)
			}
		}

		return r.persistence.Schedules().Save(ctx, schedule)
	}

	schedule, err := models.NewSchedule(uuid.New().String(), workflow.ID, cronExpression, timezone)
	if err != nil {
		return services.NewValidationError("sync_schedule", "invalid_cron", err.Error(), services.ErrValidation)
	}

	schedule.IsActive = workflow.IsActive

	return r.persistence.Schedules().Save(ctx, schedule)
}

func (r *Repository) syncWebhook(ctx context.Context, workflow *models.Workflow) error {
	existing, err := r.persistence.Webhooks().ForWorkflow(ctx, workflow.ID)
	if err != nil {
		return err
	}

	secret, _ := workflow.TriggerConfig["secret"].(string)

	if len(existing) > 0 {
		webhook := existing[0]
		if secret != "" {
			webhook.Secret = secret
		}

		webhook.IsActive = workflow.IsActive
		webhook.UpdatedAt = time.Now().UTC()

		return r.persistence.Webhooks().Save(ctx, webhook)
	}

	now := time.Now().UTC()
	webhook := &models.Webhook{
		ID:         uuid.New().String(),
		WorkflowID: workflow.ID,
		EndpointID: "wh-" + uuid.New().String()[:8],
		Secret:     secret,
		IsActive:   workflow.IsActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	return r.persistence.Webhooks().Save(ctx, webhook)
}

func (r *Repository) syncSubscription(ctx context.Context, workflow *models.Workflow) error {
	eventType, _ := workflow.TriggerConfig["event_type"].(string)
	filters, _ := workflow.TriggerConfig["filters"].(map[string]any)

	existing, err := r.persistence.Subscriptions().ForWorkflow(ctx, workflow.ID)
	if err != nil {
		return err
	}

	for _, subscription := range existing {
		if subscription.EventType == eventType {
			subscription.EventFilters = filters
			subscription.IsActive = workflow.IsActive
			subscription.UpdatedAt = time.Now().UTC()

			return r.persistence.Subscriptions().Save(ctx, subscription)
		}
	}

	now := time.Now().UTC()
	subscription := &models.EventSubscription{
		ID:           uuid.New().String(),
		WorkflowID:   workflow.ID,
		EventType:    eventType,
		EventFilters: filters,
		IsActive:     workflow.IsActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	return r.persistence.Subscriptions().Save(ctx, subscription)
}

// removeSideRecords deletes side records that do not match keep; an empty
// keep removes everything.
func (r *Repository) removeSideRecords(ctx context.Context, workflowID string, keep models.TriggerType) error {
	if keep != models.TriggerTypeSchedule {
		schedules, err := r.persistence.Schedules().ForWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}

		for _, schedule := range schedules {
			if err := r.persistence.Schedules().Delete(ctx, schedule.ID); err != nil {
				return err
			}
		}
	}

	if keep != models.TriggerTypeWebhook {
		webhooks, err := r.persistence.Webhooks().ForWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}

		for _, webhook := range webhooks {
			if err := r.persistence.Webhooks().Delete(ctx, webhook.ID); err != nil {
				return err
			}
		}
	}

	if keep != models.TriggerTypeEvent {
		subscriptions, err := r.persistence.Subscriptions().ForWorkflow(ctx, workflowID)
		if err != nil {
			return err
		}

		for _, subscription := range subscriptions {
			if err := r.persistence.Subscriptions().Delete(ctx, subscription.ID); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *Repository) syncTriggerConfig(ctx context.Context, workflow *models.Workflow, config map[string]any) {
	if workflow.TriggerConfig == nil {
		workflow.TriggerConfig = make(map[string]any, len(config))
	}

	for k, v := range config {
		workflow.TriggerConfig[k] = v
	}

	workflow.UpdatedAt = time.Now().UTC()

	if err := r.persistence.Workflows().Save(ctx, workflow); err != nil {
		r.logger.Warn("Failed to sync trigger config", "workflow_id", workflow.ID, "error", err)
	}
}

func (r *Repository) notFound(op, id string, err error) error {
	if persistence.IsNotFound(err) {
		return &services.ServiceError{Op: op, Code: "not_found", Message: fmt.Sprintf("%s not found", id), Err: services.ErrNotFound}
	}

	return fmt.Errorf("%s %s: %w", op, id, err)
}
