// Package web provides the HTTP handlers and REST endpoints for workflow
// management, execution control, and trigger delivery.
package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/mstairs/flowline/pkg/dispatch"
	"github.com/mstairs/flowline/pkg/lifecycle"
	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence"
	"github.com/mstairs/flowline/pkg/workflow"
)

const (
	ownerHeader     = "X-Owner-ID"
	signatureHeader = "X-Signature-256"
)

type APIHandlers struct {
	logger      *slog.Logger
	repository  *workflow.Repository
	manager     *lifecycle.Manager
	receiver    *dispatch.WebhookReceiver
	fanout      *dispatch.EventFanout
	persistence persistence.Persistence
}

func NewAPIHandlers(
	logger *slog.Logger,
	repository *workflow.Repository,
	manager *lifecycle.Manager,
	receiver *dispatch.WebhookReceiver,
	fanout *dispatch.EventFanout,
	persist persistence.Persistence,
) *APIHandlers {
	return &APIHandlers{
		logger:      logger.With("module", "api"),
		repository:  repository,
		manager:     manager,
		receiver:    receiver,
		fanout:      fanout,
		persistence: persist,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK
	detail := "ok"

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
		detail = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"persistence": detail,
		},
		"timestamp": time.Now().UTC(),
	})
}

// Workflows

func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	limit, offset, err := parsePagination(c)
	if err != nil {
		return badRequest(c, "Invalid pagination parameters: "+err.Error())
	}

	opts := persistence.ListWorkflowsOptions{
		OwnerID: c.Get(ownerHeader),
		Tag:     c.Query("tag"),
		Limit:   limit,
		Offset:  offset,
	}

	if triggerType := c.Query("trigger_type"); triggerType != "" {
		opts.TriggerType = models.TriggerType(triggerType)
	}

	if activeStr := c.Query("is_active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			return badRequest(c, "Invalid is_active parameter")
		}

		opts.IsActive = &active
	}

	result, err := h.repository.List(c.Context(), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(listResponse(result.Items, result.Total, limit, offset))
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	wf, err := h.repository.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	wf := &models.Workflow{
		OwnerID:       c.Get(ownerHeader),
		Name:          req.Name,
		TriggerType:   req.TriggerType,
		TriggerConfig: req.TriggerConfig,
		Actions:       req.Actions,
		Conditions:    req.Conditions,
		IsActive:      req.IsActive,
		Tags:          req.Tags,
		Metadata:      req.Metadata,
	}

	created, err := h.repository.Create(c.Context(), wf)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	existing, err := h.repository.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	if req.Name != "" {
		existing.Name = req.Name
	}

	if req.TriggerType != "" {
		existing.TriggerType = req.TriggerType
	}

	if req.TriggerConfig != nil {
		existing.TriggerConfig = req.TriggerConfig
	}

	if req.Actions != nil {
		existing.Actions = req.Actions
	}

	if req.Conditions != nil {
		existing.Conditions = req.Conditions
	}

	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}

	if req.Tags != nil {
		existing.Tags = req.Tags
	}

	if req.Metadata != nil {
		existing.Metadata = req.Metadata
	}

	updated, err := h.repository.Update(c.Context(), existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.repository.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ToggleWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req ToggleActiveRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	wf, err := h.repository.ToggleActive(c.Context(), id, req.IsActive)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) DuplicateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	duplicate, err := h.repository.Duplicate(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(duplicate)
}

func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	return h.enqueue(c, false)
}

// TestWorkflow runs a workflow in dry-run mode. Pipeline shape and condition
// evaluation match a real run; externally visible actions return simulated
// outputs instead of touching the outside world.
func (h *APIHandlers) TestWorkflow(c fiber.Ctx) error {
	return h.enqueue(c, true)
}

func (h *APIHandlers) enqueue(c fiber.Ctx, testMode bool) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req ExecuteWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.manager.Enqueue(c.Context(), id, req.TriggerData, testMode)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

// Executions

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	limit, offset, err := parsePagination(c)
	if err != nil {
		return badRequest(c, "Invalid pagination parameters: "+err.Error())
	}

	opts := persistence.ListExecutionsOptions{
		WorkflowID: c.Query("workflow_id"),
		OwnerID:    c.Get(ownerHeader),
		Limit:      limit,
		Offset:     offset,
	}

	if status := c.Query("status"); status != "" {
		opts.Status = models.ExecutionStatus(status)
	}

	result, err := h.manager.List(c.Context(), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(listResponse(result.Items, result.Total, limit, offset))
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.manager.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.manager.Cancel(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

func (h *APIHandlers) GetStatistics(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	stats, err := h.manager.Statistics(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(stats)
}

// Schedules

func (h *APIHandlers) CreateSchedule(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req ScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	schedule, err := h.repository.CreateSchedule(
		c.Context(), workflowID, req.Cron, req.Timezone, req.StartsAt, req.EndsAt)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(schedule)
}

func (h *APIHandlers) UpdateSchedule(c fiber.Ctx) error {
	id := c.Params("scheduleId")
	if id == "" {
		return badRequest(c, "Schedule ID is required")
	}

	var req ScheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	schedule, err := h.repository.UpdateSchedule(
		c.Context(), id, req.Cron, req.Timezone, req.StartsAt, req.EndsAt)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(schedule)
}

func (h *APIHandlers) DeleteSchedule(c fiber.Ctx) error {
	id := c.Params("scheduleId")
	if id == "" {
		return badRequest(c, "Schedule ID is required")
	}

	if err := h.repository.DeleteSchedule(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Webhook management

func (h *APIHandlers) CreateWebhook(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req WebhookRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	webhook, err := h.repository.CreateWebhook(c.Context(), workflowID, req.Secret)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(webhook)
}

func (h *APIHandlers) DeleteWebhook(c fiber.Ctx) error {
	id := c.Params("webhookId")
	if id == "" {
		return badRequest(c, "Webhook ID is required")
	}

	if err := h.repository.DeleteWebhook(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Event subscriptions

func (h *APIHandlers) SubscribeEvent(c fiber.Ctx) error {
	workflowID := c.Params("id")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req SubscribeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	subscription, err := h.repository.SubscribeEvent(
		c.Context(), workflowID, req.EventType, req.Filters)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(subscription)
}

func (h *APIHandlers) UnsubscribeEvent(c fiber.Ctx) error {
	id := c.Params("subscriptionId")
	if id == "" {
		return badRequest(c, "Subscription ID is required")
	}

	if err := h.repository.UnsubscribeEvent(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Variables

func (h *APIHandlers) SetVariable(c fiber.Ctx) error {
	var req SetVariableRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	variable := &models.Variable{
		Name:       req.Name,
		Value:      req.Value,
		Scope:      req.Scope,
		WorkflowID: req.WorkflowID,
	}

	if err := h.repository.SetVariable(c.Context(), variable); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(variable)
}

// Trigger delivery

// ReceiveWebhook is the public webhook ingress. The raw body is verified
// against the endpoint's HMAC secret before anything is enqueued.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	endpointID := c.Params("endpointId")
	if endpointID == "" {
		return badRequest(c, "Endpoint ID is required")
	}

	payload := make([]byte, len(c.Body()))
	copy(payload, c.Body())

	execution, err := h.receiver.Receive(c.Context(), endpointID, payload, c.Get(signatureHeader))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

// PublishEvent fans an external event out to every matching subscription.
func (h *APIHandlers) PublishEvent(c fiber.Ctx) error {
	var req PublishEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if req.EventType == "" {
		return badRequest(c, "event_type is required")
	}

	executions, err := h.fanout.Dispatch(c.Context(), req.EventType, req.Payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"event_type": req.EventType,
		"executions": executions,
		"matched":    len(executions),
	})
}

// parsePagination normalizes limit/offset with the store's shared bounds,
// so the limit echoed in the page envelope is the limit the store applied.
func parsePagination(c fiber.Ctx) (int, int, error) {
	limit := persistence.DefaultPageLimit
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}

		limit = parsed
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}

		offset = parsed
	}

	limit = persistence.ClampPageLimit(limit)

	if offset < 0 {
		offset = 0
	}

	return limit, offset, nil
}
