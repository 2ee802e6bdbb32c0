// Package main provides the Flowline API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/mstairs/flowline/pkg/dispatch"
	"github.com/mstairs/flowline/pkg/eventbus"
	"github.com/mstairs/flowline/pkg/lifecycle"
	"github.com/mstairs/flowline/pkg/persistence"
	"github.com/mstairs/flowline/pkg/registry"
	"github.com/mstairs/flowline/pkg/web"
	"github.com/mstairs/flowline/pkg/workflow"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
}

func NewAPI(
	logger *slog.Logger,
	persist persistence.Persistence,
	reg *registry.Registry,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		logger:      logger,
		persistence: persist,
		registry:    reg,
		eventBus:    eventBus,
	}
}

func (a *API) App() *fiber.App {
	repository := workflow.NewRepository(a.logger, a.persistence, a.registry)

	// The API enqueues executions but never claims them; worker processes
	// pick persisted work up through the event bus.
	manager := lifecycle.NewManager(a.logger, a.persistence, nil, a.eventBus, lifecycle.Config{})

	receiver := dispatch.NewWebhookReceiver(a.logger, a.persistence, manager)
	fanout := dispatch.NewEventFanout(a.logger, a.persistence, manager)

	handlers := web.NewAPIHandlers(a.logger, repository, manager, receiver, fanout, a.persistence)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowline API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.ListWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/toggle", handlers.ToggleWorkflow)
	w.Post("/:id/duplicate", handlers.DuplicateWorkflow)
	w.Post("/:id/execute", handlers.ExecuteWorkflow)
	w.Post("/:id/test", handlers.TestWorkflow)
	w.Get("/:id/statistics", handlers.GetStatistics)

	w.Post("/:id/schedules", handlers.CreateSchedule)
	w.Post("/:id/webhooks", handlers.CreateWebhook)
	w.Post("/:id/subscriptions", handlers.SubscribeEvent)

	app.Patch("/schedules/:scheduleId", handlers.UpdateSchedule)
	app.Delete("/schedules/:scheduleId", handlers.DeleteSchedule)
	app.Delete("/webhooks/:webhookId", handlers.DeleteWebhook)
	app.Delete("/subscriptions/:subscriptionId", handlers.UnsubscribeEvent)

	e := app.Group("/executions")
	e.Get("/", handlers.ListExecutions)
	e.Get("/:id", handlers.GetExecution)
	e.Post("/:id/cancel", handlers.CancelExecution)

	app.Put("/variables", handlers.SetVariable)

	// Public trigger ingress.
	app.Post("/webhooks/:endpointId", handlers.ReceiveWebhook)
	app.Post("/events", handlers.PublishEvent)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
