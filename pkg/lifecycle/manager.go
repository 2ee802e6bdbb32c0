// Package lifecycle owns the execution state machine: it enqueues new
// executions, runs the bounded worker pool that claims and executes them,
// and exposes the read operations over the execution log.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mstairs/flowline/pkg/eventbus"
	"github.com/mstairs/flowline/pkg/events"
	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence"
	"github.com/mstairs/flowline/pkg/services"
	"github.com/mstairs/flowline/pkg/workflow"
)

const (
	DefaultQueueSize = 256
	DefaultWorkers   = 8
)

// Config sizes the worker pool and its FIFO queue.
type Config struct {
	QueueSize int
	Workers   int
	WorkerID  string
}

// Manager coordinates executions end to end. Enqueue applies the
// backpressure contract: when the FIFO is full it fails with
// ResourceExhausted instead of blocking the caller. Each queued execution
// is claimed by exactly one worker through the store's compare-and-set.
type Manager struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	executor    *workflow.Executor
	bus         eventbus.EventBus
	workerID    string

	mu      sync.Mutex
	queue   chan string
	started bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewManager(
	logger *slog.Logger,
	persist persistence.Persistence,
	executor *workflow.Executor,
	bus eventbus.EventBus,
	cfg Config,
) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker-" + uuid.New().String()[:8]
	}

	return &Manager{
		logger:      logger.With("module", "lifecycle_manager", "worker_id", cfg.WorkerID),
		persistence: persist,
		executor:    executor,
		bus:         bus,
		workerID:    cfg.WorkerID,
		queue:       make(chan string, cfg.QueueSize),
	}
}

// Start launches the worker pool and subscribes to trigger and resume
// events so executions enqueued by other processes are picked up too.
func (m *Manager) Start(ctx context.Context, workers int) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()

		return nil
	}

	m.started = true
	m.mu.Unlock()

	if workers <= 0 {
		workers = DefaultWorkers
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for i := 0; i < workers; i++ {
		m.wg.Add(1)

		go m.workerLoop(runCtx)
	}

	if m.bus != nil {
		if err := m.bus.Handle(events.WorkflowTriggeredEvent, m.handleTriggered); err != nil {
			return err
		}

		if err := m.bus.Handle(events.ExecutionResumeDueEvent, m.handleResumeDue); err != nil {
			return err
		}

		if err := m.bus.Subscribe(runCtx); err != nil {
			return fmt.Errorf("failed to subscribe to event bus: %w", err)
		}
	}

	m.logger.Info("Lifecycle manager started", "workers", workers, "queue_size", cap(m.queue))

	return nil
}

// Stop drains the pool. In-flight steps run to completion; their workers
// observe the context between steps.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()

		return
	}

	m.started = false
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}

	close(m.queue)
	m.wg.Wait()

	m.logger.Info("Lifecycle manager stopped")
}

// Enqueue creates a pending execution for the workflow and queues it. All
// trigger paths (schedule, webhook, event, manual) converge here.
func (m *Manager) Enqueue(ctx context.Context, workflowID string, triggerData map[string]any, testMode bool) (*models.WorkflowExecution, error) {
	wf, err := m.persistence.Workflows().GetByID(ctx, workflowID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, &services.ServiceError{Op: "enqueue", Code: "not_found",
				Message: fmt.Sprintf("workflow %s not found", workflowID), Err: services.ErrNotFound}
		}

		return nil, err
	}

	// Dry runs may exercise inactive workflows; real runs may not.
	if !wf.IsActive && !testMode {
		return nil, &services.ServiceError{Op: "enqueue", Code: "inactive",
			Message: fmt.Sprintf("workflow %s is not active", workflowID), Err: services.ErrInactiveTrigger}
	}

	execution := &models.WorkflowExecution{
		ID:          "exec-" + uuid.New().String(),
		WorkflowID:  workflowID,
		OwnerID:     wf.OwnerID,
		Status:      models.ExecutionPending,
		TriggerData: triggerData,
		StartedAt:   time.Now().UTC(),
		TestMode:    testMode,
		StepResults: []models.StepResult{},
	}

	m.mu.Lock()

	if m.started && len(m.queue) >= cap(m.queue) {
		m.mu.Unlock()

		return nil, &services.ServiceError{Op: "enqueue", Code: "queue_full",
			Message: "execution queue is full, retry later", Err: services.ErrResourceExhausted}
	}

	if err := m.persistence.Executions().Save(ctx, execution); err != nil {
		m.mu.Unlock()

		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}

	if m.started {
		m.queue <- execution.ID
	}

	m.mu.Unlock()

	m.publish(ctx, events.WorkflowTriggered{
		BaseEvent:   events.NewBaseEvent(events.WorkflowTriggeredEvent, workflowID),
		ExecutionID: execution.ID,
		TriggerType: string(wf.TriggerType),
		TriggerData: triggerData,
		TestMode:    testMode,
	})

	m.logger.Info("Execution enqueued", "execution_id", execution.ID, "workflow_id", workflowID, "test_mode", testMode)

	return execution, nil
}

// Resume queues the continuation of a waiting execution whose resume time
// has passed. A worker claims it with the waiting-to-running CAS.
func (m *Manager) Resume(ctx context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	select {
	case m.queue <- executionID:
		return nil
	default:
		return &services.ServiceError{Op: "resume", Code: "queue_full",
			Message: "execution queue is full", Err: services.ErrResourceExhausted}
	}
}

// Cancel sets the cooperative cancellation flag. A pending execution is
// cancelled outright; a running one observes the flag between steps; a
// terminal one is rejected.
func (m *Manager) Cancel(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	execution, err := m.persistence.Executions().RequestCancel(ctx, executionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, &services.ServiceError{Op: "cancel", Code: "not_found",
				Message: fmt.Sprintf("execution %s not found", executionID), Err: services.ErrNotFound}
		}

		return nil, err
	}

	if execution.Status == models.ExecutionCancelled {
		m.publish(ctx, events.ExecutionCancelled{
			BaseEvent:   events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID),
			ExecutionID: execution.ID,
		})
	}

	m.logger.Info("Cancellation requested", "execution_id", executionID, "status", execution.Status)

	return execution, nil
}

// AppendStepResult records a step outcome on a non-terminal execution.
func (m *Manager) AppendStepResult(ctx context.Context, executionID string, result models.StepResult) error {
	execution, err := m.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status.Terminal() {
		return persistence.ErrTerminalExecution
	}

	execution.StepResults = append(execution.StepResults, result)

	return m.persistence.Executions().Save(ctx, execution)
}

// Complete transitions an execution to a terminal state, enforcing the
// state machine.
func (m *Manager) Complete(ctx context.Context, executionID string, status models.ExecutionStatus, errMessage string) (*models.WorkflowExecution, error) {
	if !status.Terminal() {
		return nil, persistence.ErrInvalidTransition
	}

	execution, err := m.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if !execution.Status.CanTransition(status) {
		return nil, persistence.ErrInvalidTransition
	}

	now := time.Now().UTC()
	execution.Status = status
	execution.CompletedAt = &now
	execution.Error = errMessage
	execution.ResumeAt = nil

	if err := m.persistence.Executions().Save(ctx, execution); err != nil {
		return nil, err
	}

	return execution, nil
}

func (m *Manager) Get(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	execution, err := m.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return nil, &services.ServiceError{Op: "get_execution", Code: "not_found",
				Message: fmt.Sprintf("execution %s not found", executionID), Err: services.ErrNotFound}
		}

		return nil, err
	}

	return execution, nil
}

func (m *Manager) List(ctx context.Context, opts persistence.ListExecutionsOptions) (*persistence.ExecutionListResult, error) {
	return m.persistence.Executions().List(ctx, opts)
}

// Statistics derives counts, average duration, and success rate from the
// execution log.
func (m *Manager) Statistics(ctx context.Context, workflowID string) (*models.ExecutionStatistics, error) {
	return m.persistence.Executions().Statistics(ctx, workflowID)
}

func (m *Manager) workerLoop(ctx context.Context) {
	defer m.wg.Done()

	for executionID := range m.queue {
		if ctx.Err() != nil {
			return
		}

		m.process(ctx, executionID)
	}
}

// process claims one queued execution and drives it. Losing the claim race
// is normal when several workers consume the same bus topic.
func (m *Manager) process(ctx context.Context, executionID string) {
	execution, err := m.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		m.logger.Warn("Failed to load queued execution", "execution_id", executionID, "error", err)

		return
	}

	var claimed bool

	switch execution.Status {
	case models.ExecutionPending:
		claimed, err = m.persistence.Executions().Claim(ctx, executionID, m.workerID)
	case models.ExecutionWaiting:
		claimed, err = m.persistence.Executions().ClaimResume(ctx, executionID, m.workerID)
	default:
		return
	}

	if err != nil {
		m.logger.Error("Claim failed", "execution_id", executionID, "error", err)

		return
	}

	if !claimed {
		m.logger.Debug("Lost claim race", "execution_id", executionID)

		return
	}

	execution, err = m.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		m.logger.Error("Failed to reload claimed execution", "execution_id", executionID, "error", err)

		return
	}

	if err := m.executor.Run(ctx, execution); err != nil {
		m.logger.Error("Execution run failed", "execution_id", executionID, "error", err)
	}
}

func (m *Manager) handleTriggered(ctx context.Context, event any) error {
	triggered, ok := event.(*events.WorkflowTriggered)
	if !ok {
		return nil
	}

	return m.Resume(ctx, triggered.ExecutionID)
}

func (m *Manager) handleResumeDue(ctx context.Context, event any) error {
	due, ok := event.(*events.ExecutionResumeDue)
	if !ok {
		return nil
	}

	return m.Resume(ctx, due.ExecutionID)
}

func (m *Manager) publish(ctx context.Context, event eventbus.Event) {
	if m.bus == nil {
		return
	}

	if err := m.bus.Publish(ctx, m.workerID, event); err != nil {
		m.logger.Warn("Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
