package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mstairs/flowline/pkg/conditions"
	"github.com/mstairs/flowline/pkg/eventbus"
	"github.com/mstairs/flowline/pkg/events"
	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/otelhelper"
	"github.com/mstairs/flowline/pkg/persistence"
	"github.com/mstairs/flowline/pkg/protocol"
	"github.com/mstairs/flowline/pkg/registry"
	"github.com/mstairs/flowline/pkg/services"

	"go.opentelemetry.io/otel/trace"
)

// DefaultExecutionTimeout bounds the wall-clock time an execution may spend
// running. Time spent waiting on a delay does not count against it.
const DefaultExecutionTimeout = 10 * time.Minute

// Executor drives a claimed execution through its pipeline: steps run
// strictly in declared order, the workflow's condition tree is re-evaluated
// before each step, and control outcomes (suspend, skip) steer the state
// machine. The executor persists progress after every step so a crashed
// worker loses at most the in-flight step.
type Executor struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	timeout     time.Duration
}

func NewExecutor(
	logger *slog.Logger,
	persist persistence.Persistence,
	reg *registry.Registry,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
	timeout time.Duration,
) *Executor {
	if timeout <= 0 {
		timeout = DefaultExecutionTimeout
	}

	return &Executor{
		logger:      logger,
		persistence: persist,
		registry:    reg,
		publisher:   publisher,
		tracer:      tracer,
		timeout:     timeout,
	}
}

// Run executes a claimed (status running) execution to its next stable
// state: terminal, or waiting when a delay suspends it.
func (e *Executor) Run(ctx context.Context, execution *models.WorkflowExecution) error {
	logger := e.logger.With(
		"module", "workflow_executor",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
	)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution.run",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
		attribute.Bool(otelhelper.TestModeKey, execution.TestMode),
	)
	defer span.End()

	workflow, err := e.persistence.Workflows().GetByID(ctx, execution.WorkflowID)
	if err != nil {
		logger.Error("Failed to fetch workflow", "error", err)

		return e.finalize(ctx, execution, models.ExecutionFailed,
			fmt.Errorf("%w: workflow %s: %v", services.ErrActionExecution, execution.WorkflowID, err))
	}

	variables, err := e.persistence.Variables().Resolve(ctx, execution.WorkflowID)
	if err != nil {
		logger.Error("Failed to resolve variables", "error", err)

		return e.finalize(ctx, execution, models.ExecutionFailed,
			fmt.Errorf("%w: resolving variables: %v", services.ErrActionExecution, err))
	}

	executionCtx := models.ExecutionContext{
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		OwnerID:     execution.OwnerID,
		TriggerData: execution.TriggerData,
		Variables:   variables,
		StepOutputs: outputsByStep(execution.StepResults),
		TestMode:    execution.TestMode,
	}

	steps := models.SortSteps(workflow.Actions)
	runStart := time.Now().UTC()

	if execution.ResumeOrder > 0 {
		e.publish(ctx, execution, events.ExecutionResumed{
			BaseEvent:   events.NewBaseEvent(events.ExecutionResumedEvent, execution.WorkflowID),
			ExecutionID: execution.ID,
			ResumeOrder: execution.ResumeOrder,
		})
	} else {
		e.publish(ctx, execution, events.ExecutionStarted{
			BaseEvent:   events.NewBaseEvent(events.ExecutionStartedEvent, execution.WorkflowID),
			ExecutionID: execution.ID,
			TestMode:    execution.TestMode,
		})
	}

	for i := execution.ResumeOrder; i < len(steps); i++ {
		step := steps[i]

		cancelled, err := e.cancelRequested(ctx, execution.ID)
		if err != nil {
			logger.Warn("Failed to check cancellation flag", "error", err)
		}

		if cancelled {
			logger.Info("Cancellation observed between steps")

			return e.finalize(ctx, execution, models.ExecutionCancelled, services.ErrCancelled)
		}

		remaining := e.remainingBudget(execution, runStart)
		if remaining <= 0 {
			logger.Warn("Execution exceeded its time budget")

			return e.finalize(ctx, execution, models.ExecutionFailed, services.ErrTimeout)
		}

		if workflow.Conditions != nil {
			matched, err := conditions.Evaluate(workflow.Conditions, executionCtx.AsMap())
			if err != nil {
				return e.finalize(ctx, execution, models.ExecutionFailed,
					fmt.Errorf("%w: condition evaluation: %v", services.ErrActionExecution, err))
			}

			// Unmet conditions end the pipeline as a normal, successful
			// no-op, not a failure.
			if !matched {
				logger.Info("Workflow conditions unmet, completing early", "step_order", i)

				return e.finalize(ctx, execution, models.ExecutionCompleted, nil)
			}
		}

		stepCtx, cancel := context.WithTimeout(ctx, remaining)
		result, outcome := e.runStep(stepCtx, step, &executionCtx, logger)
		cancel()

		execution.StepResults = append(execution.StepResults, result)

		if result.Status == models.StepFailed {
			if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
				return e.finalize(ctx, execution, models.ExecutionFailed, services.ErrTimeout)
			}

			if step.ContinueOnError {
				logger.Warn("Step failed, continuing past it", "step_id", step.ID, "error", result.Error)

				execution.PartialFailure = true
				if err := e.saveProgress(ctx, execution); err != nil {
					return err
				}

				continue
			}

			return e.finalize(ctx, execution, models.ExecutionFailed,
				fmt.Errorf("%w: step %s: %s", services.ErrActionExecution, step.ID, result.Error))
		}

		executionCtx.StepOutputs[step.ID] = result.Output

		if outcome != nil && outcome.SuspendUntil != nil {
			return e.suspend(ctx, execution, *outcome.SuspendUntil, i+1, runStart)
		}

		if outcome != nil && outcome.SkipRemaining {
			execution.StepResults = append(execution.StepResults, skippedResults(steps[i+1:])...)

			logger.Info("Remaining steps skipped", "after_step", step.ID)

			return e.finalize(ctx, execution, models.ExecutionCompleted, nil)
		}

		if step.Type == "control.set_variable" && !execution.TestMode {
			variables, err := e.persistence.Variables().Resolve(ctx, execution.WorkflowID)
			if err == nil {
				executionCtx.Variables = variables
			}
		}

		if err := e.saveProgress(ctx, execution); err != nil {
			return err
		}
	}

	return e.finalize(ctx, execution, models.ExecutionCompleted, nil)
}

// runStep executes one step with its retry policy. Only the last attempt's
// error survives; Attempts records how many ran.
func (e *Executor) runStep(ctx context.Context, step *models.ActionStep, executionCtx *models.ExecutionContext, logger *slog.Logger) (models.StepResult, *protocol.StepOutcome) {
	logger = logger.With("step_id", step.ID, "step_type", step.Type)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution.step",
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepTypeKey, step.Type),
	)
	defer span.End()

	result := models.StepResult{
		StepID:    step.ID,
		StartedAt: time.Now().UTC(),
	}

	maxAttempts := 1
	backoff := time.Second

	if step.Retry != nil {
		if step.Retry.MaxAttempts > 1 {
			maxAttempts = step.Retry.MaxAttempts
		}

		if step.Retry.InitialInterval > 0 {
			backoff = step.Retry.InitialInterval
		}
	}

	var (
		outcome *protocol.StepOutcome
		lastErr error
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if attempt > 1 {
			logger.Info("Retrying step", "attempt", attempt, "max_attempts", maxAttempts, "backoff", backoff)

			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}

			if lastErr != nil {
				break
			}
		}

		action, err := e.registry.Create(step.Type, step.Config)
		if err != nil {
			// A config that fails schema validation cannot succeed on
			// retry.
			lastErr = err

			break
		}

		outcome, lastErr = action.Execute(ctx, *executionCtx, logger)
		if lastErr == nil {
			break
		}
	}

	now := time.Now().UTC()
	result.CompletedAt = &now

	if lastErr != nil {
		result.Status = models.StepFailed
		result.Error = lastErr.Error()

		return result, nil
	}

	result.Status = models.StepCompleted
	if outcome != nil {
		result.Output = outcome.Output
	}

	return result, outcome
}

// suspend parks the execution as waiting so the worker is released; the
// scheduler re-enqueues the continuation once resumeAt passes.
func (e *Executor) suspend(ctx context.Context, execution *models.WorkflowExecution, resumeAt time.Time, resumeOrder int, runStart time.Time) error {
	execution.Status = models.ExecutionWaiting
	execution.ResumeAt = &resumeAt
	execution.ResumeOrder = resumeOrder
	execution.RunningMS += time.Since(runStart).Milliseconds()
	execution.WorkerID = ""

	if err := e.persistence.Executions().Save(ctx, execution); err != nil {
		return fmt.Errorf("failed to suspend execution %s: %w", execution.ID, err)
	}

	e.publish(ctx, execution, events.ExecutionWaiting{
		BaseEvent:   events.NewBaseEvent(events.ExecutionWaitingEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		ResumeAt:    resumeAt,
	})

	return nil
}

func (e *Executor) finalize(ctx context.Context, execution *models.WorkflowExecution, status models.ExecutionStatus, cause error) error {
	now := time.Now().UTC()
	execution.Status = status
	execution.CompletedAt = &now
	execution.ResumeAt = nil

	if cause != nil {
		execution.Error = cause.Error()
	}

	if err := e.persistence.Executions().Save(ctx, execution); err != nil {
		return fmt.Errorf("failed to finalize execution %s: %w", execution.ID, err)
	}

	durationMS := execution.Duration().Milliseconds()
	stepsExecuted := len(execution.StepResults)

	switch status {
	case models.ExecutionCompleted:
		e.publish(ctx, execution, events.ExecutionCompleted{
			BaseEvent:      events.NewBaseEvent(events.ExecutionCompletedEvent, execution.WorkflowID),
			ExecutionID:    execution.ID,
			DurationMs:     durationMS,
			StepsExecuted:  stepsExecuted,
			PartialFailure: execution.PartialFailure,
		})
	case models.ExecutionFailed:
		e.publish(ctx, execution, events.ExecutionFailed{
			BaseEvent:     events.NewBaseEvent(events.ExecutionFailedEvent, execution.WorkflowID),
			ExecutionID:   execution.ID,
			DurationMs:    durationMS,
			StepsExecuted: stepsExecuted,
			FailedStepID:  lastFailedStep(execution.StepResults),
			Error:         execution.Error,
		})
	case models.ExecutionCancelled:
		e.publish(ctx, execution, events.ExecutionCancelled{
			BaseEvent:     events.NewBaseEvent(events.ExecutionCancelledEvent, execution.WorkflowID),
			ExecutionID:   execution.ID,
			DurationMs:    durationMS,
			StepsExecuted: stepsExecuted,
		})
	}

	return nil
}

func (e *Executor) saveProgress(ctx context.Context, execution *models.WorkflowExecution) error {
	if err := e.persistence.Executions().Save(ctx, execution); err != nil {
		return fmt.Errorf("failed to persist execution %s progress: %w", execution.ID, err)
	}

	return nil
}

func (e *Executor) cancelRequested(ctx context.Context, executionID string) (bool, error) {
	current, err := e.persistence.Executions().GetByID(ctx, executionID)
	if err != nil {
		return false, err
	}

	return current.CancelRequested || current.Status == models.ExecutionCancelled, nil
}

func (e *Executor) remainingBudget(execution *models.WorkflowExecution, runStart time.Time) time.Duration {
	spent := time.Duration(execution.RunningMS)*time.Millisecond + time.Since(runStart)

	return e.timeout - spent
}

func (e *Executor) publish(ctx context.Context, execution *models.WorkflowExecution, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, execution.WorkflowID, event); err != nil {
		e.logger.Warn("Failed to publish lifecycle event",
			"event_type", event.GetType(), "execution_id", execution.ID, "error", err)
	}
}

func outputsByStep(results []models.StepResult) map[string]any {
	outputs := make(map[string]any, len(results))
	for _, result := range results {
		if result.Status == models.StepCompleted {
			outputs[result.StepID] = result.Output
		}
	}

	return outputs
}

func skippedResults(steps []*models.ActionStep) []models.StepResult {
	now := time.Now().UTC()

	results := make([]models.StepResult, 0, len(steps))
	for _, step := range steps {
		results = append(results, models.StepResult{
			StepID:      step.ID,
			Status:      models.StepSkipped,
			StartedAt:   now,
			CompletedAt: &now,
		})
	}

	return results
}

func lastFailedStep(results []models.StepResult) string {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Status == models.StepFailed {
			return results[i].StepID
		}
	}

	return ""
}
