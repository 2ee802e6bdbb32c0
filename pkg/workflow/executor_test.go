package workflow

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence/file"
	"github.com/mstairs/flowline/pkg/protocol"
	"github.com/mstairs/flowline/pkg/registry"
)

// failingActionFactory always errors, for retry and continue-on-error
// scenarios.
type failingActionFactory struct{}

func (*failingActionFactory) ID() string             { return "test.fail" }
func (*failingActionFactory) Schema() map[string]any { return nil }

func (*failingActionFactory) Create(_ map[string]any) (protocol.Action, error) {
	return &failingAction{}, nil
}

type failingAction struct{}

func (*failingAction) Execute(_ context.Context, _ models.ExecutionContext, _ *slog.Logger) (*protocol.StepOutcome, error) {
	return nil, errors.New("boom")
}

type executorHarness struct {
	store    *file.Persistence
	executor *Executor
}

func newExecutorHarness(t *testing.T, timeout time.Duration) *executorHarness {
	t.Helper()

	logger := slog.Default()
	store := file.NewPersistence(t.TempDir())

	reg := registry.NewRegistry(logger)
	registry.RegisterDefaults(reg, store.Variables())
	reg.Register(&failingActionFactory{})

	tracer := noop.NewTracerProvider().Tracer("test")

	return &executorHarness{
		store:    store,
		executor: NewExecutor(logger, store, reg, nil, tracer, timeout),
	}
}

func (h *executorHarness) createWorkflow(t *testing.T, wf *models.Workflow) {
	t.Helper()
	require.NoError(t, h.store.Workflows().Save(context.Background(), wf))
}

func (h *executorHarness) startExecution(t *testing.T, workflowID string, testMode bool) *models.WorkflowExecution {
	t.Helper()

	execution := &models.WorkflowExecution{
		ID:          "exec-" + workflowID,
		WorkflowID:  workflowID,
		OwnerID:     "owner-1",
		Status:      models.ExecutionRunning,
		StartedAt:   time.Now().UTC(),
		TestMode:    testMode,
		StepResults: []models.StepResult{},
	}
	require.NoError(t, h.store.Executions().Save(context.Background(), execution))

	return execution
}

func logStep(id string, order int, message string) *models.ActionStep {
	return &models.ActionStep{
		ID:     id,
		Type:   "log",
		Config: map[string]any{"message": message},
		Order:  order,
	}
}

func TestExecutor_Run_CompletesPipelineInOrder(t *testing.T) {
	h := newExecutorHarness(t, 0)

	h.createWorkflow(t, &models.Workflow{
		ID:          "wf-1",
		OwnerID:     "owner-1",
		Name:        "Two steps",
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
		Actions: []*models.ActionStep{
			logStep("second", 1, "later"),
			logStep("first", 0, "sooner"),
		},
	})

	execution := h.startExecution(t, "wf-1", false)

	require.NoError(t, h.executor.Run(context.Background(), execution))

	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	assert.NotNil(t, execution.CompletedAt)
	require.Len(t, execution.StepResults, 2)
	assert.Equal(t, "first", execution.StepResults[0].StepID)
	assert.Equal(t, "second", execution.StepResults[1].StepID)
	assert.Equal(t, models.StepCompleted, execution.StepResults[0].Status)
	assert.Equal(t, 1, execution.StepResults[0].Attempts)

	persisted, err := h.store.Executions().GetByID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, persisted.Status)
}

func TestExecutor_Run_UnmetConditionsCompleteWithNoSteps(t *testing.T) {
	h := newExecutorHarness(t, 0)

	h.createWorkflow(t, &models.Workflow{
		ID:          "wf-1",
		OwnerID:     "owner-1",
		Name:        "Gated",
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
		Conditions:  models.Predicate("trigger.status", models.OpEquals, "paid"),
		Actions:     []*models.ActionStep{logStep("s1", 0, "never runs")},
	})

	execution := h.startExecution(t, "wf-1", false)
	execution.TriggerData = map[string]any{"status": "refunded"}

	require.NoError(t, h.executor.Run(context.Background(), execution))

	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	assert.Empty(t, execution.StepResults)
	assert.Empty(t, execution.Error)
}

func TestExecutor_Run_RetriesExhausted(t *testing.T) {
	h := newExecutorHarness(t, 0)

	h.createWorkflow(t, &models.Workflow{
		ID:          "wf-1",
		OwnerID:     "owner-1",
		Name:        "Flaky",
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
		Actions: []*models.ActionStep{
			{
				ID:    "flaky",
				Type:  "test.fail",
				Order: 0,
				Retry: &models.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond},
			},
		},
	})

	execution := h.startExecution(t, "wf-1", false)

	require.NoError(t, h.executor.Run(context.Background(), execution))

	assert.Equal(t, models.ExecutionFailed, execution.Status)
	require.Len(t, execution.StepResults, 1)
	assert.Equal(t, models.StepFailed, execution.StepResults[0].Status)
	assert.Equal(t, 3, execution.StepResults[0].Attempts)
	assert.Contains(t, execution.StepResults[0].Error, "boom")
	assert.Contains(t, execution.Error, "flaky")
}

func TestExecutor_Run_ContinueOnError(t *testing.T) {
	h := newExecutorHarness(t, 0)

	h.createWorkflow(t, &models.Workflow{
		ID:          "wf-1",
		OwnerID:     "owner-1",
		Name:        "Tolerant",
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
		Actions: []*models.ActionStep{
			{ID: "flaky", Type: "test.fail", Order: 0, ContinueOnError: true},
			logStep("after", 1, "still runs"),
		},
	})

	execution := h.startExecution(t, "wf-1", false)

	require.NoError(t, h.executor.Run(context.Background(), execution))

	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	assert.True(t, execution.PartialFailure)
	require.Len(t, execution.StepResults, 2)
	assert.Equal(t, models.StepFailed, execution.StepResults[0].Status)
	assert.Equal(t, models.StepCompleted, execution.StepResults[1].Status)
}

func TestExecutor_Run_DelaySuspends(t *testing.T) {
	h := newExecutorHarness(t, 0)

	h.createWorkflow(t, &models.Workflow{
		ID:          "wf-1",
		OwnerID:     "owner-1",
		Name:        "Delayed",
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
		Actions: []*models.ActionStep{
			{ID: "wait", Type: "control.delay", Config: map[string]any{"duration": "1h"}, Order: 0},
			logStep("after", 1, "after the wait"),
		},
	})

	execution := h.startExecution(t, "wf-1", false)
	execution.WorkerID = "worker-a"

	require.NoError(t, h.executor.Run(context.Background(), execution))

	assert.Equal(t, models.ExecutionWaiting, execution.Status)
	require.NotNil(t, execution.ResumeAt)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), *execution.ResumeAt, time.Minute)
	assert.Equal(t, 1, execution.ResumeOrder)
	assert.Empty(t, execution.WorkerID)
	assert.Nil(t, execution.CompletedAt)

	// Only the delay step has a result so far.
	require.Len(t, execution.StepResults, 1)
	assert.Equal(t, "wait", execution.StepResults[0].StepID)
}

func TestExecutor_Run_ResumeContinuesAfterSuspension(t *testing.T) {
	h := newExecutorHarness(t, 0)

	h.createWorkflow(t, &models.Workflow{
		ID:          "wf-1",
		OwnerID:     "owner-1",
		Name:        "Resumed",
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
		Actions: []*models.ActionStep{
			{ID: "wait", Type: "control.delay", Config: map[string]any{"duration": "1h"}, Order: 0},
			logStep("after", 1, "after the wait"),
		},
	})

	execution := h.startExecution(t, "wf-1", false)
	execution.ResumeOrder = 1
	execution.StepResults = []models.StepResult{
		{StepID: "wait", Status: models.StepCompleted},
	}

	require.NoError(t, h.executor.Run(context.Background(), execution))

	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	require.Len(t, execution.StepResults, 2)
	assert.Equal(t, "after", execution.StepResults[1].StepID)
}

func TestExecutor_Run_TestModeDelayDoesNotSuspend(t *testing.T) {
	h := newExecutorHarness(t, 0)

	h.createWorkflow(t, &models.Workflow{
		ID:          "wf-1",
		OwnerID:     "owner-1",
		Name:        "Dry run",
		TriggerType: models.TriggerTypeManual,
		IsActive:    false,
		Actions: []*models.ActionStep{
			{ID: "wait", Type: "control.delay", Config: map[string]any{"duration": "1h"}, Order: 0},
			logStep("after", 1, "still reached"),
		},
	})

	execution := h.startExecution(t, "wf-1", true)

	require.NoError(t, h.executor.Run(context.Background(), execution))

	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	require.Len(t, execution.StepResults, 2)

	output, ok := execution.StepResults[0].Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, output["simulated"])
}

func TestExecutor_Run_TestModeHTTPRequestIsSimulated(t *testing.T) {
	h := newExecutorHarness(t, 0)

	h.createWorkflow(t, &models.Workflow{
		ID:          "wf-1",
		OwnerID:     "owner-1",
		Name:        "Outbound",
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
		Actions: []*models.ActionStep{
			{
				ID:    "call",
				Type:  "http_request",
				Order: 0,
				Config: map[string]any{
					"url":    "https://api.internal/orders",
					"method": "POST",
				},
			},
		},
	})

	execution := h.startExecution(t, "wf-1", true)

	require.NoError(t, h.executor.Run(context.Background(), execution))

	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	require.Len(t, execution.StepResults, 1)

	output, ok := execution.StepResults[0].Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, output["simulated"])
	assert.Equal(t, "https://api.internal/orders", output["url"])
}

func TestExecutor_Run_ConditionStepSkipsRemaining(t *testing.T) {
	h := newExecutorHarness(t, 0)

	h.createWorkflow(t, &models.Workflow{
		ID:          "wf-1",
		OwnerID:     "owner-1",
		Name:        "Branching",
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
		Actions: []*models.ActionStep{
			{
				ID:    "gate",
				Type:  "control.condition",
				Order: 0,
				Config: map[string]any{
					"conditions": map[string]any{
						"kind":     "predicate",
						"field":    "trigger.approved",
						"operator": "equals",
						"value":    true,
					},
				},
			},
			logStep("then", 1, "only when approved"),
			logStep("also", 2, "only when approved"),
		},
	})

	execution := h.startExecution(t, "wf-1", false)
	execution.TriggerData = map[string]any{"approved": false}

	require.NoError(t, h.executor.Run(context.Background(), execution))

	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	require.Len(t, execution.StepResults, 3)
	assert.Equal(t, models.StepCompleted, execution.StepResults[0].Status)
	assert.Equal(t, models.StepSkipped, execution.StepResults[1].Status)
	assert.Equal(t, models.StepSkipped, execution.StepResults[2].Status)
}

func TestExecutor_Run_TestModeMatchesRealStepSequence(t *testing.T) {
	h := newExecutorHarness(t, 0)

	h.createWorkflow(t, &models.Workflow{
		ID:          "wf-1",
		OwnerID:     "owner-1",
		Name:        "Dry run parity",
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
		Actions: []*models.ActionStep{
			logStep("greet", 0, "hello"),
			{
				ID:    "gate",
				Type:  "control.condition",
				Order: 1,
				Config: map[string]any{
					"conditions": map[string]any{
						"kind":     "predicate",
						"field":    "trigger.approved",
						"operator": "equals",
						"value":    true,
					},
				},
			},
			logStep("wrap", 2, "only when approved"),
		},
	})

	run := func(id string, testMode bool) *models.WorkflowExecution {
		execution := &models.WorkflowExecution{
			ID:          id,
			WorkflowID:  "wf-1",
			OwnerID:     "owner-1",
			Status:      models.ExecutionRunning,
			StartedAt:   time.Now().UTC(),
			TestMode:    testMode,
			TriggerData: map[string]any{"approved": false},
			StepResults: []models.StepResult{},
		}
		require.NoError(t, h.store.Executions().Save(context.Background(), execution))
		require.NoError(t, h.executor.Run(context.Background(), execution))

		return execution
	}

	real := run("exec-real", false)
	dry := run("exec-dry", true)

	assert.Equal(t, models.ExecutionCompleted, real.Status)
	assert.Equal(t, models.ExecutionCompleted, dry.Status)

	// A test-mode run walks the same pipeline shape as a real one; only
	// the side effects differ, never the reported step sequence.
	require.Len(t, dry.StepResults, len(real.StepResults))
	for i := range real.StepResults {
		assert.Equal(t, real.StepResults[i].StepID, dry.StepResults[i].StepID)
		assert.Equal(t, real.StepResults[i].Status, dry.StepResults[i].Status)
	}
	assert.Equal(t, models.StepSkipped, dry.StepResults[2].Status)
}

func TestExecutor_Run_CancellationObservedBetweenSteps(t *testing.T) {
	h := newExecutorHarness(t, 0)

	h.createWorkflow(t, &models.Workflow{
		ID:          "wf-1",
		OwnerID:     "owner-1",
		Name:        "Cancelled",
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
		Actions:     []*models.ActionStep{logStep("s1", 0, "never runs")},
	})

	execution := h.startExecution(t, "wf-1", false)
	execution.CancelRequested = true
	require.NoError(t, h.store.Executions().Save(context.Background(), execution))

	require.NoError(t, h.executor.Run(context.Background(), execution))

	assert.Equal(t, models.ExecutionCancelled, execution.Status)
	assert.Empty(t, execution.StepResults)
	assert.NotNil(t, execution.CompletedAt)
}

func TestExecutor_Run_RunningBudgetExhausted(t *testing.T) {
	h := newExecutorHarness(t, 50*time.Millisecond)

	h.createWorkflow(t, &models.Workflow{
		ID:          "wf-1",
		OwnerID:     "owner-1",
		Name:        "Over budget",
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
		Actions:     []*models.ActionStep{logStep("s1", 0, "never runs")},
	})

	execution := h.startExecution(t, "wf-1", false)
	// Accumulated running time from earlier segments already exceeds the
	// budget; waiting time never counts.
	execution.RunningMS = 100

	require.NoError(t, h.executor.Run(context.Background(), execution))

	assert.Equal(t, models.ExecutionFailed, execution.Status)
	assert.Empty(t, execution.StepResults)
	assert.Contains(t, execution.Error, "timed out")
}

func TestExecutor_Run_InvalidStepConfigFailsWithoutRetry(t *testing.T) {
	h := newExecutorHarness(t, 0)

	h.createWorkflow(t, &models.Workflow{
		ID:          "wf-1",
		OwnerID:     "owner-1",
		Name:        "Bad config",
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
		Actions: []*models.ActionStep{
			{
				ID:     "broken",
				Type:   "log",
				Config: map[string]any{},
				Order:  0,
				Retry:  &models.RetryPolicy{MaxAttempts: 5, InitialInterval: time.Millisecond},
			},
		},
	})

	execution := h.startExecution(t, "wf-1", false)

	require.NoError(t, h.executor.Run(context.Background(), execution))

	assert.Equal(t, models.ExecutionFailed, execution.Status)
	require.Len(t, execution.StepResults, 1)
	assert.Equal(t, 1, execution.StepResults[0].Attempts, "schema failures do not retry")
}

func TestExecutor_Run_StepOutputsFlowDownstream(t *testing.T) {
	h := newExecutorHarness(t, 0)

	h.createWorkflow(t, &models.Workflow{
		ID:          "wf-1",
		OwnerID:     "owner-1",
		Name:        "Chained",
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
		Actions: []*models.ActionStep{
			logStep("greet", 0, "hello"),
			{
				ID:    "gate",
				Type:  "control.condition",
				Order: 1,
				Config: map[string]any{
					"conditions": map[string]any{
						"kind":     "predicate",
						"field":    "steps.greet.message",
						"operator": "equals",
						"value":    "hello",
					},
				},
			},
			logStep("done", 2, "reached"),
		},
	})

	execution := h.startExecution(t, "wf-1", false)

	require.NoError(t, h.executor.Run(context.Background(), execution))

	assert.Equal(t, models.ExecutionCompleted, execution.Status)
	require.Len(t, execution.StepResults, 3)
	assert.Equal(t, models.StepCompleted, execution.StepResults[2].Status)
}
