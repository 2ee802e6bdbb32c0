package file

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence"
)

func newTestStore(t *testing.T) *Persistence {
	t.Helper()

	return NewPersistence(t.TempDir())
}

func TestWorkflowRepository_SaveGetDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	workflow := &models.Workflow{
		ID:          "wf-1",
		OwnerID:     "owner-1",
		Name:        "Invoice sync",
		TriggerType: models.TriggerTypeManual,
		IsActive:    true,
	}

	require.NoError(t, store.Workflows().Save(ctx, workflow))

	loaded, err := store.Workflows().GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Invoice sync", loaded.Name)

	require.NoError(t, store.Workflows().Delete(ctx, "wf-1"))

	_, err = store.Workflows().GetByID(ctx, "wf-1")
	assert.True(t, persistence.IsNotFound(err))
}

func TestWorkflowRepository_ListFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	active := true

	workflows := []*models.Workflow{
		{ID: "wf-1", OwnerID: "alice", Name: "A", TriggerType: models.TriggerTypeManual, IsActive: true, Tags: []string{"billing"}},
		{ID: "wf-2", OwnerID: "alice", Name: "B", TriggerType: models.TriggerTypeSchedule, IsActive: false},
		{ID: "wf-3", OwnerID: "bob", Name: "C", TriggerType: models.TriggerTypeManual, IsActive: true},
	}
	for _, wf := range workflows {
		require.NoError(t, store.Workflows().Save(ctx, wf))
	}

	result, err := store.Workflows().List(ctx, persistence.ListWorkflowsOptions{OwnerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Total)
	assert.Len(t, result.Items, 2)

	result, err = store.Workflows().List(ctx, persistence.ListWorkflowsOptions{IsActive: &active})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Total)

	result, err = store.Workflows().List(ctx, persistence.ListWorkflowsOptions{Tag: "billing"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Total)

	// Pagination reports the unpaginated total.
	result, err = store.Workflows().List(ctx, persistence.ListWorkflowsOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Total)
	assert.Len(t, result.Items, 1)
}

func TestExecutionRepository_ClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	execution := &models.WorkflowExecution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     models.ExecutionPending,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.Executions().Save(ctx, execution))

	const contenders = 16

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for i := 0; i < contenders; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			claimed, err := store.Executions().Claim(ctx, "exec-1", "worker")
			assert.NoError(t, err)

			if claimed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, wins)

	loaded, err := store.Executions().GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, loaded.Status)
	assert.Equal(t, "worker", loaded.WorkerID)
}

func TestExecutionRepository_ClaimResume(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	resumeAt := time.Now().UTC().Add(-time.Minute)
	execution := &models.WorkflowExecution{
		ID:          "exec-1",
		WorkflowID:  "wf-1",
		Status:      models.ExecutionWaiting,
		ResumeAt:    &resumeAt,
		ResumeOrder: 2,
	}
	require.NoError(t, store.Executions().Save(ctx, execution))

	claimed, err := store.Executions().ClaimResume(ctx, "exec-1", "worker-a")
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim loses: the execution is already running.
	claimed, err = store.Executions().ClaimResume(ctx, "exec-1", "worker-b")
	require.NoError(t, err)
	assert.False(t, claimed)

	loaded, err := store.Executions().GetByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, loaded.Status)
	assert.Nil(t, loaded.ResumeAt)
	assert.Equal(t, 2, loaded.ResumeOrder)
}

func TestExecutionRepository_ListOversizedLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const saved = 60

	for i := 0; i < saved; i++ {
		require.NoError(t, store.Executions().Save(ctx, &models.WorkflowExecution{
			ID:         fmt.Sprintf("exec-%03d", i),
			WorkflowID: "wf-1",
			Status:     models.ExecutionCompleted,
			StartedAt:  time.Now().UTC(),
		}))
	}

	// A limit above the shared maximum clamps to the maximum instead of
	// collapsing the page, so every row still fits in one page here.
	result, err := store.Executions().List(ctx, persistence.ListExecutionsOptions{Limit: persistence.MaxPageLimit + 300})
	require.NoError(t, err)
	assert.Equal(t, int64(saved), result.Total)
	assert.Len(t, result.Items, saved)

	result, err = store.Executions().List(ctx, persistence.ListExecutionsOptions{Limit: 150})
	require.NoError(t, err)
	assert.Len(t, result.Items, saved)
}

func TestExecutionRepository_RequestCancel(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	pending := &models.WorkflowExecution{ID: "exec-pending", WorkflowID: "wf-1", Status: models.ExecutionPending}
	require.NoError(t, store.Executions().Save(ctx, pending))

	cancelled, err := store.Executions().RequestCancel(ctx, "exec-pending")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCancelled, cancelled.Status)
	assert.True(t, cancelled.CancelRequested)
	assert.NotNil(t, cancelled.CompletedAt)

	// A waiting execution has no worker to observe the flag, so cancel
	// lands immediately instead of after the resumption timer.
	resumeAt := time.Now().UTC().Add(7 * 24 * time.Hour)
	waiting := &models.WorkflowExecution{ID: "exec-waiting", WorkflowID: "wf-1", Status: models.ExecutionWaiting, ResumeAt: &resumeAt}
	require.NoError(t, store.Executions().Save(ctx, waiting))

	cancelled, err = store.Executions().RequestCancel(ctx, "exec-waiting")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCancelled, cancelled.Status)
	assert.True(t, cancelled.CancelRequested)
	assert.NotNil(t, cancelled.CompletedAt)
	assert.Nil(t, cancelled.ResumeAt)

	due, err := store.Executions().DueResumptions(ctx, resumeAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)

	running := &models.WorkflowExecution{ID: "exec-running", WorkflowID: "wf-1", Status: models.ExecutionRunning}
	require.NoError(t, store.Executions().Save(ctx, running))

	flagged, err := store.Executions().RequestCancel(ctx, "exec-running")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionRunning, flagged.Status)
	assert.True(t, flagged.CancelRequested)

	// Terminal executions are immutable.
	_, err = store.Executions().RequestCancel(ctx, "exec-pending")
	assert.ErrorIs(t, err, persistence.ErrTerminalExecution)
}

func TestExecutionRepository_DueResumptions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	executions := []*models.WorkflowExecution{
		{ID: "exec-due", WorkflowID: "wf-1", Status: models.ExecutionWaiting, ResumeAt: &past},
		{ID: "exec-later", WorkflowID: "wf-1", Status: models.ExecutionWaiting, ResumeAt: &future},
		{ID: "exec-running", WorkflowID: "wf-1", Status: models.ExecutionRunning},
	}
	for _, execution := range executions {
		require.NoError(t, store.Executions().Save(ctx, execution))
	}

	due, err := store.Executions().DueResumptions(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "exec-due", due[0].ID)
}

func TestExecutionRepository_Statistics(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	terminalAt := func(d time.Duration) *time.Time {
		at := base.Add(d)

		return &at
	}

	executions := []*models.WorkflowExecution{
		{ID: "e1", WorkflowID: "wf-1", Status: models.ExecutionCompleted, StartedAt: base, CompletedAt: terminalAt(10 * time.Second)},
		{ID: "e2", WorkflowID: "wf-1", Status: models.ExecutionCompleted, StartedAt: base, CompletedAt: terminalAt(20 * time.Second)},
		{ID: "e3", WorkflowID: "wf-1", Status: models.ExecutionFailed, StartedAt: base, CompletedAt: terminalAt(30 * time.Second)},
		{ID: "e4", WorkflowID: "wf-1", Status: models.ExecutionRunning, StartedAt: base},
		{ID: "e5", WorkflowID: "wf-other", Status: models.ExecutionCompleted, StartedAt: base, CompletedAt: terminalAt(time.Second)},
	}
	for _, execution := range executions {
		require.NoError(t, store.Executions().Save(ctx, execution))
	}

	stats, err := store.Executions().Statistics(ctx, "wf-1")
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(2), stats.ByStatus[models.ExecutionCompleted])
	assert.Equal(t, int64(1), stats.ByStatus[models.ExecutionFailed])
	assert.Equal(t, int64(1), stats.ByStatus[models.ExecutionRunning])
	assert.Equal(t, 20*time.Second, stats.AverageDuration)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 0.0001)
}

func TestExecutionRepository_StatisticsSkipsIncompleteDurations(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	terminalAt := func(d time.Duration) *time.Time {
		at := base.Add(d)

		return &at
	}

	// The failed row is terminal but never recorded a completion
	// timestamp; it counts against the success rate without dragging the
	// average duration toward zero.
	executions := []*models.WorkflowExecution{
		{ID: "e1", WorkflowID: "wf-1", Status: models.ExecutionCompleted, StartedAt: base, CompletedAt: terminalAt(10 * time.Second)},
		{ID: "e2", WorkflowID: "wf-1", Status: models.ExecutionCompleted, StartedAt: base, CompletedAt: terminalAt(30 * time.Second)},
		{ID: "e3", WorkflowID: "wf-1", Status: models.ExecutionFailed, StartedAt: base},
	}
	for _, execution := range executions {
		require.NoError(t, store.Executions().Save(ctx, execution))
	}

	stats, err := store.Executions().Statistics(ctx, "wf-1")
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, 20*time.Second, stats.AverageDuration)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 0.0001)
}

func TestScheduleRepository_AdvanceNextRunFence(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	schedule := &models.Schedule{
		ID:             "sch-1",
		WorkflowID:     "wf-1",
		CronExpression: "0 * * * *",
		NextRunAt:      from,
		IsActive:       true,
	}
	require.NoError(t, store.Schedules().Save(ctx, schedule))

	advanced, err := store.Schedules().AdvanceNextRun(ctx, "sch-1", from, to)
	require.NoError(t, err)
	assert.True(t, advanced)

	// A second advance for the same occurrence finds NextRunAt moved and
	// loses, so the occurrence fires exactly once.
	advanced, err = store.Schedules().AdvanceNextRun(ctx, "sch-1", from, to.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, advanced)

	loaded, err := store.Schedules().GetByID(ctx, "sch-1")
	require.NoError(t, err)
	assert.True(t, loaded.NextRunAt.Equal(to))
}

func TestScheduleRepository_ActiveSchedules(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	schedules := []*models.Schedule{
		{ID: "sch-1", WorkflowID: "wf-1", CronExpression: "0 * * * *", IsActive: true},
		{ID: "sch-2", WorkflowID: "wf-2", CronExpression: "0 * * * *", IsActive: false},
	}
	for _, schedule := range schedules {
		require.NoError(t, store.Schedules().Save(ctx, schedule))
	}

	active, err := store.Schedules().ActiveSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "sch-1", active[0].ID)
}

func TestWebhookRepository_ByEndpoint(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	webhook := &models.Webhook{
		ID:         "wh-1",
		WorkflowID: "wf-1",
		EndpointID: "wh-abc123",
		Secret:     "s3cret",
		IsActive:   true,
	}
	require.NoError(t, store.Webhooks().Save(ctx, webhook))

	loaded, err := store.Webhooks().ByEndpoint(ctx, "wh-abc123")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", loaded.WorkflowID)

	_, err = store.Webhooks().ByEndpoint(ctx, "wh-unknown")
	assert.True(t, persistence.IsNotFound(err))
}

func TestSubscriptionRepository_ForEventType(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	subscriptions := []*models.EventSubscription{
		{ID: "sub-1", WorkflowID: "wf-1", EventType: "order.created", IsActive: true},
		{ID: "sub-2", WorkflowID: "wf-2", EventType: "order.created", IsActive: false},
		{ID: "sub-3", WorkflowID: "wf-3", EventType: "user.signup", IsActive: true},
	}
	for _, subscription := range subscriptions {
		require.NoError(t, store.Subscriptions().Save(ctx, subscription))
	}

	matched, err := store.Subscriptions().ForEventType(ctx, "order.created")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "sub-1", matched[0].ID)
}

func TestVariableRepository_ResolvePrecedence(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	variables := []*models.Variable{
		{Name: "region", Value: "us-east", Scope: models.ScopeGlobal},
		{Name: "region", Value: "eu-west", Scope: models.ScopeWorkflow, WorkflowID: "wf-1"},
		{Name: "retries", Value: 3, Scope: models.ScopeGlobal},
		{Name: "other", Value: "x", Scope: models.ScopeWorkflow, WorkflowID: "wf-2"},
	}
	for _, variable := range variables {
		require.NoError(t, store.Variables().Upsert(ctx, variable))
	}

	resolved, err := store.Variables().Resolve(ctx, "wf-1")
	require.NoError(t, err)

	assert.Equal(t, "eu-west", resolved["region"], "workflow scope overrides global")
	assert.EqualValues(t, 3, resolved["retries"])
	assert.NotContains(t, resolved, "other")
}

func TestVariableRepository_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	variable := &models.Variable{Name: "mode", Value: "draft", Scope: models.ScopeGlobal}
	require.NoError(t, store.Variables().Upsert(ctx, variable))

	variable.Value = "live"
	require.NoError(t, store.Variables().Upsert(ctx, variable))

	loaded, err := store.Variables().Get(ctx, models.ScopeGlobal, "", "mode")
	require.NoError(t, err)
	assert.Equal(t, "live", loaded.Value)
}

func TestVariableRepository_ConcurrentUpsertLastWriterWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const writers = 16

	var wg sync.WaitGroup

	values := make([]string, writers)
	for i := range values {
		values[i] = fmt.Sprintf("value-%d", i)
	}

	for _, value := range values {
		wg.Add(1)

		go func(v string) {
			defer wg.Done()

			assert.NoError(t, store.Variables().Upsert(ctx, &models.Variable{
				Name: "counter", Value: v, Scope: models.ScopeWorkflow, WorkflowID: "wf-1",
			}))
		}(value)
	}

	wg.Wait()

	// One complete write survives; never a blend of two writers.
	loaded, err := store.Variables().Get(ctx, models.ScopeWorkflow, "wf-1", "counter")
	require.NoError(t, err)
	assert.Contains(t, values, loaded.Value)
}
