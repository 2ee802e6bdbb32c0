package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstairs/flowline/pkg/eventbus"
	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence/file"
	"github.com/mstairs/flowline/pkg/services"
)

// recordingEnqueuer captures Enqueue calls instead of running anything.
type recordingEnqueuer struct {
	mu    sync.Mutex
	calls []enqueueCall
	err   error
}

type enqueueCall struct {
	workflowID  string
	triggerData map[string]any
	testMode    bool
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, workflowID string, triggerData map[string]any, testMode bool) (*models.WorkflowExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}

	r.calls = append(r.calls, enqueueCall{workflowID, triggerData, testMode})

	return &models.WorkflowExecution{
		ID:         "exec-" + workflowID,
		WorkflowID: workflowID,
		Status:     models.ExecutionPending,
	}, nil
}

func (r *recordingEnqueuer) Calls() []enqueueCall {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]enqueueCall(nil), r.calls...)
}

// recordingPublisher captures published lifecycle events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) Events() []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]eventbus.Event(nil), p.events...)
}

func TestScheduler_Tick_FiresDueSchedulesOnce(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	enqueuer := &recordingEnqueuer{}

	scheduler := NewScheduler(slog.Default(), store, enqueuer, nil, nil, 0)

	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

	schedule := &models.Schedule{
		ID:             "sch-1",
		WorkflowID:     "wf-1",
		CronExpression: "0 * * * *",
		NextRunAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		IsActive:       true,
	}
	require.NoError(t, store.Schedules().Save(ctx, schedule))

	scheduler.Tick(ctx, now)

	calls := enqueuer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "wf-1", calls[0].workflowID)
	assert.Equal(t, "sch-1", calls[0].triggerData["schedule_id"])
	assert.False(t, calls[0].testMode)

	// The same instant again: next_run_at has moved, the occurrence is
	// consumed.
	scheduler.Tick(ctx, now)
	assert.Len(t, enqueuer.Calls(), 1)

	loaded, err := store.Schedules().GetByID(ctx, "sch-1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), loaded.NextRunAt)
}

func TestScheduler_Tick_NotDueDoesNothing(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	enqueuer := &recordingEnqueuer{}

	scheduler := NewScheduler(slog.Default(), store, enqueuer, nil, nil, 0)

	schedule := &models.Schedule{
		ID:             "sch-1",
		WorkflowID:     "wf-1",
		CronExpression: "0 * * * *",
		NextRunAt:      time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
		IsActive:       true,
	}
	require.NoError(t, store.Schedules().Save(ctx, schedule))

	scheduler.Tick(ctx, time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC))
	assert.Empty(t, enqueuer.Calls())
}

func TestScheduler_Tick_DeactivatesExpiredSchedules(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	enqueuer := &recordingEnqueuer{}

	scheduler := NewScheduler(slog.Default(), store, enqueuer, nil, nil, 0)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	endsAt := now.Add(-time.Hour)

	schedule := &models.Schedule{
		ID:             "sch-1",
		WorkflowID:     "wf-1",
		CronExpression: "0 * * * *",
		NextRunAt:      now.Add(-2 * time.Hour),
		IsActive:       true,
		EndsAt:         &endsAt,
	}
	require.NoError(t, store.Schedules().Save(ctx, schedule))

	scheduler.Tick(ctx, now)

	assert.Empty(t, enqueuer.Calls())

	loaded, err := store.Schedules().GetByID(ctx, "sch-1")
	require.NoError(t, err)
	assert.False(t, loaded.IsActive)
}

func TestScheduler_Tick_InactiveWorkflowConsumesOccurrence(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	enqueuer := &recordingEnqueuer{err: &services.ServiceError{
		Op: "enqueue", Code: "inactive", Message: "inactive", Err: services.ErrInactiveTrigger,
	}}

	scheduler := NewScheduler(slog.Default(), store, enqueuer, nil, nil, 0)

	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	schedule := &models.Schedule{
		ID:             "sch-1",
		WorkflowID:     "wf-1",
		CronExpression: "0 * * * *",
		NextRunAt:      from,
		IsActive:       true,
	}
	require.NoError(t, store.Schedules().Save(ctx, schedule))

	scheduler.Tick(ctx, from.Add(time.Second))

	loaded, err := store.Schedules().GetByID(ctx, "sch-1")
	require.NoError(t, err)
	assert.True(t, loaded.NextRunAt.After(from), "enqueue failure does not refund the occurrence")
}

func TestScheduler_Tick_SignalsDueResumptions(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	publisher := &recordingPublisher{}

	scheduler := NewScheduler(slog.Default(), store, &recordingEnqueuer{}, publisher, nil, 0)

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	executions := []*models.WorkflowExecution{
		{ID: "exec-due", WorkflowID: "wf-1", Status: models.ExecutionWaiting, ResumeAt: &past},
		{ID: "exec-later", WorkflowID: "wf-1", Status: models.ExecutionWaiting, ResumeAt: &future},
	}
	for _, execution := range executions {
		require.NoError(t, store.Executions().Save(ctx, execution))
	}

	scheduler.Tick(ctx, now)

	published := publisher.Events()
	require.Len(t, published, 1)
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"order_id":"o-1"}`)
	secret := "s3cret"
	signature := Sign(secret, payload)

	assert.NoError(t, VerifySignature(secret, payload, signature))
	assert.NoError(t, VerifySignature(secret, payload, "sha256="+signature))

	err := VerifySignature(secret, payload, "")
	assert.ErrorIs(t, err, services.ErrInvalidSignature)

	err = VerifySignature(secret, payload, Sign("wrong", payload))
	assert.ErrorIs(t, err, services.ErrInvalidSignature)

	err = VerifySignature(secret, []byte(`{"order_id":"tampered"}`), signature)
	assert.ErrorIs(t, err, services.ErrInvalidSignature)

	// An empty secret disables verification.
	assert.NoError(t, VerifySignature("", payload, ""))
}

func TestWebhookReceiver_Receive(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	enqueuer := &recordingEnqueuer{}

	receiver := NewWebhookReceiver(slog.Default(), store, enqueuer)

	webhook := &models.Webhook{
		ID:         "wh-1",
		WorkflowID: "wf-1",
		EndpointID: "wh-abc123",
		Secret:     "s3cret",
		IsActive:   true,
	}
	require.NoError(t, store.Webhooks().Save(ctx, webhook))

	payload := []byte(`{"order_id":"o-1"}`)

	execution, err := receiver.Receive(ctx, "wh-abc123", payload, Sign("s3cret", payload))
	require.NoError(t, err)
	assert.Equal(t, "wf-1", execution.WorkflowID)

	calls := enqueuer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "o-1", calls[0].triggerData["order_id"])
	assert.Equal(t, "wh-1", calls[0].triggerData["webhook_id"])
	assert.Equal(t, "wh-abc123", calls[0].triggerData["endpoint_id"])
}

func TestWebhookReceiver_Receive_BadSignatureCreatesNothing(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	enqueuer := &recordingEnqueuer{}

	receiver := NewWebhookReceiver(slog.Default(), store, enqueuer)

	webhook := &models.Webhook{
		ID: "wh-1", WorkflowID: "wf-1", EndpointID: "wh-abc123", Secret: "s3cret", IsActive: true,
	}
	require.NoError(t, store.Webhooks().Save(ctx, webhook))

	_, err := receiver.Receive(ctx, "wh-abc123", []byte(`{}`), "sha256=deadbeef")
	assert.ErrorIs(t, err, services.ErrInvalidSignature)
	assert.Empty(t, enqueuer.Calls())
}

func TestWebhookReceiver_Receive_UnknownEndpoint(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	receiver := NewWebhookReceiver(slog.Default(), store, &recordingEnqueuer{})

	_, err := receiver.Receive(context.Background(), "wh-missing", []byte(`{}`), "")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestWebhookReceiver_Receive_NonJSONPayload(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	enqueuer := &recordingEnqueuer{}

	receiver := NewWebhookReceiver(slog.Default(), store, enqueuer)

	webhook := &models.Webhook{ID: "wh-1", WorkflowID: "wf-1", EndpointID: "wh-abc123", IsActive: true}
	require.NoError(t, store.Webhooks().Save(ctx, webhook))

	_, err := receiver.Receive(ctx, "wh-abc123", []byte("plain text"), "")
	require.NoError(t, err)

	calls := enqueuer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "plain text", calls[0].triggerData["raw"])
}

func TestEventFanout_Dispatch(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	enqueuer := &recordingEnqueuer{}

	fanout := NewEventFanout(slog.Default(), store, enqueuer)

	subscriptions := []*models.EventSubscription{
		{ID: "sub-any", WorkflowID: "wf-1", EventType: "order.created", IsActive: true},
		{ID: "sub-eu", WorkflowID: "wf-2", EventType: "order.created", IsActive: true,
			EventFilters: map[string]any{"region": "eu"}},
		{ID: "sub-us", WorkflowID: "wf-3", EventType: "order.created", IsActive: true,
			EventFilters: map[string]any{"region": "us"}},
		{ID: "sub-other", WorkflowID: "wf-4", EventType: "order.refunded", IsActive: true},
	}
	for _, subscription := range subscriptions {
		require.NoError(t, store.Subscriptions().Save(ctx, subscription))
	}

	executions, err := fanout.Dispatch(ctx, "order.created", map[string]any{"region": "eu", "amount": 10})
	require.NoError(t, err)
	assert.Len(t, executions, 2)

	workflows := make(map[string]bool)
	for _, call := range enqueuer.Calls() {
		workflows[call.workflowID] = true
		assert.Equal(t, "order.created", call.triggerData["event_type"])
	}

	assert.True(t, workflows["wf-1"], "filterless subscription matches everything")
	assert.True(t, workflows["wf-2"], "matching filter fires")
	assert.False(t, workflows["wf-3"], "mismatched filter does not")
	assert.False(t, workflows["wf-4"], "other event types do not")
}

func TestEventFanout_Dispatch_NestedFilterFields(t *testing.T) {
	ctx := context.Background()
	store := file.NewPersistence(t.TempDir())
	enqueuer := &recordingEnqueuer{}

	fanout := NewEventFanout(slog.Default(), store, enqueuer)

	subscription := &models.EventSubscription{
		ID: "sub-1", WorkflowID: "wf-1", EventType: "order.created", IsActive: true,
		EventFilters: map[string]any{"customer.tier": "gold"},
	}
	require.NoError(t, store.Subscriptions().Save(ctx, subscription))

	executions, err := fanout.Dispatch(ctx, "order.created", map[string]any{
		"customer": map[string]any{"tier": "gold"},
	})
	require.NoError(t, err)
	assert.Len(t, executions, 1)

	executions, err = fanout.Dispatch(ctx, "order.created", map[string]any{
		"customer": map[string]any{"tier": "bronze"},
	})
	require.NoError(t, err)
	assert.Empty(t, executions)
}
