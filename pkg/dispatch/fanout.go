package dispatch

import (
	"context"
	"log/slog"

	"github.com/mstairs/flowline/pkg/conditions"
	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence"
)

// EventFanout enqueues one execution per active subscription matching a
// domain event. Subscription filters are field -> expected value checks
// against the event payload; all must match.
type EventFanout struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	enqueuer    Enqueuer
}

func NewEventFanout(logger *slog.Logger, persist persistence.Persistence, enqueuer Enqueuer) *EventFanout {
	return &EventFanout{
		logger:      logger.With("module", "event_fanout"),
		persistence: persist,
		enqueuer:    enqueuer,
	}
}

// Dispatch fans an event out to every matching subscription. A subscription
// that fails to enqueue does not block the others.
func (f *EventFanout) Dispatch(ctx context.Context, eventType string, payload map[string]any) ([]*models.WorkflowExecution, error) {
	subscriptions, err := f.persistence.Subscriptions().ForEventType(ctx, eventType)
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0, len(subscriptions))

	for _, subscription := range subscriptions {
		if !matchesFilters(subscription.EventFilters, payload) {
			f.logger.Debug("Event filtered out",
				"subscription_id", subscription.ID, "event_type", eventType)

			continue
		}

		triggerData := map[string]any{
			"event_type":      eventType,
			"event":           payload,
			"subscription_id": subscription.ID,
		}

		execution, err := f.enqueuer.Enqueue(ctx, subscription.WorkflowID, triggerData, false)
		if err != nil {
			f.logger.Error("Failed to enqueue subscribed execution",
				"workflow_id", subscription.WorkflowID,
				"subscription_id", subscription.ID,
				"error", err)

			continue
		}

		executions = append(executions, execution)
	}

	if len(executions) > 0 {
		f.logger.Info("Event dispatched", "event_type", eventType, "executions", len(executions))
	}

	return executions, nil
}

// matchesFilters evaluates each filter as an equality predicate over the
// payload, reusing the condition evaluator's lookup and coercion rules.
func matchesFilters(filters map[string]any, payload map[string]any) bool {
	for field, want := range filters {
		node := models.Predicate(field, models.OpEquals, want)

		matched, err := conditions.Evaluate(node, payload)
		if err != nil || !matched {
			return false
		}
	}

	return true
}
