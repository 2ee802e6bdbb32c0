package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mstairs/flowline/pkg/eventbus"
	"github.com/mstairs/flowline/pkg/events"
	"github.com/mstairs/flowline/pkg/persistence"
	"github.com/mstairs/flowline/pkg/services"
)

// DefaultTickInterval is the cadence of the scheduler poll. Cron
// granularity is one minute, so a faster tick buys nothing.
const DefaultTickInterval = time.Minute

// Scheduler polls for due schedules and due resumptions on a single
// cooperative timer. Before enqueuing an occurrence it advances the
// schedule's next_run_at with a compare-and-set; a tick that loses the
// fence (a concurrent dispatcher, or a spurious repeat tick) enqueues
// nothing. The same tick wakes waiting executions whose resume time has
// passed, so delays and cron share one "wake me at time T" primitive.
type Scheduler struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	enqueuer    Enqueuer
	bus         eventbus.EventPublisher
	lock        *LeaderLock
	interval    time.Duration

	ticker  *time.Ticker
	done    chan bool
	started bool
	mu      sync.Mutex
}

func NewScheduler(
	logger *slog.Logger,
	persist persistence.Persistence,
	enqueuer Enqueuer,
	bus eventbus.EventPublisher,
	lock *LeaderLock,
	interval time.Duration,
) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	return &Scheduler{
		logger:      logger.With("module", "scheduler"),
		persistence: persist,
		enqueuer:    enqueuer,
		bus:         bus,
		lock:        lock,
		interval:    interval,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.ticker = time.NewTicker(s.interval)
	s.done = make(chan bool)
	s.started = true

	go s.poll(ctx)

	s.logger.Info("Scheduler started", "interval", s.interval)

	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.ticker.Stop()

	select {
	case s.done <- true:
	default:
	}

	s.started = false

	if s.lock != nil {
		s.lock.Release(ctx)
	}

	s.logger.Info("Scheduler stopped")

	return nil
}

func (s *Scheduler) poll(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.ticker.C:
			s.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick processes one scheduler pass. Exposed so tests can drive it with a
// controlled clock.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	if s.lock != nil && !s.lock.TryAcquire(ctx) {
		s.logger.Debug("Not the active scheduler, skipping tick")

		return
	}

	s.processDueSchedules(ctx, now)
	s.processDueResumptions(ctx, now)
}

func (s *Scheduler) processDueSchedules(ctx context.Context, now time.Time) {
	schedules, err := s.persistence.Schedules().ActiveSchedules(ctx)
	if err != nil {
		s.logger.Error("Failed to list active schedules", "error", err)

		return
	}

	for _, schedule := range schedules {
		if schedule.Expired(now) {
			schedule.IsActive = false
			schedule.UpdatedAt = now

			if err := s.persistence.Schedules().Save(ctx, schedule); err != nil {
				s.logger.Error("Failed to deactivate expired schedule", "schedule_id", schedule.ID, "error", err)
			}

			continue
		}

		if !schedule.IsDue(now) {
			continue
		}

		next, err := schedule.NextAfter(now)
		if err != nil {
			s.logger.Error("Failed to compute next occurrence", "schedule_id", schedule.ID, "error", err)

			continue
		}

		// Advance before enqueue: winning this CAS consumes the
		// occurrence, so a repeated tick cannot double-fire it.
		advanced, err := s.persistence.Schedules().AdvanceNextRun(ctx, schedule.ID, schedule.NextRunAt, next)
		if err != nil {
			s.logger.Error("Failed to advance schedule", "schedule_id", schedule.ID, "error", err)

			continue
		}

		if !advanced {
			s.logger.Debug("Occurrence already consumed", "schedule_id", schedule.ID)

			continue
		}

		triggerData := map[string]any{
			"schedule_id":  schedule.ID,
			"scheduled_at": schedule.NextRunAt.Format(time.RFC3339),
		}

		execution, err := s.enqueuer.Enqueue(ctx, schedule.WorkflowID, triggerData, false)
		if err != nil {
			// The occurrence stays consumed even when the workflow went
			// inactive between record sync and tick.
			if errors.Is(err, services.ErrInactiveTrigger) {
				s.logger.Info("Workflow inactive, occurrence skipped", "workflow_id", schedule.WorkflowID)
			} else {
				s.logger.Error("Failed to enqueue scheduled execution",
					"workflow_id", schedule.WorkflowID, "schedule_id", schedule.ID, "error", err)
			}

			continue
		}

		s.logger.Info("Scheduled execution enqueued",
			"workflow_id", schedule.WorkflowID,
			"schedule_id", schedule.ID,
			"execution_id", execution.ID,
			"next_run_at", next)
	}
}

func (s *Scheduler) processDueResumptions(ctx context.Context, now time.Time) {
	due, err := s.persistence.Executions().DueResumptions(ctx, now)
	if err != nil {
		s.logger.Error("Failed to list due resumptions", "error", err)

		return
	}

	for _, execution := range due {
		if s.bus == nil {
			continue
		}

		event := events.ExecutionResumeDue{
			BaseEvent:   events.NewBaseEvent(events.ExecutionResumeDueEvent, execution.WorkflowID),
			ExecutionID: execution.ID,
		}
		if execution.ResumeAt != nil {
			event.ResumeAt = *execution.ResumeAt
		}

		if err := s.bus.Publish(ctx, execution.WorkflowID, event); err != nil {
			s.logger.Error("Failed to publish resume signal", "execution_id", execution.ID, "error", err)

			continue
		}

		s.logger.Info("Resume signaled", "execution_id", execution.ID)
	}
}
