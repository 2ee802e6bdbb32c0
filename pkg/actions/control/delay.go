// Package control holds the built-in control-flow actions. They register
// in the same action registry as side-effecting actions but steer the
// pipeline instead of producing external effects.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/protocol"
)

func NewDelayActionFactory() *DelayActionFactory {
	return &DelayActionFactory{}
}

type DelayActionFactory struct{}

func (*DelayActionFactory) ID() string {
	return "control.delay"
}

func (*DelayActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":        "string",
				"description": "How long to suspend, as a Go duration string (e.g. \"30s\", \"2h\").",
			},
			"until": map[string]any{
				"type":        "string",
				"description": "Absolute RFC3339 resume time. Takes precedence over duration.",
			},
		},
	}
}

func (f *DelayActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewDelayAction(config)
}

// DelayAction suspends the execution instead of holding a worker: it asks
// the executor to park the execution as waiting with a resume timestamp,
// and the scheduler tick re-enqueues the continuation when due.
type DelayAction struct {
	Duration time.Duration
	Until    time.Time
}

func NewDelayAction(config map[string]any) (*DelayAction, error) {
	action := &DelayAction{}

	if untilStr, ok := config["until"].(string); ok && untilStr != "" {
		until, err := time.Parse(time.RFC3339, untilStr)
		if err != nil {
			return nil, fmt.Errorf("invalid until timestamp '%s': %w", untilStr, err)
		}

		action.Until = until.UTC()

		return action, nil
	}

	durationStr, _ := config["duration"].(string)
	if durationStr == "" {
		return nil, errors.New("delay requires either 'duration' or 'until'")
	}

	duration, err := time.ParseDuration(durationStr)
	if err != nil {
		return nil, fmt.Errorf("invalid duration '%s': %w", durationStr, err)
	}

	if duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got '%s'", durationStr)
	}

	action.Duration = duration

	return action, nil
}

func (a *DelayAction) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (*protocol.StepOutcome, error) {
	logger = logger.With("action_type", "control.delay")

	resumeAt := a.Until
	if resumeAt.IsZero() {
		resumeAt = time.Now().UTC().Add(a.Duration)
	}

	if executionCtx.TestMode {
		logger.Info("Simulating delay", "resume_at", resumeAt)

		return &protocol.StepOutcome{
			Output: map[string]any{
				"simulated": true,
				"resume_at": resumeAt.Format(time.RFC3339),
			},
		}, nil
	}

	logger.Info("Suspending execution", "resume_at", resumeAt)

	return &protocol.StepOutcome{
		Output: map[string]any{
			"resume_at": resumeAt.Format(time.RFC3339),
		},
		SuspendUntil: &resumeAt,
	}, nil
}
