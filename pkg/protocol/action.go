package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/mstairs/flowline/pkg/models"
)

// StepOutcome is what an action hands back to the pipeline executor.
// Output becomes the step's recorded output. SuspendUntil and SkipRemaining
// are control signals; only the control actions set them.
type StepOutcome struct {
	Output        any
	SuspendUntil  *time.Time
	SkipRemaining bool
}

// Action is a single executable pipeline step. Implementations that touch
// the outside world must branch on executionCtx.TestMode and return a
// labeled simulated output instead of performing the real effect.
type Action interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (*StepOutcome, error)
}

// ActionFactory builds actions of one type from raw step configuration.
// Schema is the JSON schema the configuration is validated against before
// Create runs.
type ActionFactory interface {
	ID() string
	Schema() map[string]any
	Create(config map[string]any) (Action, error)
}
