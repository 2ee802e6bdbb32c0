package log_action

import (
	"context"
	"log/slog"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/protocol"
	"github.com/mstairs/flowline/pkg/template"
)

func NewLogActionFactory() *LogActionFactory {
	return &LogActionFactory{}
}

type LogActionFactory struct{}

func (*LogActionFactory) ID() string {
	return "log"
}

func (*LogActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The message to log. Supports templating for dynamic content.",
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"default":     "info",
				"enum":        []string{"debug", "info", "warn", "error"},
			},
		},
		"required": []string{"message"},
	}
}

func (f *LogActionFactory) Create(config map[string]any) (protocol.Action, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewLogAction(config), nil
}

type LogAction struct {
	Message string
	Level   string
}

func NewLogAction(config map[string]any) *LogAction {
	message, _ := config["message"].(string)

	level, _ := config["level"].(string)
	if level == "" {
		level = "info"
	}

	return &LogAction{Message: message, Level: level}
}

func (a *LogAction) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (*protocol.StepOutcome, error) {
	logger = logger.With("action_type", "log")

	rendered, err := template.RenderWithContext(a.Message, &executionCtx)
	if err != nil {
		return nil, err
	}

	switch a.Level {
	case "debug":
		logger.Debug("Log action", "message", rendered)
	case "warn":
		logger.Warn("Log action", "message", rendered)
	case "error":
		logger.Error("Log action", "message", rendered)
	default:
		logger.Info("Log action", "message", rendered)
	}

	return &protocol.StepOutcome{
		Output: map[string]any{
			"message": rendered,
			"level":   a.Level,
		},
	}, nil
}
