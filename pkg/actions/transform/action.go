// Package transform_action reshapes prior step outputs through a template
// expression. The transformation is pure, so it runs identically in test
// mode.
package transform_action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/protocol"
	"github.com/mstairs/flowline/pkg/template"
)

func NewTransformActionFactory() *TransformActionFactory {
	return &TransformActionFactory{}
}

type TransformActionFactory struct{}

func (*TransformActionFactory) ID() string {
	return "transform"
}

func (*TransformActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"input": map[string]any{
				"type":        "string",
				"description": "Input data source expression. If empty, uses all step outputs.",
			},
			"expression": map[string]any{
				"type":        "string",
				"description": "Template expression applied to the input data.",
			},
		},
		"required": []string{"expression"},
	}
}

func (f *TransformActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewTransformAction(config)
}

type TransformAction struct {
	Input      string
	Expression string
}

func NewTransformAction(config map[string]any) (*TransformAction, error) {
	input, _ := config["input"].(string)
	expression, _ := config["expression"].(string)

	return &TransformAction{
		Input:      input,
		Expression: expression,
	}, nil
}

func (a *TransformAction) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (*protocol.StepOutcome, error) {
	logger = logger.With("action_type", "transform")

	data, err := a.extract(executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get input data: %w", err)
	}

	result, err := template.Render(a.Expression, data)
	if err != nil {
		return nil, fmt.Errorf("transformation failed: %w", err)
	}

	logger.Debug("Transform completed")

	return &protocol.StepOutcome{Output: result}, nil
}

func (a *TransformAction) extract(executionCtx models.ExecutionContext) (any, error) {
	if a.Input == "" {
		return executionCtx.StepOutputs, nil
	}

	return template.Render(a.Input, executionCtx.StepOutputs)
}
