package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mstairs/flowline/pkg/conditions"
	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/protocol"
)

func NewConditionActionFactory() *ConditionActionFactory {
	return &ConditionActionFactory{}
}

type ConditionActionFactory struct{}

func (*ConditionActionFactory) ID() string {
	return "control.condition"
}

func (*ConditionActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"conditions": map[string]any{
				"type":        "object",
				"description": "Expression tree evaluated against the execution context. A false result skips the remaining steps.",
			},
		},
		"required": []string{"conditions"},
	}
}

func (f *ConditionActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewConditionAction(config)
}

// ConditionAction gates the rest of the pipeline. Evaluation is pure, so
// it runs identically in test mode.
type ConditionAction struct {
	Conditions *models.ExpressionNode
}

func NewConditionAction(config map[string]any) (*ConditionAction, error) {
	raw, ok := config["conditions"]
	if !ok {
		return nil, errors.New("condition requires 'conditions'")
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}

	node := &models.ExpressionNode{}
	if err := json.Unmarshal(encoded, node); err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}

	return &ConditionAction{Conditions: node}, nil
}

func (a *ConditionAction) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (*protocol.StepOutcome, error) {
	logger = logger.With("action_type", "control.condition")

	matched, err := conditions.Evaluate(a.Conditions, executionCtx.AsMap())
	if err != nil {
		return nil, fmt.Errorf("condition evaluation failed: %w", err)
	}

	logger.Debug("Condition evaluated", "matched", matched)

	return &protocol.StepOutcome{
		Output:        map[string]any{"matched": matched},
		SkipRemaining: !matched,
	}, nil
}
