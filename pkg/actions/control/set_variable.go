package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mstairs/flowline/pkg/models"
	"github.com/mstairs/flowline/pkg/persistence"
	"github.com/mstairs/flowline/pkg/protocol"
	"github.com/mstairs/flowline/pkg/template"
)

func NewSetVariableActionFactory(variables persistence.VariableRepository) *SetVariableActionFactory {
	return &SetVariableActionFactory{variables: variables}
}

type SetVariableActionFactory struct {
	variables persistence.VariableRepository
}

func (*SetVariableActionFactory) ID() string {
	return "control.set_variable"
}

func (*SetVariableActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{
				"type":        "string",
				"description": "Variable name",
			},
			"value": map[string]any{
				"description": "Value to store. Strings support templating.",
			},
			"scope": map[string]any{
				"type":        "string",
				"description": "Variable scope",
				"default":     "workflow",
				"enum":        []string{"workflow", "global"},
			},
		},
		"required": []string{"name"},
	}
}

func (f *SetVariableActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewSetVariableAction(f.variables, config)
}

// SetVariableAction writes through the store's atomic upsert so that
// concurrent executions of the same workflow never lose an update.
type SetVariableAction struct {
	variables persistence.VariableRepository

	Name  string
	Value any
	Scope models.VariableScope
}

func NewSetVariableAction(variables persistence.VariableRepository, config map[string]any) (*SetVariableAction, error) {
	name, _ := config["name"].(string)
	if name == "" {
		return nil, errors.New("set_variable requires 'name'")
	}

	scope := models.ScopeWorkflow
	if scopeStr, ok := config["scope"].(string); ok && scopeStr != "" {
		scope = models.VariableScope(scopeStr)
		if scope != models.ScopeWorkflow && scope != models.ScopeGlobal {
			return nil, fmt.Errorf("invalid scope '%s'", scopeStr)
		}
	}

	return &SetVariableAction{
		variables: variables,
		Name:      name,
		Value:     config["value"],
		Scope:     scope,
	}, nil
}

func (a *SetVariableAction) Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (*protocol.StepOutcome, error) {
	logger = logger.With("action_type", "control.set_variable")

	value := a.Value
	if strVal, ok := value.(string); ok {
		rendered, err := template.RenderWithContext(strVal, &executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render value: %w", err)
		}

		value = rendered
	}

	if executionCtx.TestMode {
		logger.Info("Simulating variable write", "name", a.Name, "scope", a.Scope)

		return &protocol.StepOutcome{
			Output: map[string]any{
				"simulated": true,
				"name":      a.Name,
				"scope":     string(a.Scope),
				"value":     value,
			},
		}, nil
	}

	variable := &models.Variable{
		Name:      a.Name,
		Value:     value,
		Scope:     a.Scope,
		UpdatedAt: time.Now().UTC(),
	}
	if a.Scope == models.ScopeWorkflow {
		variable.WorkflowID = executionCtx.WorkflowID
	}

	if err := a.variables.Upsert(ctx, variable); err != nil {
		return nil, fmt.Errorf("failed to upsert variable: %w", err)
	}

	logger.Info("Variable written", "name", a.Name, "scope", a.Scope)

	return &protocol.StepOutcome{
		Output: map[string]any{
			"name":  a.Name,
			"scope": string(a.Scope),
			"value": value,
		},
	}, nil
}
