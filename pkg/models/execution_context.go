package models

// ExecutionContext is the data visible to condition evaluation and action
// handlers while a pipeline runs: the trigger payload, resolved variables,
// and prior step outputs keyed by step ID.
type ExecutionContext struct {
	ExecutionID string         `json:"execution_id"`
	WorkflowID  string         `json:"workflow_id"`
	OwnerID     string         `json:"owner_id"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
	StepOutputs map[string]any `json:"step_outputs,omitempty"`
	TestMode    bool           `json:"test_mode"`
}

// AsMap projects the context into the shape condition trees address:
// {trigger: ..., vars: ..., steps: ...}.
func (c *ExecutionContext) AsMap() map[string]any {
	trigger := c.TriggerData
	if trigger == nil {
		trigger = map[string]any{}
	}

	vars := c.Variables
	if vars == nil {
		vars = map[string]any{}
	}

	steps := c.StepOutputs
	if steps == nil {
		steps = map[string]any{}
	}

	return map[string]any{
		"trigger": trigger,
		"vars":    vars,
		"steps":   steps,
	}
}
