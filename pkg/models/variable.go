package models

import "time"

// VariableScope determines the uniqueness key of a variable.
type VariableScope string

const (
	// ScopeWorkflow variables are unique by (workflow_id, name).
	ScopeWorkflow VariableScope = "workflow"
	// ScopeGlobal variables are unique by name alone; WorkflowID is empty.
	ScopeGlobal VariableScope = "global"
)

// Variable is shared mutable state visible to concurrent executions of the
// same workflow. Writes go through the store's atomic upsert; the value is
// never shared by reference across executions.
type Variable struct {
	WorkflowID string        `json:"workflow_id,omitempty"`
	Name       string        `json:"name"  validate:"required"`
	Value      any           `json:"value"`
	Scope      VariableScope `json:"scope" validate:"required"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Key returns the uniqueness key for the variable's scope.
func (v *Variable) Key() string {
	if v.Scope == ScopeGlobal {
		return "global/" + v.Name
	}

	return v.WorkflowID + "/" + v.Name
}
