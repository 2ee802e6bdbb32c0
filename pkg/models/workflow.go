// Package models defines the core domain models for the workflow automation engine.
package models

import (
	"encoding/json"
	"time"
)

// TriggerType identifies the stimulus that starts a workflow execution.
type TriggerType string

const (
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeManual   TriggerType = "manual"
)

// Valid reports whether t is one of the known trigger types.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerTypeEvent, TriggerTypeSchedule, TriggerTypeWebhook, TriggerTypeManual:
		return true
	}

	return false
}

// Workflow is the aggregate root: a trigger plus an ordered list of action
// steps with an optional top-level condition tree. The workflow owns its
// steps and conditions by value; trigger side records (Schedule, Webhook,
// EventSubscription) are stored separately and kept consistent by the
// definition store.
type Workflow struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"       validate:"required"`
	Name          string          `json:"name"           validate:"required,min=3"`
	TriggerType   TriggerType     `json:"trigger_type"   validate:"required"`
	TriggerConfig map[string]any  `json:"trigger_config,omitempty"`
	Actions       []*ActionStep   `json:"actions"`
	Conditions    *ExpressionNode `json:"conditions,omitempty"`
	IsActive      bool            `json:"is_active"`
	Tags          []string        `json:"tags,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the workflow via a JSON round trip. Used by
// duplicate so the copy never shares step or condition nodes with the
// original.
func (w *Workflow) Clone() (*Workflow, error) {
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}

	clone := &Workflow{}
	if err := json.Unmarshal(raw, clone); err != nil {
		return nil, err
	}

	return clone, nil
}

// RetryPolicy declares bounded retries with exponential backoff for a step.
type RetryPolicy struct {
	MaxAttempts     int           `json:"max_attempts"     validate:"min=1"`
	InitialInterval time.Duration `json:"initial_interval"`
}

// ActionStep is one unit of work in a workflow's pipeline. Order is an
// explicit integer rather than the slice index so steps can be reordered or
// duplicated without renumbering; ties are broken by ID.
type ActionStep struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"     validate:"required"`
	Category        string         `json:"category"`
	Config          map[string]any `json:"config"`
	Order           int            `json:"order"`
	Retry           *RetryPolicy   `json:"retry,omitempty"`
	ContinueOnError bool           `json:"continue_on_error"`
}

// SortSteps orders steps by Order ascending, ties broken by ID. Step results
// within an execution follow this order.
func SortSteps(steps []*ActionStep) []*ActionStep {
	sorted := make([]*ActionStep, len(steps))
	copy(sorted, steps)

	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && stepLess(sorted[j], sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	return sorted
}

func stepLess(a, b *ActionStep) bool {
	if a.Order != b.Order {
		return a.Order < b.Order
	}

	return a.ID < b.ID
}
