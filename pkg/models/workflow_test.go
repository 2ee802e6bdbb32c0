package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerType_Valid(t *testing.T) {
	assert.True(t, TriggerTypeEvent.Valid())
	assert.True(t, TriggerTypeSchedule.Valid())
	assert.True(t, TriggerTypeWebhook.Valid())
	assert.True(t, TriggerTypeManual.Valid())
	assert.False(t, TriggerType("cron").Valid())
	assert.False(t, TriggerType("").Valid())
}

func TestSortSteps_ByOrderThenID(t *testing.T) {
	steps := []*ActionStep{
		{ID: "c", Order: 2},
		{ID: "b", Order: 1},
		{ID: "a", Order: 2},
		{ID: "d", Order: 0},
	}

	sorted := SortSteps(steps)

	require.Len(t, sorted, 4)
	assert.Equal(t, "d", sorted[0].ID)
	assert.Equal(t, "b", sorted[1].ID)
	assert.Equal(t, "a", sorted[2].ID)
	assert.Equal(t, "c", sorted[3].ID)

	// Input order is untouched.
	assert.Equal(t, "c", steps[0].ID)
}

func TestSortSteps_Empty(t *testing.T) {
	assert.Empty(t, SortSteps(nil))
	assert.Empty(t, SortSteps([]*ActionStep{}))
}

func TestWorkflow_Clone_DeepCopy(t *testing.T) {
	original := &Workflow{
		ID:          "wf-1",
		OwnerID:     "owner-1",
		Name:        "Order sync",
		TriggerType: TriggerTypeManual,
		Actions: []*ActionStep{
			{ID: "s1", Type: "log", Config: map[string]any{"message": "hi"}, Order: 0},
		},
		Conditions: Predicate("vars.enabled", OpEquals, true),
		Tags:       []string{"sync"},
	}

	clone, err := original.Clone()
	require.NoError(t, err)

	require.Len(t, clone.Actions, 1)
	assert.Equal(t, original.Actions[0].ID, clone.Actions[0].ID)
	assert.NotSame(t, original.Actions[0], clone.Actions[0])
	assert.NotSame(t, original.Conditions, clone.Conditions)

	clone.Actions[0].Config["message"] = "changed"
	assert.Equal(t, "hi", original.Actions[0].Config["message"])
}
