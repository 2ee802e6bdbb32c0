package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstairs/flowline/pkg/models"
)

func TestRender_TypedOutputs(t *testing.T) {
	data := map[string]any{
		"name":   "ada",
		"count":  3,
		"active": true,
	}

	tests := []struct {
		name     string
		template string
		expected any
	}{
		{
			name:     "plain string",
			template: "hello {{.name}}",
			expected: "hello ada",
		},
		{
			name:     "number output parses as float",
			template: "{{.count}}",
			expected: float64(3),
		},
		{
			name:     "boolean output parses as bool",
			template: "{{.active}}",
			expected: true,
		},
		{
			name:     "json object output parses typed",
			template: `{"user": "{{.name}}", "count": {{.count}}}`,
			expected: map[string]any{"user": "ada", "count": float64(3)},
		},
		{
			name:     "json array output parses typed",
			template: `["{{.name}}", {{.count}}]`,
			expected: []any{"ada", float64(3)},
		},
		{
			name:     "surrounding whitespace is trimmed",
			template: "  {{.name}}  ",
			expected: "ada",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Render(tt.template, data)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRender_MalformedJSONStaysString(t *testing.T) {
	result, err := Render(`{"broken": {{.name}}`, map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, `{"broken": ada`, result)
}

func TestRender_ParseError(t *testing.T) {
	_, err := Render("{{.name", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse template")
}

func TestRender_NowFunc(t *testing.T) {
	result, err := Render("{{now}}", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, result)
}

func TestRender_RandFunc(t *testing.T) {
	result, err := Render("{{rand 10}}", nil)
	require.NoError(t, err)

	num, ok := result.(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, num, float64(0))
	assert.Less(t, num, float64(10))

	zero, err := Render("{{rand 0}}", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(0), zero)
}

func TestRenderWithContext(t *testing.T) {
	executionCtx := &models.ExecutionContext{
		ExecutionID: "exec-1",
		WorkflowID:  "wf-1",
		TriggerData: map[string]any{"order_id": "ord-42"},
		Variables:   map[string]any{"region": "eu-west-1"},
		StepOutputs: map[string]any{
			"fetch": map[string]any{"status_code": 200},
		},
	}

	result, err := RenderWithContext(
		"order {{.trigger.order_id}} in {{.vars.region}} got {{.steps.fetch.status_code}} (execution {{.execution.id}})",
		executionCtx)
	require.NoError(t, err)
	assert.Equal(t, "order ord-42 in eu-west-1 got 200 (execution exec-1)", result)
}

func TestRenderWithContext_EmptyContext(t *testing.T) {
	executionCtx := &models.ExecutionContext{ExecutionID: "exec-1", WorkflowID: "wf-1"}

	result, err := RenderWithContext("wf {{.execution.workflow_id}}", executionCtx)
	require.NoError(t, err)
	assert.Equal(t, "wf wf-1", result)
}
