package conditions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstairs/flowline/pkg/models"
)

func testContext() map[string]any {
	return map[string]any{
		"trigger": map[string]any{
			"status": "paid",
			"amount": 150.0,
			"items":  []any{"a", "b"},
		},
		"vars": map[string]any{
			"threshold": 100,
			"region":    "eu-west",
			"empty":     nil,
		},
	}
}

func TestEvaluate_NilTreeIsTrue(t *testing.T) {
	ok, err := Evaluate(nil, testContext())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_Predicates(t *testing.T) {
	tests := []struct {
		name string
		node *models.ExpressionNode
		want bool
	}{
		{"equals string", models.Predicate("trigger.status", models.OpEquals, "paid"), true},
		{"equals mismatch", models.Predicate("trigger.status", models.OpEquals, "refunded"), false},
		{"equals numeric coercion", models.Predicate("vars.threshold", models.OpEquals, 100.0), true},
		{"notEquals", models.Predicate("trigger.status", models.OpNotEquals, "refunded"), true},
		{"gt", models.Predicate("trigger.amount", models.OpGt, 100), true},
		{"gt false", models.Predicate("trigger.amount", models.OpGt, 200), false},
		{"gte boundary", models.Predicate("trigger.amount", models.OpGte, 150), true},
		{"lt", models.Predicate("trigger.amount", models.OpLt, 200), true},
		{"lte boundary", models.Predicate("trigger.amount", models.OpLte, 150), true},
		{"string comparison", models.Predicate("vars.region", models.OpGt, "aa"), true},
		{"in list", models.Predicate("trigger.status", models.OpIn, []any{"paid", "shipped"}), true},
		{"in list miss", models.Predicate("trigger.status", models.OpIn, []any{"refunded"}), false},
		{"contains list", models.Predicate("trigger.items", models.OpContains, "a"), true},
		{"contains substring", models.Predicate("vars.region", models.OpContains, "west"), true},
		{"exists present", models.Predicate("trigger.status", models.OpExists, true), true},
		{"exists absent", models.Predicate("trigger.missing", models.OpExists, true), false},
		{"exists negated", models.Predicate("trigger.missing", models.OpExists, false), true},
		{"exists present with nil value", models.Predicate("vars.empty", models.OpExists, true), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.node, testContext())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// A field absent from the context makes every predicate except exists false
// rather than an error.
func TestEvaluate_MissingFieldIsFalse(t *testing.T) {
	for _, op := range []models.Operator{
		models.OpEquals, models.OpNotEquals, models.OpGt, models.OpIn, models.OpContains,
	} {
		ok, err := Evaluate(models.Predicate("trigger.missing", op, "x"), testContext())
		require.NoError(t, err)
		assert.False(t, ok, "operator %s", op)
	}
}

func TestEvaluate_Composite(t *testing.T) {
	and := models.And(
		models.Predicate("trigger.status", models.OpEquals, "paid"),
		models.Predicate("trigger.amount", models.OpGt, 100),
	)

	ok, err := Evaluate(and, testContext())
	require.NoError(t, err)
	assert.True(t, ok)

	or := models.Or(
		models.Predicate("trigger.status", models.OpEquals, "refunded"),
		models.Predicate("trigger.amount", models.OpGt, 100),
	)

	ok, err = Evaluate(or, testContext())
	require.NoError(t, err)
	assert.True(t, ok)

	not := models.Not(models.Predicate("trigger.status", models.OpEquals, "refunded"))

	ok, err = Evaluate(not, testContext())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluate_EmptyCompositeNodes(t *testing.T) {
	ok, err := Evaluate(models.And(), testContext())
	require.NoError(t, err)
	assert.True(t, ok, "empty and is vacuously true")

	ok, err = Evaluate(models.Or(), testContext())
	require.NoError(t, err)
	assert.False(t, ok, "empty or matches nothing")
}

func TestEvaluate_Errors(t *testing.T) {
	_, err := Evaluate(&models.ExpressionNode{Kind: "xor"}, testContext())
	assert.Error(t, err)

	_, err = Evaluate(models.Predicate("trigger.status", "matches", "x"), testContext())
	assert.Error(t, err)

	_, err = Evaluate(&models.ExpressionNode{Kind: models.NodeNot}, testContext())
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	ctx := testContext()

	value, found := Lookup(ctx, "trigger.status")
	assert.True(t, found)
	assert.Equal(t, "paid", value)

	_, found = Lookup(ctx, "trigger.status.deeper")
	assert.False(t, found)

	_, found = Lookup(ctx, "")
	assert.False(t, found)

	value, found = Lookup(ctx, "vars.empty")
	assert.True(t, found)
	assert.Nil(t, value)
}
