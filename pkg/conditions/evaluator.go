// Package conditions evaluates expression trees against an execution
// context. Evaluation is pure: no side effects, no mutation of the context.
package conditions

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mstairs/flowline/pkg/models"
)

// Evaluate walks the expression tree against the context map built from the
// execution (trigger data, variables, prior step outputs). A nil tree is
// vacuously true.
//
// A field that is absent from the context makes every predicate except
// `exists` evaluate to false rather than error, so pipelines stay
// deterministic over partial contexts; `exists` is the explicit way to test
// presence.
func Evaluate(node *models.ExpressionNode, context map[string]any) (bool, error) {
	if node == nil {
		return true, nil
	}

	switch node.Kind {
	case models.NodePredicate:
		return evaluatePredicate(node, context)
	case models.NodeAnd:
		for _, child := range node.Children {
			ok, err := Evaluate(child, context)
			if err != nil {
				return false, err
			}

			if !ok {
				return false, nil
			}
		}

		return true, nil
	case models.NodeOr:
		for _, child := range node.Children {
			ok, err := Evaluate(child, context)
			if err != nil {
				return false, err
			}

			if ok {
				return true, nil
			}
		}

		return false, nil
	case models.NodeNot:
		if len(node.Children) != 1 {
			return false, fmt.Errorf("not node requires exactly one child, got %d", len(node.Children))
		}

		ok, err := Evaluate(node.Children[0], context)
		if err != nil {
			return false, err
		}

		return !ok, nil
	default:
		return false, fmt.Errorf("unknown expression node kind %q", node.Kind)
	}
}

func evaluatePredicate(node *models.ExpressionNode, context map[string]any) (bool, error) {
	if !node.Operator.Valid() {
		return false, fmt.Errorf("unknown operator %q", node.Operator)
	}

	actual, found := Lookup(context, node.Field)

	if node.Operator == models.OpExists {
		want := true
		if b, ok := node.Value.(bool); ok {
			want = b
		}

		return found == want, nil
	}

	if !found {
		return false, nil
	}

	switch node.Operator {
	case models.OpEquals:
		return equal(actual, node.Value), nil
	case models.OpNotEquals:
		return !equal(actual, node.Value), nil
	case models.OpGt, models.OpGte, models.OpLt, models.OpLte:
		return compare(node.Operator, actual, node.Value), nil
	case models.OpIn:
		return contains(node.Value, actual), nil
	case models.OpContains:
		return contains(actual, node.Value), nil
	}

	return false, fmt.Errorf("unknown operator %q", node.Operator)
}

// Lookup resolves a dot-separated field path against nested maps. The bool
// result distinguishes "present with nil value" from "absent".
func Lookup(context map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = context

	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// equal compares two values, coercing numbers to float64 so JSON-decoded
// integers and native ints compare as expected.
func equal(a, b any) bool {
	if an, aok := toFloat(a); aok {
		bn, bok := toFloat(b)

		return bok && an == bn
	}

	return reflect.DeepEqual(a, b)
}

func compare(op models.Operator, a, b any) bool {
	an, aok := toFloat(a)
	bn, bok := toFloat(b)

	if aok && bok {
		switch op {
		case models.OpGt:
			return an > bn
		case models.OpGte:
			return an >= bn
		case models.OpLt:
			return an < bn
		case models.OpLte:
			return an <= bn
		}

		return false
	}

	as, aok := a.(string)
	bs, bok := b.(string)

	if !aok || !bok {
		return false
	}

	switch op {
	case models.OpGt:
		return as > bs
	case models.OpGte:
		return as >= bs
	case models.OpLt:
		return as < bs
	case models.OpLte:
		return as <= bs
	}

	return false
}

// contains reports whether haystack (list or string) contains needle.
func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if equal(item, needle) {
				return true
			}
		}

		return false
	case []string:
		for _, item := range h {
			if equal(item, needle) {
				return true
			}
		}

		return false
	case string:
		if n, ok := needle.(string); ok {
			return strings.Contains(h, n)
		}

		return false
	}

	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}

	return 0, false
}
