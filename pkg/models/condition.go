package models

// NodeKind tags the variant of an expression node.
type NodeKind string

const (
	NodePredicate NodeKind = "predicate"
	NodeAnd       NodeKind = "and"
	NodeOr        NodeKind = "or"
	NodeNot       NodeKind = "not"
)

// Operator is a predicate comparison operator.
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "notEquals"
	OpGt        Operator = "gt"
	OpGte       Operator = "gte"
	OpLt        Operator = "lt"
	OpLte       Operator = "lte"
	OpIn        Operator = "in"
	OpContains  Operator = "contains"
	OpExists    Operator = "exists"
)

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains, OpExists:
		return true
	}

	return false
}

// ExpressionNode is an immutable boolean expression tree over the execution
// context. A predicate node carries Field/Operator/Value; and/or nodes carry
// Children; a not node carries exactly one child.
type ExpressionNode struct {
	Kind     NodeKind          `json:"kind"               validate:"required"`
	Field    string            `json:"field,omitempty"`
	Operator Operator          `json:"operator,omitempty"`
	Value    any               `json:"value,omitempty"`
	Children []*ExpressionNode `json:"children,omitempty"`
}

// Predicate builds a leaf comparison node.
func Predicate(field string, op Operator, value any) *ExpressionNode {
	return &ExpressionNode{Kind: NodePredicate, Field: field, Operator: op, Value: value}
}

// And builds a conjunction node.
func And(children ...*ExpressionNode) *ExpressionNode {
	return &ExpressionNode{Kind: NodeAnd, Children: children}
}

// Or builds a disjunction node.
func Or(children ...*ExpressionNode) *ExpressionNode {
	return &ExpressionNode{Kind: NodeOr, Children: children}
}

// Not builds a negation node.
func Not(child *ExpressionNode) *ExpressionNode {
	return &ExpressionNode{Kind: NodeNot, Children: []*ExpressionNode{child}}
}
