package dbcore

import "github.com/bkio/crosscloudkit/primitive"

// LeafKind enumerates the condition-leaf vocabulary of spec §4.5.
type LeafKind int

const (
	AttributeExists LeafKind = iota
	AttributeNotExists
	AttributeEquals
	AttributeNotEquals
	AttributeGreater
	AttributeGreaterOrEqual
	AttributeLess
	AttributeLessOrEqual
	ArrayElementExists
	ArrayElementNotExists
)

// Condition is an opaque leaf built by one of the package-level
// constructors below. Attribute and Value are only meaningful for the
// kinds that carry them.
type Condition struct {
	Kind      LeafKind
	Attribute string
	Value     primitive.Primitive
}

func Exists(attr string) Condition    { return Condition{Kind: AttributeExists, Attribute: attr} }
func NotExists(attr string) Condition { return Condition{Kind: AttributeNotExists, Attribute: attr} }
func Equals(attr string, v primitive.Primitive) Condition {
	return Condition{Kind: AttributeEquals, Attribute: attr, Value: v}
}
func NotEquals(attr string, v primitive.Primitive) Condition {
	return Condition{Kind: AttributeNotEquals, Attribute: attr, Value: v}
}
func Greater(attr string, v primitive.Primitive) Condition {
	return Condition{Kind: AttributeGreater, Attribute: attr, Value: v}
}
func GreaterOrEqual(attr string, v primitive.Primitive) Condition {
	return Condition{Kind: AttributeGreaterOrEqual, Attribute: attr, Value: v}
}
func Less(attr string, v primitive.Primitive) Condition {
	return Condition{Kind: AttributeLess, Attribute: attr, Value: v}
}
func LessOrEqual(attr string, v primitive.Primitive) Condition {
	return Condition{Kind: AttributeLessOrEqual, Attribute: attr, Value: v}
}
func ArrayContains(attr string, v primitive.Primitive) Condition {
	return Condition{Kind: ArrayElementExists, Attribute: attr, Value: v}
}
func ArrayNotContains(attr string, v primitive.Primitive) Condition {
	return Condition{Kind: ArrayElementNotExists, Attribute: attr, Value: v}
}

// CouplingKind enumerates how a ConditionCoupling tree node combines its
// children (spec §4.5: "Empty | Single | And(a,b) | Or(a,b)").
type CouplingKind int

const (
	CouplingEmpty CouplingKind = iota
	CouplingSingle
	CouplingAnd
	CouplingOr
)

// ConditionCoupling is the tree that combines Condition leaves. The zero
// value is CouplingEmpty, which always evaluates true (no condition).
type ConditionCoupling struct {
	Kind  CouplingKind
	Leaf  Condition
	Left  *ConditionCoupling
	Right *ConditionCoupling
}

// Single wraps one leaf condition.
func Single(c Condition) ConditionCoupling {
	return ConditionCoupling{Kind: CouplingSingle, Leaf: c}
}

// And combines two couplings conjunctively.
func And(a, b ConditionCoupling) ConditionCoupling {
	return ConditionCoupling{Kind: CouplingAnd, Left: &a, Right: &b}
}

// Or combines two couplings disjunctively.
func Or(a, b ConditionCoupling) ConditionCoupling {
	return ConditionCoupling{Kind: CouplingOr, Left: &a, Right: &b}
}

// Empty is the always-true condition.
func Empty() ConditionCoupling { return ConditionCoupling{Kind: CouplingEmpty} }
