package dbcore

import (
	"github.com/bkio/crosscloudkit/primitive"
)

// Item is a JSON object: an ordered-by-nothing mapping from attribute name
// to JSON value, per spec §3. Nested objects/arrays are permitted.
type Item map[string]interface{}

// Evaluate reports whether item satisfies coupling. Any leaf that
// references an attribute not present on item evaluates to "unsatisfied"
// rather than erroring — callers that need the spec's distinct
// precondition-failed signal use EvaluateStrict.
func Evaluate(coupling ConditionCoupling, item Item) bool {
	ok, _ := EvaluateStrict(coupling, item)
	return ok
}

// EvaluateStrict evaluates coupling against item and additionally reports
// whether every attribute referenced by a leaf was present on the item
// (spec §4.5: "Any Put/Update/Delete/ItemExists that references an
// attribute not present MUST fail with precondition failed"). attrsPresent
// is false as soon as one leaf's attribute is missing, regardless of
// whether the overall boolean result would have been true or false.
func EvaluateStrict(coupling ConditionCoupling, item Item) (satisfied bool, attrsPresent bool) {
	switch coupling.Kind {
	case CouplingEmpty:
		return true, true
	case CouplingSingle:
		return evalLeaf(coupling.Leaf, item)
	case CouplingAnd:
		ls, lp := EvaluateStrict(*coupling.Left, item)
		rs, rp := EvaluateStrict(*coupling.Right, item)
		return ls && rs, lp && rp
	case CouplingOr:
		ls, lp := EvaluateStrict(*coupling.Left, item)
		rs, rp := EvaluateStrict(*coupling.Right, item)
		return ls || rs, lp && rp
	default:
		return false, false
	}
}

func evalLeaf(c Condition, item Item) (satisfied bool, attrPresent bool) {
	raw, present := item[c.Attribute]

	switch c.Kind {
	case AttributeExists:
		return present, true
	case AttributeNotExists:
		return !present, true
	}

	if !present {
		return false, false
	}

	switch c.Kind {
	case AttributeEquals:
		v, ok := toPrimitive(raw)
		return ok && v.Equal(c.Value), true
	case AttributeNotEquals:
		v, ok := toPrimitive(raw)
		return !(ok && v.Equal(c.Value)), true
	case AttributeGreater:
		v, ok := toPrimitive(raw)
		return ok && comparablOrder(v, c.Value) > 0, true
	case AttributeGreaterOrEqual:
		v, ok := toPrimitive(raw)
		return ok && v.Kind() == c.Value.Kind() && comparablOrder(v, c.Value) >= 0, true
	case AttributeLess:
		v, ok := toPrimitive(raw)
		return ok && comparablOrder(v, c.Value) < 0, true
	case AttributeLessOrEqual:
		v, ok := toPrimitive(raw)
		return ok && v.Kind() == c.Value.Kind() && comparablOrder(v, c.Value) <= 0, true
	case ArrayElementExists:
		arr, ok := raw.([]interface{})
		if !ok {
			return false, true
		}
		for _, e := range arr {
			if v, ok := toPrimitive(e); ok && v.Equal(c.Value) {
				return true, true
			}
		}
		return false, true
	case ArrayElementNotExists:
		arr, ok := raw.([]interface{})
		if !ok {
			return true, true
		}
		for _, e := range arr {
			if v, ok := toPrimitive(e); ok && v.Equal(c.Value) {
				return false, true
			}
		}
		return true, true
	default:
		return false, true
	}
}

// comparablOrder orders two Primitives of the same kind for the
// Greater/Less leaf family; mismatched kinds are treated as unordered and
// report 0. evalLeaf also requires matching kinds before its >= / <=
// comparison, so every order leaf over mismatched kinds evaluates false.
func comparablOrder(a, b primitive.Primitive) int {
	if a.Kind() != b.Kind() {
		return 0
	}
	switch a.Kind() {
	case primitive.KindInteger:
		ai, _ := a.AsInteger()
		bi, _ := b.AsInteger()
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	case primitive.KindDouble:
		ad, _ := a.AsDouble()
		bd, _ := b.AsDouble()
		switch {
		case ad < bd:
			return -1
		case ad > bd:
			return 1
		default:
			return 0
		}
	case primitive.KindString:
		as, _ := a.AsString()
		bs, _ := b.AsString()
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

// toPrimitive converts a decoded-JSON value into a Primitive for condition
// comparison. Numbers decode as float64 under encoding/json and
// json-iterator's default Unmarshal; integral values are preserved as
// KindInteger so AttributeEquals against an Integer() condition still
// matches.
func toPrimitive(v interface{}) (primitive.Primitive, bool) {
	switch t := v.(type) {
	case string:
		return primitive.String(t), true
	case bool:
		if t {
			return primitive.Integer(1), true
		}
		return primitive.Integer(0), true
	case float64:
		if t == float64(int64(t)) {
			return primitive.Integer(int64(t)), true
		}
		return primitive.Double(t), true
	case int64:
		return primitive.Integer(t), true
	case int:
		return primitive.Integer(int64(t)), true
	default:
		return primitive.Primitive{}, false
	}
}
