package services

import (
	"fmt"
	"strings"
	"time"
)

// ConditionOperator 条件运算符
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "not_equals"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
	OperatorContains    ConditionOperator = "contains"
	OperatorIsSet       ConditionOperator = "is_set"
	OperatorIsNotSet    ConditionOperator = "is_not_set"
)

// Condition is a single predicate over a field of the trigger payload.
// Field is a dotted path; Value is compared with exact typed semantics.
type Condition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    interface{}       `json:"value,omitempty"`
}

// IsValidOperator reports whether op is part of the condition grammar.
func IsValidOperator(op ConditionOperator) bool {
	switch op {
	case OperatorEquals, OperatorNotEquals, OperatorGreaterThan,
		OperatorLessThan, OperatorContains, OperatorIsSet, OperatorIsNotSet:
		return true
	}
	return false
}

// EvaluateConditions evaluates a conjunction of conditions against the
// payload. It is pure: no I/O, no side effects, safe to re-run for dry-run
// tooling. An empty set always matches. A condition whose field does not
// resolve, or whose operand types mismatch, fails closed; the returned reason
// names the first failing condition so the execution record can surface why
// the rule did not fire.
func EvaluateConditions(conds []Condition, payload map[string]interface{}) (bool, string) {
	for _, cond := range conds {
		if ok, reason := evaluateCondition(cond, payload); !ok {
			return false, reason
		}
	}
	return true, ""
}

func evaluateCondition(cond Condition, payload map[string]interface{}) (bool, string) {
	val, present := resolvePath(payload, cond.Field)

	switch cond.Operator {
	case OperatorIsSet:
		if present && val != nil {
			return true, ""
		}
		return false, fmt.Sprintf("field %q is not set", cond.Field)
	case OperatorIsNotSet:
		if !present || val == nil {
			return true, ""
		}
		return false, fmt.Sprintf("field %q is set", cond.Field)
	}

	if !present {
		return false, fmt.Sprintf("field %q not present in payload", cond.Field)
	}

	switch cond.Operator {
	case OperatorEquals:
		if typedEqual(val, cond.Value) {
			return true, ""
		}
		return false, fmt.Sprintf("field %q does not equal expected value", cond.Field)
	case OperatorNotEquals:
		if !typedEqual(val, cond.Value) {
			return true, ""
		}
		return false, fmt.Sprintf("field %q equals excluded value", cond.Field)
	case OperatorGreaterThan:
		cmp, ok := typedCompare(val, cond.Value)
		if ok && cmp > 0 {
			return true, ""
		}
		return false, fmt.Sprintf("field %q is not greater than expected value", cond.Field)
	case OperatorLessThan:
		cmp, ok := typedCompare(val, cond.Value)
		if ok && cmp < 0 {
			return true, ""
		}
		return false, fmt.Sprintf("field %q is not less than expected value", cond.Field)
	case OperatorContains:
		if typedContains(val, cond.Value) {
			return true, ""
		}
		return false, fmt.Sprintf("field %q does not contain expected value", cond.Field)
	default:
		return false, fmt.Sprintf("unknown operator %q", cond.Operator)
	}
}

// resolvePath walks a dotted path through nested maps.
func resolvePath(payload map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur interface{} = payload
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// typedEqual compares without implicit cross-type coercion. Numbers compare
// as numbers regardless of Go integer/float representation (JSON decodes all
// numbers to float64); everything else must match type exactly.
func typedEqual(a, b interface{}) bool {
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

// typedCompare orders numeric values and RFC3339 date strings. Any type
// mismatch reports not-comparable so ordering operators fail closed.
func typedCompare(a, b interface{}) (int, bool) {
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		if !ok {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		}
		return 0, true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return 0, false
	}
	at, err := time.Parse(time.RFC3339, as)
	if err != nil {
		return 0, false
	}
	bt, err := time.Parse(time.RFC3339, bs)
	if err != nil {
		return 0, false
	}
	switch {
	case at.Before(bt):
		return -1, true
	case at.After(bt):
		return 1, true
	}
	return 0, true
}

// typedContains handles substring match on strings and membership on lists.
func typedContains(val, want interface{}) bool {
	switch v := val.(type) {
	case string:
		w, ok := want.(string)
		return ok && strings.Contains(v, w)
	case []interface{}:
		for _, item := range v {
			if typedEqual(item, want) {
				return true
			}
		}
	case []string:
		w, ok := want.(string)
		if !ok {
			return false
		}
		for _, item := range v {
			if item == w {
				return true
			}
		}
	}
	return false
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}
