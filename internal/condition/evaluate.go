package condition

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Evaluate applies a single condition to resource using ctx to resolve
// context references. It returns an *EvaluationError when the condition
// itself is malformed.
func Evaluate(c Condition, resource, ctx map[string]any) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}

	want, ok := resolveOperand(c.Value, ctx)
	if !ok {
		return false, nil
	}
	got, present := Lookup(resource, c.Field)

	switch c.Operator {
	case Equals:
		return present && equal(got, want), nil
	case NotEquals:
		return !present || !equal(got, want), nil
	case Contains:
		if !present || got == nil {
			return false, nil
		}
		return strings.Contains(stringify(got), stringify(want)), nil
	case In, NotIn:
		items, err := collection(c, want)
		if err != nil {
			return false, err
		}
		if !present {
			return false, nil
		}
		member := false
		for _, item := range items {
			if equal(got, item) {
				member = true
				break
			}
		}
		if c.Operator == In {
			return member, nil
		}
		return !member, nil
	case GreaterThan, LessThan:
		if !present {
			return false, nil
		}
		a, okA := toFloat(got)
		b, okB := toFloat(want)
		if !okA || !okB {
			return false, nil
		}
		if c.Operator == GreaterThan {
			return a > b, nil
		}
		return a < b, nil
	}

	return false, &EvaluationError{Field: c.Field, Operator: c.Operator, Reason: "unknown operator"}
}

// EvaluateAll reports whether every condition holds. A nil resource or an
// empty condition list is unconditionally satisfied.
func EvaluateAll(conds []Condition, resource, ctx map[string]any) (bool, error) {
	if len(conds) == 0 || resource == nil {
		return true, nil
	}
	for _, c := range conds {
		ok, err := Evaluate(c, resource, ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Lookup walks a dot-separated path into m. The second result is false when
// any segment is missing.
func Lookup(m map[string]any, path string) (any, bool) {
	if m == nil || path == "" {
		return nil, false
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[key]
			if !ok {
				return nil, false
			}
			current = v
		case map[string]string:
			v, ok := node[key]
			if !ok {
				return nil, false
			}
			current = v
		default:
			return nil, false
		}
	}
	return current, true
}

func resolveOperand(op Operand, ctx map[string]any) (any, bool) {
	switch v := op.(type) {
	case Literal:
		return v.Value, true
	case ContextRef:
		if ctx == nil {
			return nil, false
		}
		val, ok := ctx[v.Name]
		if !ok || val == nil {
			return nil, false
		}
		return val, true
	default:
		return nil, false
	}
}

// collection returns the elements of a slice or array operand.
func collection(c Condition, v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, &EvaluationError{
			Field:    c.Field,
			Operator: c.Operator,
			Reason:   fmt.Sprintf("value must be a collection, got %T", v),
		}
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}

// equal is strict equality with numeric kinds normalised.
func equal(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	if isNumber(a) && isNumber(b) {
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return fa == fb
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() || !vb.Comparable() {
		return false
	}
	return a == b
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	default:
		return false
	}
}

// toFloat coerces numbers, numeric strings and timestamps.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case time.Time:
		f = float64(n.UnixNano())
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}
