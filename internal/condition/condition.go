// Package condition evaluates boolean trigger conditions against nested,
// dynamically-shaped data (the "context bags" attached to heartbeat configs
// and built by context providers).
//
// Evaluation never panics: a missing or nil intermediate path resolves to
// "no value" and the condition is simply false. Unknown operators fail
// closed (false) rather than erroring, so a misconfigured condition can
// never take a heartbeat down.
package condition

import (
	"fmt"
	"regexp"
	"strings"
)

// Operators understood by Evaluate.
const (
	OpEq       = "eq"
	OpGt       = "gt"
	OpLt       = "lt"
	OpGte      = "gte"
	OpLte      = "lte"
	OpContains = "contains"
	OpMatches  = "matches"
)

// Logic selects how EvaluateAll folds multiple conditions.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Condition is a single boolean predicate over a dot-path into a data bag.
// It is a pure value object with no identity.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Evaluate resolves c.Field against data and applies the operator.
func Evaluate(c Condition, data map[string]any) bool {
	got, ok := Lookup(data, c.Field)
	if !ok {
		return false
	}

	switch c.Operator {
	case OpEq:
		return equal(got, c.Value)
	case OpGt:
		return compare(got, c.Value, func(d int) bool { return d > 0 })
	case OpLt:
		return compare(got, c.Value, func(d int) bool { return d < 0 })
	case OpGte:
		return compare(got, c.Value, func(d int) bool { return d >= 0 })
	case OpLte:
		return compare(got, c.Value, func(d int) bool { return d <= 0 })
	case OpContains:
		return contains(got, c.Value)
	case OpMatches:
		return matches(got, c.Value)
	default:
		// Unknown operator: fail closed.
		return false
	}
}

// EvaluateAll folds conds with the given logic.
// An empty list is vacuously true for both logics.
func EvaluateAll(conds []Condition, data map[string]any, logic Logic) bool {
	if len(conds) == 0 {
		return true
	}
	if logic == LogicOr {
		for _, c := range conds {
			if Evaluate(c, data) {
				return true
			}
		}
		return false
	}
	for _, c := range conds {
		if !Evaluate(c, data) {
			return false
		}
	}
	return true
}

// Lookup walks a dot-path ("user.profile.age") through nested string-keyed
// maps. It reports false when any intermediate is missing, nil, or not a map.
func Lookup(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok || m == nil {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func equal(got, want any) bool {
	if gf, ok1 := toFloat(got); ok1 {
		if wf, ok2 := toFloat(want); ok2 {
			return gf == wf
		}
	}
	if gb, ok1 := got.(bool); ok1 {
		wb, ok2 := want.(bool)
		return ok2 && gb == wb
	}
	return toString(got) == toString(want)
}

// compare coerces both sides to numbers when possible and otherwise falls
// back to lexicographic string comparison.
func compare(got, want any, keep func(d int) bool) bool {
	if gf, ok1 := toFloat(got); ok1 {
		if wf, ok2 := toFloat(want); ok2 {
			switch {
			case gf < wf:
				return keep(-1)
			case gf > wf:
				return keep(1)
			default:
				return keep(0)
			}
		}
		return false
	}
	gs, ok1 := got.(string)
	ws, ok2 := want.(string)
	if !ok1 || !ok2 {
		return false
	}
	return keep(strings.Compare(gs, ws))
}

// contains is substring match for strings and membership for slices.
func contains(got, want any) bool {
	switch g := got.(type) {
	case string:
		return strings.Contains(g, toString(want))
	case []any:
		for _, el := range g {
			if equal(el, want) {
				return true
			}
		}
		return false
	case []string:
		ws := toString(want)
		for _, el := range g {
			if el == ws {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// matches treats want as a regular expression tested against the field value
// coerced to a string. An invalid pattern is false, never an error.
func matches(got, want any) bool {
	re, err := regexp.Compile(toString(want))
	if err != nil {
		return false
	}
	return re.MatchString(toString(got))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
