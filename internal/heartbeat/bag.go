package heartbeat

import (
	"pulsebot/internal/condition"
)

// Accessors for the loosely-typed behavior config bags. Bags come from JSON
// or YAML, so numbers may be float64, int, or json.Number-free variants;
// every accessor tolerates the missing-or-wrong-type case.

func bagString(m map[string]any, key, def string) string {
	if m == nil {
		return def
	}
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return def
}

func bagMap(m map[string]any, key string) (map[string]any, bool) {
	if m == nil {
		return nil, false
	}
	sub, ok := m[key].(map[string]any)
	return sub, ok && sub != nil
}

func bagSlice(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	s, _ := m[key].([]any)
	return s
}

func bagFloat(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch n := m[key].(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// bagConditions decodes a conditions list embedded in a config bag, e.g. the
// per-suggestion gates of a "suggest" behavior.
func bagConditions(v any) []condition.Condition {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]condition.Condition, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, condition.Condition{
			Field:    bagString(m, "field", ""),
			Operator: bagString(m, "operator", ""),
			Value:    m["value"],
		})
	}
	return out
}

// actionFromBag builds an Action from a config sub-bag ("on_pass",
// "on_fail", a suggestion entry), with the given defaults for anything the
// bag omits.
func actionFromBag(m map[string]any, typ ActionType, defPriority, defTitle string) Action {
	a := Action{
		Type:     typ,
		Priority: bagString(m, "priority", defPriority),
		Title:    bagString(m, "title", defTitle),
		Message:  bagString(m, "message", ""),
	}
	if data, ok := bagMap(m, "data"); ok {
		a.Data = data
	}
	return a
}
