package heartbeat

import (
	"context"
	"fmt"

	"pulsebot/internal/condition"
	"pulsebot/internal/store"
)

// Builtin behavior handlers. All of them are pure over (behavior, data)
// except actionHandler, which runs the injected executor.

// checkHandler evaluates the behavior's conditions and reports the outcome:
// an optional "on_pass" notification when they hold, an optional "on_fail"
// alert when they do not. A check with neither bag configured is a silent
// probe.
type checkHandler struct{}

func (checkHandler) Execute(_ context.Context, b store.Behavior, data map[string]any) ([]Action, error) {
	if gate(b, data) {
		if m, ok := bagMap(b.Config, "on_pass"); ok {
			return []Action{actionFromBag(m, ActionNotification, PriorityMedium, b.Name+" passed")}, nil
		}
		return nil, nil
	}
	if m, ok := bagMap(b.Config, "on_fail"); ok {
		return []Action{actionFromBag(m, ActionAlert, PriorityHigh, b.Name+" failed")}, nil
	}
	return nil, nil
}

// analyzeHandler reads numeric metrics out of the context by dot-path and
// raises threshold alerts. Each metric entry carries "path" plus optional
// "warning" and "critical" levels; critical wins when both are crossed.
// Metrics absent from the context are skipped, not errors.
type analyzeHandler struct{}

func (analyzeHandler) Execute(_ context.Context, b store.Behavior, data map[string]any) ([]Action, error) {
	var actions []Action
	for _, item := range bagSlice(b.Config, "metrics") {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		path := bagString(m, "path", "")
		if path == "" {
			continue
		}
		raw, ok := condition.Lookup(data, path)
		if !ok {
			continue
		}
		val, ok := asFloat(raw)
		if !ok {
			continue
		}
		label := bagString(m, "name", path)

		if crit, ok := bagFloat(m, "critical"); ok && val >= crit {
			actions = append(actions, Action{
				Type:     ActionAlert,
				Priority: PriorityCritical,
				Title:    label + " critical",
				Message:  fmt.Sprintf("%s is %v (critical threshold %v)", label, val, crit),
				Data:     map[string]any{"metric": path, "value": val, "threshold": crit},
			})
			continue
		}
		if warn, ok := bagFloat(m, "warning"); ok && val >= warn {
			actions = append(actions, Action{
				Type:     ActionAlert,
				Priority: PriorityHigh,
				Title:    label + " elevated",
				Message:  fmt.Sprintf("%s is %v (warning threshold %v)", label, val, warn),
				Data:     map[string]any{"metric": path, "value": val, "threshold": warn},
			})
		}
	}
	return actions, nil
}

// suggestHandler emits a suggestion action for every entry in the
// "suggestions" list whose own condition gate holds against the context.
type suggestHandler struct{}

func (suggestHandler) Execute(_ context.Context, b store.Behavior, data map[string]any) ([]Action, error) {
	var actions []Action
	for _, item := range bagSlice(b.Config, "suggestions") {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		conds := bagConditions(m["conditions"])
		if !condition.EvaluateAll(conds, data, condition.LogicAnd) {
			continue
		}
		actions = append(actions, actionFromBag(m, ActionSuggestion, PriorityLow, b.Name))
	}
	return actions, nil
}

// alertHandler raises one alert from the behavior config whenever the
// behavior's conditions hold. It is the unconditional sibling of check: no
// pass branch, just the alarm.
type alertHandler struct{}

func (alertHandler) Execute(_ context.Context, b store.Behavior, data map[string]any) ([]Action, error) {
	if !gate(b, data) {
		return nil, nil
	}
	return []Action{actionFromBag(b.Config, ActionAlert, PriorityHigh, b.Name)}, nil
}

// actionHandler performs a side effect through the injected executor when
// the behavior's conditions hold. Executor success yields a notification,
// executor failure yields an alert; the behavior itself still counts as
// executed either way. With no executor wired the gate is evaluated and
// nothing else happens.
type actionHandler struct {
	exec ActionExecutor
}

func (h actionHandler) Execute(ctx context.Context, b store.Behavior, data map[string]any) ([]Action, error) {
	if !gate(b, data) {
		return nil, nil
	}
	if h.exec == nil {
		return nil, nil
	}
	result, err := h.exec(ctx, b.Config)
	if err != nil {
		return []Action{{
			Type:     ActionAlert,
			Priority: PriorityHigh,
			Title:    b.Name + " failed",
			Message:  err.Error(),
		}}, nil
	}
	return []Action{{
		Type:     ActionNotification,
		Priority: bagString(b.Config, "priority", PriorityMedium),
		Title:    bagString(b.Config, "title", b.Name+" executed"),
		Message:  bagString(b.Config, "message", ""),
		Data:     result,
	}}, nil
}

func asFloat(v any) (float64, bool) {
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
	default:
		return 0, false
	}
}
