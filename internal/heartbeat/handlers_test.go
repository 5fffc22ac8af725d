package heartbeat

import (
	"context"
	"errors"
	"testing"

	"pulsebot/internal/condition"
	"pulsebot/internal/store"
)

func TestCheckHandler(t *testing.T) {
	t.Parallel()
	b := store.Behavior{
		Name: "disk check",
		Type: store.BehaviorCheck,
		Conditions: []condition.Condition{
			{Field: "disk.free_gb", Operator: condition.OpGt, Value: 10},
		},
		Config: map[string]any{
			"on_pass": map[string]any{"title": "disk ok", "priority": "low"},
			"on_fail": map[string]any{"title": "disk low", "message": "free space under 10GB"},
		},
	}

	pass, err := checkHandler{}.Execute(context.Background(), b, map[string]any{
		"disk": map[string]any{"free_gb": 42},
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if len(pass) != 1 || pass[0].Type != ActionNotification || pass[0].Title != "disk ok" || pass[0].Priority != PriorityLow {
		t.Fatalf("pass actions = %+v", pass)
	}

	fail, err := checkHandler{}.Execute(context.Background(), b, map[string]any{
		"disk": map[string]any{"free_gb": 3},
	})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if len(fail) != 1 || fail[0].Type != ActionAlert || fail[0].Title != "disk low" || fail[0].Priority != PriorityHigh {
		t.Fatalf("fail actions = %+v", fail)
	}

	// Neither bag configured: silent probe.
	quiet := b
	quiet.Config = nil
	none, err := checkHandler{}.Execute(context.Background(), quiet, map[string]any{})
	if err != nil || len(none) != 0 {
		t.Fatalf("silent probe produced %+v, err %v", none, err)
	}
}

func TestAnalyzeHandlerThresholds(t *testing.T) {
	t.Parallel()
	b := store.Behavior{
		Name: "resources",
		Type: store.BehaviorAnalyze,
		Config: map[string]any{
			"metrics": []any{
				map[string]any{"path": "sys.cpu", "name": "cpu", "warning": 70.0, "critical": 90.0},
				map[string]any{"path": "sys.mem", "name": "mem", "warning": 80.0},
				map[string]any{"path": "sys.missing", "warning": 1.0},
			},
		},
	}
	data := map[string]any{
		"sys": map[string]any{"cpu": 95.0, "mem": 75.0},
	}

	actions, err := analyzeHandler{}.Execute(context.Background(), b, data)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	// cpu crosses both thresholds: only the critical alert fires. mem stays
	// below warning, missing metric is skipped.
	if len(actions) != 1 {
		t.Fatalf("actions = %+v, want exactly one", actions)
	}
	if actions[0].Priority != PriorityCritical || actions[0].Title != "cpu critical" {
		t.Fatalf("action = %+v, want critical cpu alert", actions[0])
	}

	warnOnly, _ := analyzeHandler{}.Execute(context.Background(), b, map[string]any{
		"sys": map[string]any{"cpu": 75.0, "mem": 85.0},
	})
	if len(warnOnly) != 2 {
		t.Fatalf("actions = %+v, want cpu warning + mem warning", warnOnly)
	}
	for _, a := range warnOnly {
		if a.Priority != PriorityHigh {
			t.Fatalf("action %+v, want high priority warning", a)
		}
	}
}

func TestSuggestHandlerGatesEachEntry(t *testing.T) {
	t.Parallel()
	b := store.Behavior{
		Name: "tips",
		Type: store.BehaviorSuggest,
		Config: map[string]any{
			"suggestions": []any{
				map[string]any{
					"title":   "enable backups",
					"message": "no backup configured",
					"conditions": []any{
						map[string]any{"field": "backups.enabled", "operator": "eq", "value": false},
					},
				},
				map[string]any{
					"title": "upgrade plan",
					"conditions": []any{
						map[string]any{"field": "usage.pct", "operator": "gte", "value": 90},
					},
				},
				map[string]any{"title": "ungated tip"},
			},
		},
	}
	data := map[string]any{
		"backups": map[string]any{"enabled": false},
		"usage":   map[string]any{"pct": 40},
	}

	actions, err := suggestHandler{}.Execute(context.Background(), b, data)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("actions = %+v, want backups tip + ungated tip", actions)
	}
	if actions[0].Title != "enable backups" || actions[0].Type != ActionSuggestion {
		t.Fatalf("first action = %+v", actions[0])
	}
	if actions[1].Title != "ungated tip" {
		t.Fatalf("second action = %+v", actions[1])
	}
}

func TestAlertHandler(t *testing.T) {
	t.Parallel()
	b := store.Behavior{
		Name: "error spike",
		Type: store.BehaviorAlert,
		Conditions: []condition.Condition{
			{Field: "errors.rate", Operator: condition.OpGt, Value: 0.05},
		},
		Config: map[string]any{"title": "error rate high", "priority": "critical"},
	}

	hot, _ := alertHandler{}.Execute(context.Background(), b, map[string]any{
		"errors": map[string]any{"rate": 0.2},
	})
	if len(hot) != 1 || hot[0].Type != ActionAlert || hot[0].Priority != PriorityCritical {
		t.Fatalf("actions = %+v", hot)
	}

	calm, _ := alertHandler{}.Execute(context.Background(), b, map[string]any{
		"errors": map[string]any{"rate": 0.01},
	})
	if len(calm) != 0 {
		t.Fatalf("actions = %+v, want none below threshold", calm)
	}
}

func TestActionHandler(t *testing.T) {
	t.Parallel()
	b := store.Behavior{
		Name:   "restart worker",
		Type:   store.BehaviorAction,
		Config: map[string]any{"target": "worker-1"},
	}

	// No executor: gate runs, nothing happens.
	none, err := actionHandler{}.Execute(context.Background(), b, map[string]any{})
	if err != nil || len(none) != 0 {
		t.Fatalf("no-executor run produced %+v, err %v", none, err)
	}

	var gotCfg map[string]any
	ok := actionHandler{exec: func(_ context.Context, cfg map[string]any) (map[string]any, error) {
		gotCfg = cfg
		return map[string]any{"restarted": true}, nil
	}}
	actions, err := ok.Execute(context.Background(), b, map[string]any{})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if gotCfg["target"] != "worker-1" {
		t.Fatalf("executor config = %+v", gotCfg)
	}
	if len(actions) != 1 || actions[0].Type != ActionNotification || actions[0].Data["restarted"] != true {
		t.Fatalf("actions = %+v, want success notification", actions)
	}

	bad := actionHandler{exec: func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("ssh unreachable")
	}}
	actions, err = bad.Execute(context.Background(), b, map[string]any{})
	if err != nil {
		t.Fatalf("executor failure must not fail the behavior: %v", err)
	}
	if len(actions) != 1 || actions[0].Type != ActionAlert || actions[0].Message != "ssh unreachable" {
		t.Fatalf("actions = %+v, want failure alert", actions)
	}

	// Closed gate: executor never runs.
	gated := b
	gated.Conditions = []condition.Condition{{Field: "go", Operator: condition.OpEq, Value: true}}
	called := false
	h := actionHandler{exec: func(context.Context, map[string]any) (map[string]any, error) {
		called = true
		return nil, nil
	}}
	if acts, _ := h.Execute(context.Background(), gated, map[string]any{"go": false}); len(acts) != 0 || called {
		t.Fatalf("gated action ran: actions=%+v called=%v", acts, called)
	}
}
