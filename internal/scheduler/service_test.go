package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pulsebot/internal/cron"
	"pulsebot/internal/eventbus"
	"pulsebot/internal/store"
	"pulsebot/pkg/logx"
)

// testService wires a scheduler to a memory store with frozen clocks so a
// schedule created "now" is already due.
func testService(t *testing.T, cfg Config) (*Service, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	created := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return created })

	svc := New(cfg, m, eventbus.New(), logx.Nop())
	svc.now = func() time.Time { return created.Add(2 * time.Minute) }
	return svc, m
}

func mustCreate(t *testing.T, svc *Service, sc *store.Schedule) *store.Schedule {
	t.Helper()
	out, err := svc.Create(context.Background(), sc)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	return out
}

func waitJobs(t *testing.T, svc *Service) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if svc.RunningJobs() == 0 {
			svc.jobWG.Wait()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("jobs did not drain")
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t, Config{Enabled: true})
	svc.RegisterHandler("noop", func(context.Context, map[string]any) (map[string]any, error) { return nil, nil })
	ctx := context.Background()

	if _, err := svc.Create(ctx, &store.Schedule{Name: "x", Expression: "60 * * * *", Handler: "noop", Enabled: true}); !errors.Is(err, cron.ErrInvalidExpression) {
		t.Fatalf("bad expression: got %v", err)
	}
	if _, err := svc.Create(ctx, &store.Schedule{Name: "x", Expression: "* * * * *", Handler: "ghost", Enabled: true}); !errors.Is(err, ErrValidation) {
		t.Fatalf("unregistered handler: got %v", err)
	}
	if _, err := svc.Create(ctx, &store.Schedule{Name: "x", Expression: "* * * * *", Handler: "noop", Timezone: "Nope/Nope", Enabled: true}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad timezone: got %v", err)
	}
	if _, err := svc.Create(ctx, &store.Schedule{Name: "", Expression: "* * * * *", Handler: "noop", Enabled: true}); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing name: got %v", err)
	}
}

func TestTickRunsDueJobAndReschedules(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t, Config{Enabled: true})
	var runs atomic.Int64
	svc.RegisterHandler("count", func(_ context.Context, payload map[string]any) (map[string]any, error) {
		runs.Add(1)
		return map[string]any{"ran": true}, nil
	})

	sc := mustCreate(t, svc, &store.Schedule{
		UserID: "u1", Name: "job", Expression: "* * * * *", Handler: "count", Enabled: true,
	})

	ctx := context.Background()
	svc.tick(ctx)
	waitJobs(t, svc)

	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}

	after, err := svc.Schedule(ctx, sc.ID)
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if after.RunCount != 1 {
		t.Fatalf("RunCount = %d, want 1", after.RunCount)
	}
	if !after.NextRunAt.After(svc.now()) {
		t.Fatalf("NextRunAt = %v, not after now", after.NextRunAt)
	}

	rows, err := svc.History(ctx, sc.ID, 0)
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(rows) != 1 || !rows[0].Success {
		t.Fatalf("history = %+v, want one successful row", rows)
	}
}

func TestMaxRunsDisablesSchedule(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t, Config{Enabled: true})
	var runs atomic.Int64
	svc.RegisterHandler("once", func(context.Context, map[string]any) (map[string]any, error) {
		runs.Add(1)
		return nil, nil
	})

	sc := mustCreate(t, svc, &store.Schedule{
		UserID: "u1", Name: "one-shot", Expression: "* * * * *", Handler: "once",
		Enabled: true, MaxRuns: 1,
	})

	ctx := context.Background()
	svc.tick(ctx)
	waitJobs(t, svc)

	after, err := svc.Schedule(ctx, sc.ID)
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if after.Enabled {
		t.Fatal("exhausted schedule still enabled")
	}
	if !after.NextRunAt.IsZero() {
		t.Fatalf("exhausted schedule has NextRunAt %v", after.NextRunAt)
	}

	// Further ticks must not run it again.
	svc.tick(ctx)
	waitJobs(t, svc)
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d after second tick, want 1", got)
	}
}

func TestHandlerTimeoutRecordedAndSlotReleased(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t, Config{Enabled: true, JobTimeout: 25 * time.Millisecond})
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	svc.RegisterHandler("stuck", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		<-block // never resolves within the budget
		return nil, nil
	})

	sc := mustCreate(t, svc, &store.Schedule{
		UserID: "u1", Name: "stuck", Expression: "* * * * *", Handler: "stuck", Enabled: true,
	})

	ctx := context.Background()
	svc.tick(ctx)
	waitJobs(t, svc)

	if n := svc.RunningJobs(); n != 0 {
		t.Fatalf("RunningJobs = %d after drain, want 0", n)
	}
	rows, err := svc.History(ctx, sc.ID, 0)
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(rows) != 1 || rows[0].Success {
		t.Fatalf("history = %+v, want one failed row", rows)
	}
	if !strings.Contains(rows[0].Error, "timed out") {
		t.Fatalf("error %q does not indicate timeout", rows[0].Error)
	}
}

func TestMissingHandlerDoesNotConsumeRuns(t *testing.T) {
	t.Parallel()
	svc, m := testService(t, Config{Enabled: true})
	ctx := context.Background()

	// Bypass Create validation: simulate a handler that was unregistered
	// after the schedule was stored.
	sc := &store.Schedule{UserID: "u1", Name: "orphan", Expression: "* * * * *", Handler: "gone", Enabled: true}
	if err := m.CreateSchedule(ctx, sc); err != nil {
		t.Fatalf("CreateSchedule error: %v", err)
	}

	svc.tick(ctx)
	waitJobs(t, svc)

	after, err := m.Schedule(ctx, sc.ID)
	if err != nil {
		t.Fatalf("Schedule error: %v", err)
	}
	if after.RunCount != 0 {
		t.Fatalf("RunCount = %d, want 0 for missing handler", after.RunCount)
	}
	rows, _ := m.History(ctx, sc.ID, 0)
	if len(rows) != 1 || rows[0].Success || !strings.Contains(rows[0].Error, "handler not found") {
		t.Fatalf("history = %+v, want one handler-not-found row", rows)
	}
}

func TestConcurrencyCap(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t, Config{Enabled: true, MaxConcurrent: 1, JobTimeout: time.Minute})
	release := make(chan struct{})
	var started atomic.Int64
	svc.RegisterHandler("slow", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		started.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})

	ctx := context.Background()
	mustCreate(t, svc, &store.Schedule{UserID: "u1", Name: "a", Expression: "* * * * *", Handler: "slow", Enabled: true})
	mustCreate(t, svc, &store.Schedule{UserID: "u1", Name: "b", Expression: "* * * * *", Handler: "slow", Enabled: true})

	svc.tick(ctx)
	deadline := time.Now().Add(time.Second)
	for started.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := started.Load(); got != 1 {
		t.Fatalf("started = %d with cap 1, want 1", got)
	}

	// Second tick while the slot is taken: still capped.
	svc.tick(ctx)
	time.Sleep(20 * time.Millisecond)
	if got := started.Load(); got != 1 {
		t.Fatalf("started = %d while at cap, want 1", got)
	}

	close(release)
	waitJobs(t, svc)

	// Freed slot: the second schedule runs on the next tick.
	svc.tick(ctx)
	waitJobs(t, svc)
	if got := started.Load(); got != 2 {
		t.Fatalf("started = %d after release, want 2", got)
	}
}

func TestExecuteNow(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t, Config{Enabled: true})
	svc.RegisterHandler("noop", func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})

	// Not due for hours, but ExecuteNow bypasses timing.
	sc := mustCreate(t, svc, &store.Schedule{
		UserID: "u1", Name: "manual", Expression: "0 23 * * *", Handler: "noop", Enabled: true,
	})

	ctx := context.Background()
	rec, err := svc.ExecuteNow(ctx, sc.ID)
	if err != nil {
		t.Fatalf("ExecuteNow error: %v", err)
	}
	if !rec.Success {
		t.Fatalf("record = %+v, want success", rec)
	}
	after, _ := svc.Schedule(ctx, sc.ID)
	if after.RunCount != 1 {
		t.Fatalf("RunCount = %d, want 1", after.RunCount)
	}
	rows, _ := svc.History(ctx, sc.ID, 0)
	if len(rows) != 1 {
		t.Fatalf("history rows = %d, want 1", len(rows))
	}
}

func TestSnapshotReflectsApply(t *testing.T) {
	t.Parallel()
	svc, _ := testService(t, Config{Enabled: true})

	snap := svc.Snapshot()
	if !snap.Enabled || snap.MaxConcurrent != 8 || snap.JobTimeout != 30*time.Second {
		t.Fatalf("default snapshot = %+v", snap)
	}

	svc.Apply(Config{Enabled: false, MaxConcurrent: 3, JobTimeout: 5 * time.Second, TickInterval: 2 * time.Second})
	snap = svc.Snapshot()
	if snap.Enabled || snap.MaxConcurrent != 3 || snap.JobTimeout != 5*time.Second || snap.TickInterval != 2*time.Second {
		t.Fatalf("snapshot after Apply = %+v", snap)
	}
	if snap.Running != 0 {
		t.Fatalf("Running = %d with no jobs, want 0", snap.Running)
	}
}

func TestEventsEmitted(t *testing.T) {
	t.Parallel()
	m := store.NewMemory()
	created := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return created })
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	svc := New(Config{Enabled: true}, m, bus, logx.Nop())
	svc.now = func() time.Time { return created.Add(2 * time.Minute) }
	svc.RegisterHandler("fail", func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	})

	mustCreate(t, svc, &store.Schedule{UserID: "u1", Name: "f", Expression: "* * * * *", Handler: "fail", Enabled: true})
	svc.tick(context.Background())
	waitJobs(t, svc)

	seen := map[string]bool{}
	deadline := time.After(time.Second)
	for !(seen[eventbus.CronScheduled] && seen[eventbus.CronExecuted] && seen[eventbus.CronFailed]) {
		select {
		case ev := <-events:
			seen[ev.Name] = true
		case <-deadline:
			t.Fatalf("missing events, saw %v", seen)
		}
	}
}
