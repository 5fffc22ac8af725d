package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pulsebot/internal/cron"
	"pulsebot/internal/eventbus"
	"pulsebot/internal/store"
	"pulsebot/pkg/logx"
)

// bookkeepTimeout bounds the post-run store writes so a slow store cannot
// pin a concurrency slot forever.
const bookkeepTimeout = 10 * time.Second

// execute runs one schedule end to end: handler resolution, timeout-bounded
// run, history row, reschedule, run-count lifecycle. It never returns an
// error; failures are recorded and evented.
func (s *Service) execute(ctx context.Context, sc *store.Schedule) store.ExecutionRecord {
	start := s.now()

	h, ok := s.handler(sc.Handler)
	if !ok {
		// Registration gap: record the failure but leave RunCount and
		// NextRunAt untouched, so registering the handler later lets the
		// schedule recover.
		rec := store.ExecutionRecord{
			ScheduleID: sc.ID,
			ExecutedAt: start,
			Success:    false,
			Error:      fmt.Sprintf("handler not found: %s", sc.Handler),
		}
		s.record(rec)
		s.log.Warn("job handler missing", logx.String("id", sc.ID), logx.String("handler", sc.Handler))
		s.publish(eventbus.CronFailed, JobEvent{ScheduleID: sc.ID, Name: sc.Name, Handler: sc.Handler, Record: &rec})
		return rec
	}

	s.mu.Lock()
	timeout := s.cfg.JobTimeout
	s.mu.Unlock()

	result, err := runWithTimeout(ctx, timeout, h, sc.Payload)
	rec := store.ExecutionRecord{
		ScheduleID: sc.ID,
		ExecutedAt: start,
		Success:    err == nil,
		Result:     result,
		Duration:   time.Since(start),
	}
	if err != nil {
		rec.Error = err.Error()
	}

	s.record(rec)
	s.finalize(sc, start, rec)
	return rec
}

// record persists a history row on a detached context so shutdown or a
// cancelled tick cannot lose it.
func (s *Service) record(rec store.ExecutionRecord) {
	wctx, cancel := context.WithTimeout(context.Background(), bookkeepTimeout)
	defer cancel()
	if err := s.st.RecordExecution(wctx, rec); err != nil {
		s.log.Warn("history write failed", logx.String("id", rec.ScheduleID), logx.Err(err))
	}
}

// finalize advances the schedule after a run: bump RunCount, recompute
// NextRunAt from the current (possibly just-updated) expression, and retire
// the schedule once MaxRuns is reached.
func (s *Service) finalize(sc *store.Schedule, ranAt time.Time, rec store.ExecutionRecord) {
	wctx, cancel := context.WithTimeout(context.Background(), bookkeepTimeout)
	defer cancel()

	// Re-read: the expression or payload may have changed while we ran.
	fresh, err := s.st.Schedule(wctx, sc.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("reschedule read failed", logx.String("id", sc.ID), logx.Err(err))
		}
		return // deleted mid-run: nothing to advance
	}

	runCount := fresh.RunCount + 1
	exhausted := fresh.MaxRuns > 0 && runCount >= fresh.MaxRuns

	var next time.Time
	if !exhausted && fresh.Enabled {
		next = s.nextRun(fresh)
	}

	patch := store.SchedulePatch{
		LastRunAt: &ranAt,
		RunCount:  &runCount,
		NextRunAt: &next,
	}
	if exhausted {
		disabled := false
		patch.Enabled = &disabled
	}
	updated, err := s.st.UpdateSchedule(wctx, sc.ID, patch)
	if err != nil {
		s.log.Warn("reschedule write failed", logx.String("id", sc.ID), logx.Err(err))
		return
	}

	ev := JobEvent{ScheduleID: updated.ID, Name: updated.Name, Handler: updated.Handler, Record: &rec}
	s.publish(eventbus.CronExecuted, ev)
	if !rec.Success {
		s.log.Warn("job failed",
			logx.String("id", updated.ID), logx.String("name", updated.Name),
			logx.String("err", rec.Error), logx.Duration("dur", rec.Duration))
		s.publish(eventbus.CronFailed, ev)
	} else {
		s.log.Debug("job completed",
			logx.String("id", updated.ID), logx.String("name", updated.Name),
			logx.Duration("dur", rec.Duration), logx.Time("next", updated.NextRunAt))
	}
	if exhausted {
		s.log.Info("schedule exhausted",
			logx.String("id", updated.ID), logx.Int("runs", runCount))
		s.publish(eventbus.CronCompleted, ev)
	}
}

func (s *Service) nextRun(sc *store.Schedule) time.Time {
	e, err := cron.Parse(sc.Expression)
	if err != nil {
		s.log.Warn("stored expression no longer parses", logx.String("id", sc.ID), logx.Err(err))
		return time.Time{}
	}
	loc, err := cron.Location(sc.Timezone)
	if err != nil {
		loc = time.UTC
	}
	next, err := e.Next(s.now(), loc)
	if err != nil {
		s.log.Warn("no matching next run", logx.String("id", sc.ID), logx.Err(err))
		return time.Time{}
	}
	return next
}

// runWithTimeout races the handler against its budget. On timeout the wait
// is abandoned but the handler goroutine is NOT terminated; it keeps running
// until it observes ctx. Cooperative cancellation is the handler's job.
func runWithTimeout(ctx context.Context, timeout time.Duration, h Handler, payload map[string]any) (map[string]any, error) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		result, err := h(rctx, payload)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-rctx.Done():
		if errors.Is(rctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("handler timed out after %s", timeout)
		}
		return nil, rctx.Err()
	}
}
