package store

import (
	"errors"
	"strings"
	"time"

	"pulsebot/internal/cron"
	"pulsebot/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		m := NewMemory()
		m.SetHistoryLimit(cfg.HistoryLimit)
		return m, nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}

// recomputeNextRun re-derives the NextRunAt invariant in place: earliest
// future match after now, or the zero time when the schedule cannot run
// (disabled, exhausted, unparseable, or logically impossible expression).
func recomputeNextRun(s *Schedule, now time.Time) {
	s.NextRunAt = time.Time{}
	if !s.Enabled || s.Exhausted() {
		return
	}
	e, err := cron.Parse(s.Expression)
	if err != nil {
		return
	}
	loc, err := cron.Location(s.Timezone)
	if err != nil {
		loc = time.UTC
	}
	next, err := e.Next(now, loc)
	if err != nil {
		return
	}
	s.NextRunAt = next
}
