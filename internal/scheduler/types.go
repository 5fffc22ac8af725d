package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pulsebot/internal/store"
)

var (
	// ErrValidation covers caller mistakes surfaced synchronously from the
	// public API (unknown handler, bad timezone, malformed patch).
	ErrValidation = errors.New("validation failed")
	// ErrHandlerNotFound narrows ErrValidation for a handler name with no
	// registration. errors.Is matches both.
	ErrHandlerNotFound = fmt.Errorf("%w: handler not registered", ErrValidation)
	// ErrBusy is returned by ExecuteNow when the schedule is already in flight.
	ErrBusy = errors.New("schedule is already executing")
)

// Handler is a cron job implementation. It receives the schedule's payload
// and returns an optional result recorded in history.
type Handler func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Config controls the scheduler service.
type Config struct {
	Enabled       bool
	TickInterval  time.Duration // due-scan period
	MaxConcurrent int           // concurrent job cap across all schedules
	JobTimeout    time.Duration // per-job wait budget
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	return c
}

// JobEvent is the payload of cron.* events on the bus.
type JobEvent struct {
	ScheduleID string                 `json:"schedule_id"`
	Name       string                 `json:"name"`
	Handler    string                 `json:"handler"`
	Record     *store.ExecutionRecord `json:"record,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled       bool
	Running       int
	MaxConcurrent int
	TickInterval  time.Duration
	JobTimeout    time.Duration
}
