package store

import (
	"context"
	"errors"
	"time"

	"pulsebot/internal/condition"
)

var ErrNotFound = errors.New("not found")

// Config configures the schedule/heartbeat store.
//
// Driver values:
//   - "memory": in-process maps, creation-order scans (default)
//   - "sqlite": SQLite database file (requires the sqlite build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// HistoryLimit caps retained execution records per schedule, oldest
	// dropped first. 0 keeps everything.
	HistoryLimit int
}

// Schedule is a cron-driven job definition. The store is the single source
// of truth for it; the scheduler holds no copies across ticks.
//
// Invariants:
//   - NextRunAt is the earliest future instant satisfying Expression, or the
//     zero time when the schedule is disabled or exhausted.
//   - RunCount is monotonically non-decreasing and never exceeds MaxRuns
//     once MaxRuns is set (> 0).
type Schedule struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Name       string         `json:"name"`
	Expression string         `json:"expression"`
	Timezone   string         `json:"timezone,omitempty"` // IANA name; empty = UTC
	Enabled    bool           `json:"enabled"`
	Handler    string         `json:"handler"`
	Payload    map[string]any `json:"payload,omitempty"`
	LastRunAt  time.Time      `json:"last_run_at,omitempty"`
	NextRunAt  time.Time      `json:"next_run_at,omitempty"`
	RunCount   int            `json:"run_count"`
	MaxRuns    int            `json:"max_runs,omitempty"` // 0 = unlimited
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Exhausted reports whether the schedule has used up its run budget.
func (s *Schedule) Exhausted() bool {
	return s.MaxRuns > 0 && s.RunCount >= s.MaxRuns
}

func (s *Schedule) clone() *Schedule {
	cp := *s
	cp.Payload = cloneBag(s.Payload)
	return &cp
}

// SchedulePatch is a partial schedule update; nil fields are left unchanged.
type SchedulePatch struct {
	Name       *string
	Expression *string
	Timezone   *string
	Enabled    *bool
	Handler    *string
	Payload    map[string]any
	LastRunAt  *time.Time
	NextRunAt  *time.Time
	RunCount   *int
	MaxRuns    *int
}

// ExecutionRecord is one append-only history row; immutable once written.
type ExecutionRecord struct {
	ScheduleID string         `json:"schedule_id"`
	ExecutedAt time.Time      `json:"executed_at"`
	Success    bool           `json:"success"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// BehaviorType tags the handler family a heartbeat behavior belongs to.
type BehaviorType string

const (
	BehaviorCheck   BehaviorType = "check"
	BehaviorAnalyze BehaviorType = "analyze"
	BehaviorSuggest BehaviorType = "suggest"
	BehaviorAlert   BehaviorType = "alert"
	BehaviorAction  BehaviorType = "action"
)

// Behavior is a single typed, conditionally-gated unit of work executed on
// each heartbeat. Behaviors within a config are independently enabled and
// ordered by Priority (higher first).
type Behavior struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Type       BehaviorType          `json:"type"`
	Enabled    bool                  `json:"enabled"`
	Priority   int                   `json:"priority"`
	Config     map[string]any        `json:"config,omitempty"`
	Conditions []condition.Condition `json:"conditions,omitempty"`
}

// HeartbeatConfig drives one interval timer in the heartbeat engine.
type HeartbeatConfig struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	BotID           string         `json:"bot_id"`
	Name            string         `json:"name"`
	Enabled         bool           `json:"enabled"`
	Interval        time.Duration  `json:"interval"`
	Behaviors       []Behavior     `json:"behaviors"`
	Context         map[string]any `json:"context,omitempty"`
	LastHeartbeatAt time.Time      `json:"last_heartbeat_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (c *HeartbeatConfig) clone() *HeartbeatConfig {
	cp := *c
	cp.Context = cloneBag(c.Context)
	cp.Behaviors = cloneBehaviors(c.Behaviors)
	return &cp
}

func cloneBehaviors(bs []Behavior) []Behavior {
	if bs == nil {
		return nil
	}
	out := make([]Behavior, len(bs))
	for i, b := range bs {
		b.Config = cloneBag(b.Config)
		b.Conditions = append([]condition.Condition(nil), b.Conditions...)
		out[i] = b
	}
	return out
}

// ConfigPatch is a partial heartbeat-config update; nil fields are left
// unchanged. A non-nil Behaviors replaces the whole behavior set.
type ConfigPatch struct {
	Name      *string
	BotID     *string
	Enabled   *bool
	Interval  *time.Duration
	Behaviors []Behavior
	Context   map[string]any
}

// Store is the persistence API consumed by the cron scheduler and the
// heartbeat engine. Implementations own all durable state; the engines keep
// only live timer handles and counters.
type Store interface {
	// Cron schedules.
	CreateSchedule(ctx context.Context, s *Schedule) error
	Schedule(ctx context.Context, id string) (*Schedule, error)
	SchedulesByUser(ctx context.Context, userID string) ([]*Schedule, error)
	// UpdateSchedule applies a partial patch. When the expression or timezone
	// changes it recomputes NextRunAt so the schedule invariant holds.
	UpdateSchedule(ctx context.Context, id string, p SchedulePatch) (*Schedule, error)
	// DeleteSchedule removes the schedule and cascades to its history.
	DeleteSchedule(ctx context.Context, id string) error
	// DueSchedules returns enabled, non-exhausted schedules with
	// NextRunAt <= now, in creation order. Order is not contractual.
	DueSchedules(ctx context.Context, now time.Time) ([]*Schedule, error)
	RecordExecution(ctx context.Context, r ExecutionRecord) error
	// History returns the newest records first, up to limit (0 = all).
	History(ctx context.Context, scheduleID string, limit int) ([]ExecutionRecord, error)

	// Heartbeat configs.
	CreateConfig(ctx context.Context, c *HeartbeatConfig) error
	Config(ctx context.Context, id string) (*HeartbeatConfig, error)
	ConfigsByUser(ctx context.Context, userID string) ([]*HeartbeatConfig, error)
	EnabledConfigs(ctx context.Context) ([]*HeartbeatConfig, error)
	UpdateConfig(ctx context.Context, id string, p ConfigPatch) (*HeartbeatConfig, error)
	DeleteConfig(ctx context.Context, id string) error
	TouchHeartbeat(ctx context.Context, id string, at time.Time) error

	Close() error
}

// applySchedulePatch mutates s in place and maintains the NextRunAt
// invariant. Shared by the memory and sqlite backends.
func applySchedulePatch(s *Schedule, p SchedulePatch, now time.Time) {
	timingChanged := false
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Expression != nil && *p.Expression != s.Expression {
		s.Expression = *p.Expression
		timingChanged = true
	}
	if p.Timezone != nil && *p.Timezone != s.Timezone {
		s.Timezone = *p.Timezone
		timingChanged = true
	}
	if p.Handler != nil {
		s.Handler = *p.Handler
	}
	if p.Payload != nil {
		s.Payload = cloneBag(p.Payload)
	}
	if p.LastRunAt != nil {
		s.LastRunAt = *p.LastRunAt
	}
	if p.RunCount != nil {
		s.RunCount = *p.RunCount
	}
	if p.MaxRuns != nil {
		s.MaxRuns = *p.MaxRuns
	}
	if p.Enabled != nil && *p.Enabled != s.Enabled {
		s.Enabled = *p.Enabled
		timingChanged = true
	}
	if p.NextRunAt != nil {
		s.NextRunAt = *p.NextRunAt
	} else if timingChanged {
		recomputeNextRun(s, now)
	}
	if !s.Enabled || s.Exhausted() {
		s.NextRunAt = time.Time{}
	}
	s.UpdatedAt = now
}

func applyConfigPatch(c *HeartbeatConfig, p ConfigPatch, now time.Time) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.BotID != nil {
		c.BotID = *p.BotID
	}
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.Interval != nil {
		c.Interval = *p.Interval
	}
	if p.Behaviors != nil {
		c.Behaviors = cloneBehaviors(p.Behaviors)
	}
	if p.Context != nil {
		c.Context = cloneBag(p.Context)
	}
	c.UpdatedAt = now
}

func cloneBag(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
