package heartbeat

import (
	"context"
	"errors"
	"time"

	"pulsebot/internal/store"
)

// ErrValidation covers caller mistakes surfaced synchronously from the
// public API (interval out of range, too many behaviors, unknown type).
var ErrValidation = errors.New("validation failed")

// ActionType classifies a proactive action.
type ActionType string

const (
	ActionNotification ActionType = "notification"
	ActionAlert        ActionType = "alert"
	ActionSuggestion   ActionType = "suggestion"
)

// Action priorities, lowest to highest.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Action is a proactive output of a behavior. It is transient: produced
// during one tick, handed to the action sink, never persisted here.
type Action struct {
	Type     ActionType     `json:"type"`
	Priority string         `json:"priority"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
}

// BehaviorResult captures one behavior execution within a tick.
type BehaviorResult struct {
	BehaviorID string             `json:"behavior_id"`
	Name       string             `json:"name"`
	Type       store.BehaviorType `json:"type"`
	Executed   bool               `json:"executed"`
	Error      string             `json:"error,omitempty"`
	Actions    []Action           `json:"actions,omitempty"`
	Duration   time.Duration      `json:"duration"`
}

// Result is the payload of a heartbeat.tick event: every behavior result of
// the fire plus the total duration.
type Result struct {
	ConfigID  string           `json:"config_id"`
	At        time.Time        `json:"at"`
	Behaviors []BehaviorResult `json:"behaviors"`
	Duration  time.Duration    `json:"duration"`
}

// ErrorEvent is the payload of heartbeat.error events.
type ErrorEvent struct {
	ConfigID   string `json:"config_id"`
	BehaviorID string `json:"behavior_id,omitempty"`
	Stage      string `json:"stage"` // behavior | dispatch | store
	Error      string `json:"error"`
}

// ActionEvent is the payload of heartbeat.action events.
type ActionEvent struct {
	ConfigID string `json:"config_id"`
	Action   Action `json:"action"`
}

// Handler executes one behavior type against the assembled context data and
// returns the actions it wants dispatched.
type Handler interface {
	Execute(ctx context.Context, b store.Behavior, data map[string]any) ([]Action, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, b store.Behavior, data map[string]any) ([]Action, error)

func (f HandlerFunc) Execute(ctx context.Context, b store.Behavior, data map[string]any) ([]Action, error) {
	return f(ctx, b, data)
}

// ContextProvider supplies live data merged over the config's static
// context before each tick. Provider failures are swallowed: the tick
// proceeds with whatever context was assembled.
type ContextProvider func(ctx context.Context, cfg *store.HeartbeatConfig) (map[string]any, error)

// ActionSink receives every action produced by a tick, one call per action,
// each individually error-isolated.
type ActionSink func(ctx context.Context, cfg *store.HeartbeatConfig, a Action) error

// ActionExecutor performs the side effect of an "action" behavior.
type ActionExecutor func(ctx context.Context, config map[string]any) (map[string]any, error)

// Config controls the engine.
type Config struct {
	Enabled         bool
	MinInterval     time.Duration // lower bound for config intervals
	MaxInterval     time.Duration // upper bound for config intervals
	MaxBehaviors    int           // per-config behavior cap
	BehaviorTimeout time.Duration // per-behavior wait budget
}

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = 10 * time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 24 * time.Hour
	}
	if c.MaxBehaviors <= 0 {
		c.MaxBehaviors = 20
	}
	if c.BehaviorTimeout <= 0 {
		c.BehaviorTimeout = 10 * time.Second
	}
	return c
}
