package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulsebot/internal/condition"
	"pulsebot/internal/eventbus"
	"pulsebot/internal/store"
	"pulsebot/pkg/logx"
)

// touchTimeout bounds the post-tick store write.
const touchTimeout = 10 * time.Second

// Engine owns one interval timer per enabled heartbeat config.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	log logx.Logger
	st  store.Store
	bus eventbus.Bus

	handlers map[store.BehaviorType]Handler
	provider ContextProvider
	sink     ActionSink

	// timers maps config id to its stop channel. Presence means a live
	// timer goroutine.
	timers  map[string]chan struct{}
	started bool
	wg      sync.WaitGroup

	// now is a test seam; production uses time.Now.
	now func() time.Time
}

func New(cfg Config, st store.Store, bus eventbus.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		cfg:      cfg.withDefaults(),
		log:      log,
		st:       st,
		bus:      bus,
		handlers: map[store.BehaviorType]Handler{},
		timers:   map[string]chan struct{}{},
		now:      time.Now,
	}
	e.handlers[store.BehaviorCheck] = checkHandler{}
	e.handlers[store.BehaviorAnalyze] = analyzeHandler{}
	e.handlers[store.BehaviorSuggest] = suggestHandler{}
	e.handlers[store.BehaviorAlert] = alertHandler{}
	e.handlers[store.BehaviorAction] = actionHandler{}
	return e
}

// RegisterHandler overrides the handler for a behavior type. Last
// registration wins.
func (e *Engine) RegisterHandler(t store.BehaviorType, h Handler) {
	e.mu.Lock()
	e.handlers[t] = h
	e.mu.Unlock()
}

// SetContextProvider installs the live-data source merged over the static
// config context on every tick.
func (e *Engine) SetContextProvider(p ContextProvider) {
	e.mu.Lock()
	e.provider = p
	e.mu.Unlock()
}

// SetActionSink installs the consumer for produced actions.
func (e *Engine) SetActionSink(s ActionSink) {
	e.mu.Lock()
	e.sink = s
	e.mu.Unlock()
}

// SetActionExecutor wires the side-effect executor used by "action"
// behaviors. Without one, action behaviors evaluate their gate but do
// nothing.
func (e *Engine) SetActionExecutor(x ActionExecutor) {
	e.mu.Lock()
	e.handlers[store.BehaviorAction] = actionHandler{exec: x}
	e.mu.Unlock()
}

// Apply swaps runtime settings (config hot reload). Interval bounds apply to
// configs created or restarted afterwards.
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

// ActiveTimers reports how many configs currently have a live timer.
func (e *Engine) ActiveTimers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// ---- Public config API ----

func (e *Engine) validate(interval time.Duration, behaviors []store.Behavior) error {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	if interval < cfg.MinInterval || interval > cfg.MaxInterval {
		return fmt.Errorf("%w: interval %s outside [%s, %s]", ErrValidation, interval, cfg.MinInterval, cfg.MaxInterval)
	}
	if len(behaviors) > cfg.MaxBehaviors {
		return fmt.Errorf("%w: %d behaviors exceeds limit %d", ErrValidation, len(behaviors), cfg.MaxBehaviors)
	}
	for i := range behaviors {
		switch behaviors[i].Type {
		case store.BehaviorCheck, store.BehaviorAnalyze, store.BehaviorSuggest, store.BehaviorAlert, store.BehaviorAction:
		default:
			return fmt.Errorf("%w: unknown behavior type %q", ErrValidation, behaviors[i].Type)
		}
	}
	return nil
}

// CreateConfig validates and persists a heartbeat config. When the engine is
// running and the config is enabled its timer starts immediately.
func (e *Engine) CreateConfig(ctx context.Context, c *store.HeartbeatConfig) (*store.HeartbeatConfig, error) {
	if err := e.validate(c.Interval, c.Behaviors); err != nil {
		return nil, err
	}
	for i := range c.Behaviors {
		if c.Behaviors[i].ID == "" {
			c.Behaviors[i].ID = uuid.NewString()
		}
	}
	if err := e.st.CreateConfig(ctx, c); err != nil {
		return nil, err
	}
	e.log.Info("heartbeat config created",
		logx.String("id", c.ID), logx.String("name", c.Name),
		logx.Duration("interval", c.Interval), logx.Int("behaviors", len(c.Behaviors)))

	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if started && c.Enabled {
		e.startTimer(c.ID, c.Interval)
	}
	return c, nil
}

// UpdateConfig applies a partial patch, then stops and (if still enabled)
// restarts the config's timer so the new settings take effect atomically.
func (e *Engine) UpdateConfig(ctx context.Context, id string, p store.ConfigPatch) (*store.HeartbeatConfig, error) {
	if p.Interval != nil || p.Behaviors != nil {
		cur, err := e.st.Config(ctx, id)
		if err != nil {
			return nil, err
		}
		interval := cur.Interval
		if p.Interval != nil {
			interval = *p.Interval
		}
		behaviors := cur.Behaviors
		if p.Behaviors != nil {
			behaviors = p.Behaviors
		}
		if err := e.validate(interval, behaviors); err != nil {
			return nil, err
		}
	}
	for i := range p.Behaviors {
		if p.Behaviors[i].ID == "" {
			p.Behaviors[i].ID = uuid.NewString()
		}
	}

	updated, err := e.st.UpdateConfig(ctx, id, p)
	if err != nil {
		return nil, err
	}

	e.stopTimer(id)
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if started && updated.Enabled {
		e.startTimer(updated.ID, updated.Interval)
	}
	return updated, nil
}

// DeleteConfig stops the config's timer and removes it from the store.
func (e *Engine) DeleteConfig(ctx context.Context, id string) error {
	e.stopTimer(id)
	return e.st.DeleteConfig(ctx, id)
}

func (e *Engine) Config(ctx context.Context, id string) (*store.HeartbeatConfig, error) {
	return e.st.Config(ctx, id)
}

func (e *Engine) ConfigsByUser(ctx context.Context, userID string) ([]*store.HeartbeatConfig, error) {
	return e.st.ConfigsByUser(ctx, userID)
}

// StartHeartbeat starts the timer for one enabled config. Idempotent: a
// config that already has a live timer is left alone. The engine must be
// running; a timer created after Stop would never be torn down.
func (e *Engine) StartHeartbeat(ctx context.Context, id string) error {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return fmt.Errorf("%w: engine is not started", ErrValidation)
	}

	c, err := e.st.Config(ctx, id)
	if err != nil {
		return err
	}
	if !c.Enabled {
		return fmt.Errorf("%w: config %s is disabled", ErrValidation, id)
	}
	e.startTimer(c.ID, c.Interval)
	return nil
}

// StopHeartbeat stops the timer for one config. Stopping a config with no
// timer is a no-op.
func (e *Engine) StopHeartbeat(id string) {
	e.stopTimer(id)
}

// ExecuteNow fires one heartbeat for the config immediately, independent of
// its timer. Used by manual triggers and the cron bridge.
func (e *Engine) ExecuteNow(ctx context.Context, id string) (*Result, error) {
	c, err := e.st.Config(ctx, id)
	if err != nil {
		return nil, err
	}
	res := e.beat(ctx, c)
	return &res, nil
}

// ---- Lifecycle ----

// Start loads every enabled config and starts its timer. No-op when already
// started or disabled by engine config.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if !e.cfg.Enabled || e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	configs, err := e.st.EnabledConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load heartbeat configs: %w", err)
	}
	for _, c := range configs {
		e.startTimer(c.ID, c.Interval)
	}
	e.log.Info("heartbeat engine started", logx.Int("configs", len(configs)))
	e.publish(eventbus.HeartbeatStarted, map[string]any{"configs": len(configs)})
	return nil
}

// Stop halts every timer and waits for in-flight beats to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	for id, stop := range e.timers {
		close(stop)
		delete(e.timers, id)
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.log.Info("heartbeat engine stopped")
	e.publish(eventbus.HeartbeatStopped, nil)
}

// startTimer spawns the per-config timer goroutine. The interval is clamped
// into the engine bounds in case a stored config predates tighter limits.
// Timers exist only while the engine runs; Stop tears down every one, so a
// timer created afterwards would leak.
func (e *Engine) startTimer(id string, interval time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return
	}
	if _, live := e.timers[id]; live {
		return
	}
	if interval < e.cfg.MinInterval {
		interval = e.cfg.MinInterval
	}
	if interval > e.cfg.MaxInterval {
		interval = e.cfg.MaxInterval
	}

	stop := make(chan struct{})
	e.timers[id] = stop

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e.fire(id)
			}
		}
	}()
	e.log.Debug("heartbeat timer started", logx.String("id", id), logx.Duration("interval", interval))
}

func (e *Engine) stopTimer(id string) {
	e.mu.Lock()
	stop, live := e.timers[id]
	if live {
		delete(e.timers, id)
	}
	e.mu.Unlock()
	if live {
		close(stop)
		e.log.Debug("heartbeat timer stopped", logx.String("id", id))
	}
}

// fire is the timer-path entry: re-read the config and run one beat. A
// config deleted or disabled since the timer started tears the timer down.
func (e *Engine) fire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
	c, err := e.st.Config(ctx, id)
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.stopTimer(id)
			return
		}
		e.log.Warn("heartbeat config read failed", logx.String("id", id), logx.Err(err))
		e.publish(eventbus.HeartbeatError, ErrorEvent{ConfigID: id, Stage: "store", Error: err.Error()})
		return
	}
	if !c.Enabled {
		e.stopTimer(id)
		return
	}
	e.beat(context.Background(), c)
}

// beat runs one full heartbeat for the config: context assembly, behaviors
// in priority order, action dispatch, bookkeeping.
func (e *Engine) beat(ctx context.Context, c *store.HeartbeatConfig) Result {
	start := e.now()
	res := Result{ConfigID: c.ID, At: start}

	data := e.assembleContext(ctx, c)

	behaviors := make([]store.Behavior, 0, len(c.Behaviors))
	for _, b := range c.Behaviors {
		if b.Enabled {
			behaviors = append(behaviors, b)
		}
	}
	// Higher priority first; equal priorities keep config order.
	sort.SliceStable(behaviors, func(i, j int) bool {
		return behaviors[i].Priority > behaviors[j].Priority
	})

	for _, b := range behaviors {
		br := e.runBehavior(ctx, c, b, data)
		res.Behaviors = append(res.Behaviors, br)
		for _, a := range br.Actions {
			e.dispatch(ctx, c, a)
		}
	}

	res.Duration = e.now().Sub(start)

	wctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
	if err := e.st.TouchHeartbeat(wctx, c.ID, start); err != nil && !errors.Is(err, store.ErrNotFound) {
		e.log.Warn("heartbeat touch failed", logx.String("id", c.ID), logx.Err(err))
	}
	cancel()

	e.log.Debug("heartbeat tick",
		logx.String("id", c.ID), logx.Int("behaviors", len(res.Behaviors)),
		logx.Duration("dur", res.Duration))
	e.publish(eventbus.HeartbeatTick, res)
	return res
}

// assembleContext merges live provider data over the config's static
// context. Provider failure degrades to static context only.
func (e *Engine) assembleContext(ctx context.Context, c *store.HeartbeatConfig) map[string]any {
	data := map[string]any{}
	for k, v := range c.Context {
		data[k] = v
	}
	e.mu.Lock()
	provider := e.provider
	e.mu.Unlock()
	if provider == nil {
		return data
	}
	live, err := provider(ctx, c)
	if err != nil {
		e.log.Debug("context provider failed", logx.String("id", c.ID), logx.Err(err))
		return data
	}
	for k, v := range live {
		data[k] = v
	}
	return data
}

// runBehavior executes one behavior under the per-behavior timeout. Panics
// and errors are contained; they fail the behavior, not the beat.
func (e *Engine) runBehavior(ctx context.Context, c *store.HeartbeatConfig, b store.Behavior, data map[string]any) BehaviorResult {
	e.mu.Lock()
	h, ok := e.handlers[b.Type]
	timeout := e.cfg.BehaviorTimeout
	e.mu.Unlock()

	br := BehaviorResult{BehaviorID: b.ID, Name: b.Name, Type: b.Type}
	if !ok || h == nil {
		br.Error = fmt.Sprintf("no handler for behavior type %q", b.Type)
		e.publish(eventbus.HeartbeatError, ErrorEvent{ConfigID: c.ID, BehaviorID: b.ID, Stage: "behavior", Error: br.Error})
		return br
	}

	start := e.now()
	actions, err := runBehaviorWithTimeout(ctx, timeout, h, b, data)
	br.Duration = e.now().Sub(start)
	br.Executed = err == nil
	br.Actions = actions
	if err != nil {
		br.Error = err.Error()
		e.log.Warn("behavior failed",
			logx.String("config", c.ID), logx.String("behavior", b.Name),
			logx.String("type", string(b.Type)), logx.Err(err))
		e.publish(eventbus.HeartbeatError, ErrorEvent{ConfigID: c.ID, BehaviorID: b.ID, Stage: "behavior", Error: br.Error})
	}
	return br
}

// dispatch hands one action to the sink, isolated so a broken sink cannot
// abort the beat, and emits the action event.
func (e *Engine) dispatch(ctx context.Context, c *store.HeartbeatConfig, a Action) {
	e.publish(eventbus.HeartbeatAction, ActionEvent{ConfigID: c.ID, Action: a})

	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink == nil {
		return
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("action sink panic: %v", r)
			}
		}()
		return sink(ctx, c, a)
	}()
	if err != nil {
		e.log.Warn("action dispatch failed",
			logx.String("config", c.ID), logx.String("title", a.Title), logx.Err(err))
		e.publish(eventbus.HeartbeatError, ErrorEvent{ConfigID: c.ID, Stage: "dispatch", Error: err.Error()})
	}
}

func (e *Engine) publish(name string, data any) {
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Name: name, Data: data})
	}
}

// runBehaviorWithTimeout races the handler against its budget. On timeout
// the wait is abandoned; the handler goroutine keeps running until it
// observes ctx.
func runBehaviorWithTimeout(ctx context.Context, timeout time.Duration, h Handler, b store.Behavior, data map[string]any) ([]Action, error) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		actions []Action
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("behavior panic: %v", r)}
			}
		}()
		actions, err := h.Execute(rctx, b, data)
		done <- outcome{actions: actions, err: err}
	}()

	select {
	case o := <-done:
		return o.actions, o.err
	case <-rctx.Done():
		if errors.Is(rctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("behavior timed out after %s", timeout)
		}
		return nil, rctx.Err()
	}
}

// gate evaluates a behavior's own conditions with AND semantics. No
// conditions means the gate is open.
func gate(b store.Behavior, data map[string]any) bool {
	return condition.EvaluateAll(b.Conditions, data, condition.LogicAnd)
}
