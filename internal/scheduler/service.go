package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pulsebot/internal/cron"
	"pulsebot/internal/eventbus"
	"pulsebot/internal/store"
	"pulsebot/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config

	log logx.Logger
	st  store.Store
	bus eventbus.Bus

	handlers map[string]Handler

	// running counts in-flight jobs; inflight guards against launching the
	// same schedule twice. Both guarded by mu.
	running  int
	inflight map[string]struct{}

	stopCh chan struct{}
	jobWG  sync.WaitGroup
	loopWG sync.WaitGroup

	// now is a test seam; production uses time.Now.
	now func() time.Time
}

func New(cfg Config, st store.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		log:      log,
		st:       st,
		bus:      bus,
		handlers: map[string]Handler{},
		inflight: map[string]struct{}{},
		now:      time.Now,
	}
}

// RegisterHandler binds a job handler to a logical name. Last registration
// wins; there is no versioning.
func (s *Service) RegisterHandler(name string, h Handler) {
	s.mu.Lock()
	s.handlers[name] = h
	s.mu.Unlock()
}

func (s *Service) handler(name string) (Handler, bool) {
	s.mu.Lock()
	h, ok := s.handlers[name]
	s.mu.Unlock()
	return h, ok
}

// Apply swaps runtime settings (config hot reload). Tick interval changes
// take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// RunningJobs reports the number of in-flight executions.
func (s *Service) RunningJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Enabled:       s.cfg.Enabled,
		Running:       s.running,
		MaxConcurrent: s.cfg.MaxConcurrent,
		TickInterval:  s.cfg.TickInterval,
		JobTimeout:    s.cfg.JobTimeout,
	}
}

// ---- Public schedule API ----

// Create validates and persists a new schedule. The handler must already be
// registered and the expression must parse; the store computes the first
// NextRunAt.
func (s *Service) Create(ctx context.Context, sc *store.Schedule) (*store.Schedule, error) {
	if strings.TrimSpace(sc.Name) == "" {
		return nil, fmt.Errorf("%w: name required", ErrValidation)
	}
	if err := cron.Validate(sc.Expression); err != nil {
		return nil, err
	}
	if _, err := cron.Location(sc.Timezone); err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrValidation, sc.Timezone)
	}
	if _, ok := s.handler(sc.Handler); !ok {
		return nil, fmt.Errorf("%q: %w", sc.Handler, ErrHandlerNotFound)
	}
	if sc.MaxRuns < 0 {
		return nil, fmt.Errorf("%w: max_runs must be >= 0", ErrValidation)
	}

	if err := s.st.CreateSchedule(ctx, sc); err != nil {
		return nil, err
	}
	s.log.Info("schedule created",
		logx.String("id", sc.ID), logx.String("name", sc.Name),
		logx.String("expr", sc.Expression), logx.Time("next", sc.NextRunAt))
	s.publish(eventbus.CronScheduled, JobEvent{ScheduleID: sc.ID, Name: sc.Name, Handler: sc.Handler})
	return sc, nil
}

// Update applies a partial patch. Expression, timezone and handler changes
// are validated here; next-run recomputation happens in the store.
func (s *Service) Update(ctx context.Context, id string, p store.SchedulePatch) (*store.Schedule, error) {
	if p.Expression != nil {
		if err := cron.Validate(*p.Expression); err != nil {
			return nil, err
		}
	}
	if p.Timezone != nil {
		if _, err := cron.Location(*p.Timezone); err != nil {
			return nil, fmt.Errorf("%w: unknown timezone %q", ErrValidation, *p.Timezone)
		}
	}
	if p.Handler != nil {
		if _, ok := s.handler(*p.Handler); !ok {
			return nil, fmt.Errorf("%q: %w", *p.Handler, ErrHandlerNotFound)
		}
	}
	return s.st.UpdateSchedule(ctx, id, p)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.st.DeleteSchedule(ctx, id)
}

// SetEnabled toggles a schedule. Timing is recomputed by the store; the
// change is picked up on the next tick, no timers are touched here.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) (*store.Schedule, error) {
	sc, err := s.st.UpdateSchedule(ctx, id, store.SchedulePatch{Enabled: &enabled})
	if err != nil {
		return nil, err
	}
	if !enabled {
		s.publish(eventbus.CronDisabled, JobEvent{ScheduleID: sc.ID, Name: sc.Name, Handler: sc.Handler})
	}
	return sc, nil
}

func (s *Service) Schedule(ctx context.Context, id string) (*store.Schedule, error) {
	return s.st.Schedule(ctx, id)
}

func (s *Service) History(ctx context.Context, id string, limit int) ([]store.ExecutionRecord, error) {
	return s.st.History(ctx, id, limit)
}

// ExecuteNow runs the schedule immediately, bypassing its timing. The run is
// recorded in history and counts against MaxRuns like any scheduled run.
func (s *Service) ExecuteNow(ctx context.Context, id string) (store.ExecutionRecord, error) {
	sc, err := s.st.Schedule(ctx, id)
	if err != nil {
		return store.ExecutionRecord{}, err
	}
	if !s.acquire(sc.ID) {
		return store.ExecutionRecord{}, fmt.Errorf("%s: %w", id, ErrBusy)
	}
	defer s.release(sc.ID)
	return s.execute(ctx, sc), nil
}

// ---- Lifecycle ----

// Start launches the tick loop. It is a no-op when already started or when
// the service is disabled by config.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if !s.cfg.Enabled || s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	interval := s.cfg.TickInterval
	s.mu.Unlock()

	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	s.log.Info("scheduler started",
		logx.Duration("tick", interval), logx.Int("max_concurrent", s.cfg.MaxConcurrent))
}

// Stop halts future ticks and waits for in-flight jobs to finish their
// bookkeeping. Work already running is not cancelled.
func (s *Service) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	s.loopWG.Wait()
	s.jobWG.Wait()
	s.log.Info("scheduler stopped")
}

// tick fetches due work and launches it within the concurrency budget.
// Errors never escape: a misbehaving job or store hiccup must not stall the
// loop.
func (s *Service) tick(ctx context.Context) {
	s.mu.Lock()
	cfg := s.cfg
	budget := cfg.MaxConcurrent - s.running
	s.mu.Unlock()

	if budget <= 0 {
		s.log.Debug("tick skipped: at concurrency cap", logx.Int("max", cfg.MaxConcurrent))
		return
	}

	due, err := s.st.DueSchedules(ctx, s.now())
	if err != nil {
		s.log.Warn("due scan failed", logx.Err(err))
		return
	}

	for _, sc := range due {
		if budget <= 0 {
			break
		}
		if !s.acquire(sc.ID) {
			continue // still in flight from a previous tick
		}
		budget--
		s.jobWG.Add(1)
		go func(sc *store.Schedule) {
			defer s.jobWG.Done()
			defer s.release(sc.ID)
			s.execute(ctx, sc)
		}(sc)
	}
}

// acquire reserves a concurrency slot for the schedule. It fails when the
// schedule is already in flight.
func (s *Service) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	s.running++
	return true
}

// release must run exactly once per successful acquire, on every outcome.
func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	if s.running > 0 {
		s.running--
	}
	s.mu.Unlock()
}

func (s *Service) publish(name string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Name: name, Data: data})
	}
}
