// Package app wires the store, engines, notifier and config manager into
// one runnable unit. It owns startup and shutdown order; nothing here has
// domain logic of its own.
package app

import (
	"context"
	"fmt"
	"sync"

	"pulsebot/internal/config"
	"pulsebot/internal/eventbus"
	"pulsebot/internal/heartbeat"
	"pulsebot/internal/notify"
	"pulsebot/internal/scheduler"
	"pulsebot/internal/store"
	"pulsebot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	st       store.Store
	bus      eventbus.Bus
	sched    *scheduler.Service
	hb       *heartbeat.Engine
	notifier *notify.Service

	wg sync.WaitGroup
}

// New loads the config file and builds every component, fully wired but not
// yet started.
func New(configPath string) (*App, error) {
	cfgMgr := config.NewManager(configPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}

	logSvc, log := logx.New(cfg.LogxConfig())
	cfgMgr.SetLogger(log.With(logx.String("svc", "config")))

	storeCfg, err := cfg.StoreConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(storeCfg, log.With(logx.String("svc", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.New()

	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(schedCfg, st, bus, log.With(logx.String("svc", "scheduler")))

	hbCfg, err := cfg.HeartbeatConfig()
	if err != nil {
		return nil, err
	}
	hb := heartbeat.New(hbCfg, st, bus, log.With(logx.String("svc", "heartbeat")))

	var notifyCfg notify.Config
	if cfg.Telegram != nil {
		notifyCfg = notify.Config{
			Token:      cfg.Telegram.Token,
			ChatID:     cfg.Telegram.ChatID,
			RatePerSec: cfg.Telegram.RatePerSec,
		}
	}
	notifier, err := notify.New(notifyCfg, log.With(logx.String("svc", "notify")))
	if err != nil {
		return nil, err
	}
	if notifier.Enabled() {
		hb.SetActionSink(notifier.OnAction)
	}

	a := &App{
		cfgMgr:   cfgMgr,
		logSvc:   logSvc,
		log:      log,
		st:       st,
		bus:      bus,
		sched:    sched,
		hb:       hb,
		notifier: notifier,
	}
	a.registerBuiltins()
	return a, nil
}

// Scheduler exposes the cron service for callers embedding the app.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Heartbeat exposes the heartbeat engine for callers embedding the app.
func (a *App) Heartbeat() *heartbeat.Engine { return a.hb }

// Bus exposes the event bus for extra subscribers.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Logger returns the root logger.
func (a *App) Logger() logx.Logger { return a.log }

// Start brings the engines up and begins config watching. It returns once
// everything is running; Run is the blocking variant.
func (a *App) Start(ctx context.Context) error {
	a.sched.Start(ctx)
	if err := a.hb.Start(ctx); err != nil {
		a.sched.Stop()
		return err
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.logEvents(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.applyReloads(ctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgMgr.Watch(ctx); err != nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	a.log.Info("pulsebot started")
	return nil
}

// Run starts the app and blocks until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.Shutdown()
	return nil
}

// Shutdown stops the engines, waits for background goroutines and closes
// the store. Safe to call once after Start.
func (a *App) Shutdown() {
	a.sched.Stop()
	a.hb.Stop()
	a.wg.Wait()
	if err := a.st.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("pulsebot stopped")
}

// logEvents mirrors the event surface into the log at debug level, so a log
// tail shows the same stream external subscribers see.
func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("name", ev.Name), logx.Any("data", ev.Data))
		}
	}
}

// applyReloads pushes committed config changes into the live components.
// Logging, scheduler and heartbeat settings apply in place; a storage driver
// change needs a restart and is only logged.
func (a *App) applyReloads(ctx context.Context) {
	updates := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(updates)

	driver := ""
	if cur := a.cfgMgr.Get(); cur != nil {
		driver = cur.Storage.Driver
	}
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			a.logSvc.Apply(cfg.LogxConfig())
			if sc, err := cfg.SchedulerConfig(); err == nil {
				a.sched.Apply(sc)
			}
			if hc, err := cfg.HeartbeatConfig(); err == nil {
				a.hb.Apply(hc)
			}
			if cfg.Storage.Driver != driver {
				a.log.Warn("storage driver change requires restart",
					logx.String("driver", cfg.Storage.Driver))
			}
			snap := a.sched.Snapshot()
			a.log.Info("config applied",
				logx.Bool("scheduler_enabled", snap.Enabled),
				logx.Int("running", snap.Running),
				logx.Int("max_concurrent", snap.MaxConcurrent),
				logx.Duration("job_timeout", snap.JobTimeout))
		}
	}
}
