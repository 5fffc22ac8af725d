package config

import (
	"fmt"
	"time"

	"pulsebot/internal/heartbeat"
	"pulsebot/internal/scheduler"
	"pulsebot/internal/store"
	"pulsebot/pkg/logx"
)

// Config is the on-disk configuration (JSON or YAML). Unknown keys are
// rejected so typos surface at load time instead of silently defaulting.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Telegram  *TelegramConfig `json:"telegram,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig selects the store backend. Empty driver means "memory".
type StorageConfig struct {
	Driver       string `json:"driver,omitempty"`
	Path         string `json:"path,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`  // sqlite only
	HistoryLimit int    `json:"history_limit,omitempty"` // retained runs per schedule, 0 = all
}

type SchedulerConfig struct {
	Enabled       bool   `json:"enabled"`
	TickInterval  string `json:"tick_interval,omitempty"`
	MaxConcurrent int    `json:"max_concurrent,omitempty"`
	JobTimeout    string `json:"job_timeout,omitempty"`
}

type HeartbeatConfig struct {
	Enabled         bool   `json:"enabled"`
	MinInterval     string `json:"min_interval,omitempty"`
	MaxInterval     string `json:"max_interval,omitempty"`
	MaxBehaviors    int    `json:"max_behaviors,omitempty"`
	BehaviorTimeout string `json:"behavior_timeout,omitempty"`
}

// TelegramConfig wires the outbound notification sink. Nil section or empty
// token disables it.
type TelegramConfig struct {
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// ---- Typed views consumed by the components ----

func (c *Config) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

func (c *Config) StoreConfig() (store.Config, error) {
	busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	if c.Storage.HistoryLimit < 0 {
		return store.Config{}, fmt.Errorf("storage.history_limit: must be >= 0")
	}
	return store.Config{
		Driver:       c.Storage.Driver,
		Path:         c.Storage.Path,
		BusyTimeout:  busy,
		HistoryLimit: c.Storage.HistoryLimit,
	}, nil
}

func (c *Config) SchedulerConfig() (scheduler.Config, error) {
	tick, err := ParseDurationField("scheduler.tick_interval", c.Scheduler.TickInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	timeout, err := ParseDurationField("scheduler.job_timeout", c.Scheduler.JobTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	if c.Scheduler.MaxConcurrent < 0 {
		return scheduler.Config{}, fmt.Errorf("scheduler.max_concurrent: must be >= 0")
	}
	return scheduler.Config{
		Enabled:       c.Scheduler.Enabled,
		TickInterval:  tick,
		MaxConcurrent: c.Scheduler.MaxConcurrent,
		JobTimeout:    timeout,
	}, nil
}

func (c *Config) HeartbeatConfig() (heartbeat.Config, error) {
	minI, err := ParseDurationField("heartbeat.min_interval", c.Heartbeat.MinInterval)
	if err != nil {
		return heartbeat.Config{}, err
	}
	maxI, err := ParseDurationField("heartbeat.max_interval", c.Heartbeat.MaxInterval)
	if err != nil {
		return heartbeat.Config{}, err
	}
	bt, err := ParseDurationField("heartbeat.behavior_timeout", c.Heartbeat.BehaviorTimeout)
	if err != nil {
		return heartbeat.Config{}, err
	}
	if minI > 0 && maxI > 0 && minI > maxI {
		return heartbeat.Config{}, fmt.Errorf("heartbeat: min_interval %s exceeds max_interval %s", minI, maxI)
	}
	return heartbeat.Config{
		Enabled:         c.Heartbeat.Enabled,
		MinInterval:     minI,
		MaxInterval:     maxI,
		MaxBehaviors:    c.Heartbeat.MaxBehaviors,
		BehaviorTimeout: bt,
	}, nil
}

// Validate checks every typed view so a broken file is rejected as a whole
// before any component sees it.
func (c *Config) Validate() error {
	if _, err := c.StoreConfig(); err != nil {
		return err
	}
	if _, err := c.SchedulerConfig(); err != nil {
		return err
	}
	if _, err := c.HeartbeatConfig(); err != nil {
		return err
	}
	if c.Telegram != nil && c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram: chat_id required when token is set")
	}
	return nil
}

// ParseDurationField parses an optional duration string; empty means zero,
// which lets each component apply its own default.
func ParseDurationField(path, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}
