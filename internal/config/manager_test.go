package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, t.TempDir(), "config.json", `{
		"logging": {"level": "debug", "console": true},
		"storage": {"driver": "memory"},
		"scheduler": {"enabled": true, "tick_interval": "2s", "max_concurrent": 4, "job_timeout": "1m"},
		"heartbeat": {"enabled": true, "min_interval": "10s", "max_interval": "1h"}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	sch, err := cfg.SchedulerConfig()
	if err != nil {
		t.Fatalf("SchedulerConfig error: %v", err)
	}
	if sch.TickInterval != 2*time.Second || sch.MaxConcurrent != 4 || sch.JobTimeout != time.Minute {
		t.Fatalf("scheduler config = %+v", sch)
	}
	hb, err := cfg.HeartbeatConfig()
	if err != nil {
		t.Fatalf("HeartbeatConfig error: %v", err)
	}
	if hb.MinInterval != 10*time.Second || hb.MaxInterval != time.Hour {
		t.Fatalf("heartbeat config = %+v", hb)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, t.TempDir(), "config.yaml", strings.Join([]string{
		"logging:",
		"  level: info",
		"  console: true",
		"scheduler:",
		"  enabled: true",
		"  tick_interval: 500ms",
		"heartbeat:",
		"  enabled: false",
	}, "\n"))

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Logging.Level != "info" || !cfg.Scheduler.Enabled {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, t.TempDir(), "config.json", `{
		"logging": {"level": "info", "console": true},
		"scheduler": {"enabled": true},
		"heartbeat": {"enabled": true},
		"schedular": {"enabled": true}
	}`)

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, t.TempDir(), "config.json", `{
		"logging": {"level": "info", "console": true},
		"scheduler": {"enabled": true, "tick_interval": "fast"},
		"heartbeat": {"enabled": true}
	}`)

	if _, err := NewManager(path).Load(); err == nil || !strings.Contains(err.Error(), "tick_interval") {
		t.Fatalf("bad duration: got %v", err)
	}
}

func TestValidateRejectsInvertedHeartbeatBounds(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Heartbeat: HeartbeatConfig{MinInterval: "1h", MaxInterval: "10s"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("inverted interval bounds accepted")
	}
}

func TestValidateRequiresChatIDWithToken(t *testing.T) {
	t.Parallel()
	cfg := &Config{Telegram: &TelegramConfig{Token: "t"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("telegram token without chat_id accepted")
	}
}

func TestSubscribePublishAndUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	default:
		t.Fatal("no config delivered")
	}

	// Full buffer: newest wins.
	first := &Config{Logging: LoggingConfig{Level: "old"}}
	second := &Config{Logging: LoggingConfig{Level: "new"}}
	m.publish(first)
	m.publish(second)
	if got := <-ch; got.Logging.Level != "new" {
		t.Fatalf("level = %q, want newest update", got.Logging.Level)
	}

	m.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatal("channel still open after Unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	m.publish(cfg)
}

func TestReloadSkipsUnchangedContent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	body := `{
		"logging": {"level": "info", "console": true},
		"scheduler": {"enabled": true},
		"heartbeat": {"enabled": true}
	}`
	path := writeConfig(t, dir, "config.json", body)

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	ch := m.Subscribe(1)

	// Same bytes re-written: no publish.
	writeConfig(t, dir, "config.json", body)
	m.reload(t.Context())
	select {
	case <-ch:
		t.Fatal("unchanged config was published")
	default:
	}

	// Changed bytes: one publish.
	writeConfig(t, dir, "config.json", strings.Replace(body, `"info"`, `"debug"`, 1))
	m.reload(t.Context())
	select {
	case got := <-ch:
		if got.Logging.Level != "debug" {
			t.Fatalf("level = %q, want debug", got.Logging.Level)
		}
	default:
		t.Fatal("changed config not published")
	}
}
