// Package notify delivers proactive heartbeat actions to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"pulsebot/internal/heartbeat"
	"pulsebot/internal/store"
	"pulsebot/pkg/logx"
)

type Config struct {
	Token      string
	ChatID     int64
	RatePerSec int // default 3
}

// sender is the telebot surface used here, narrowed for tests.
type sender interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
}

// Service formats actions and sends them to one chat. Sends beyond the rate
// budget are dropped, not queued: a stale alert is worse than a missing one,
// and the heartbeat will produce a fresh one next tick.
type Service struct {
	cfg     Config
	log     logx.Logger
	bot     sender
	limiter *rate.Limiter
}

// New builds the sink. An empty token yields a disabled service whose
// OnAction is a no-op, so callers can wire it unconditionally.
func New(cfg Config, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{cfg: cfg, log: log}
	if strings.TrimSpace(cfg.Token) == "" {
		log.Debug("telegram notifier disabled (no token)")
		return s, nil
	}

	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 3
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	s.bot = b
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	return s, nil
}

// Enabled reports whether the service has a live bot behind it.
func (s *Service) Enabled() bool { return s.bot != nil }

// OnAction satisfies heartbeat.ActionSink.
func (s *Service) OnAction(_ context.Context, cfg *store.HeartbeatConfig, a heartbeat.Action) error {
	if s.bot == nil {
		return nil
	}
	if !s.limiter.Allow() {
		s.log.Debug("notification dropped (rate limit)",
			logx.String("config", cfg.ID), logx.String("title", a.Title))
		return nil
	}

	_, err := s.bot.Send(tele.ChatID(s.cfg.ChatID), formatAction(cfg, a), tele.ModeMarkdown)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// formatAction renders one action as a short Markdown message. Priority and
// type lead so alerts are scannable in a busy chat.
func formatAction(cfg *store.HeartbeatConfig, a heartbeat.Action) string {
	var b strings.Builder
	b.WriteString(priorityMark(a.Priority))
	b.WriteString(" *")
	b.WriteString(strings.ToUpper(string(a.Type)))
	b.WriteString("* ")
	b.WriteString(a.Title)
	if a.Message != "" {
		b.WriteString("\n")
		b.WriteString(a.Message)
	}
	b.WriteString("\n_")
	b.WriteString(cfg.Name)
	b.WriteString(" at ")
	b.WriteString(time.Now().UTC().Format("15:04:05"))
	b.WriteString(" UTC_")
	return b.String()
}

func priorityMark(p string) string {
	switch p {
	case heartbeat.PriorityCritical:
		return "🔴"
	case heartbeat.PriorityHigh:
		return "🟠"
	case heartbeat.PriorityMedium:
		return "🟡"
	default:
		return "🟢"
	}
}
