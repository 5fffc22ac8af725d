package notify

import (
	"context"
	"strings"
	"testing"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"pulsebot/internal/heartbeat"
	"pulsebot/internal/store"
	"pulsebot/pkg/logx"
)

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(_ tele.Recipient, what any, _ ...any) (*tele.Message, error) {
	f.sent = append(f.sent, what.(string))
	return &tele.Message{}, nil
}

func TestDisabledWithoutToken(t *testing.T) {
	t.Parallel()
	s, err := New(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if s.Enabled() {
		t.Fatal("tokenless service reports enabled")
	}
	// OnAction must be a safe no-op.
	err = s.OnAction(context.Background(), &store.HeartbeatConfig{Name: "x"}, heartbeat.Action{Title: "t"})
	if err != nil {
		t.Fatalf("OnAction error: %v", err)
	}
}

func TestOnActionSendsFormattedMessage(t *testing.T) {
	t.Parallel()
	f := &fakeSender{}
	s := &Service{
		cfg:     Config{ChatID: 42},
		log:     logx.Nop(),
		bot:     f,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}

	cfg := &store.HeartbeatConfig{ID: "c1", Name: "prod monitor"}
	err := s.OnAction(context.Background(), cfg, heartbeat.Action{
		Type:     heartbeat.ActionAlert,
		Priority: heartbeat.PriorityCritical,
		Title:    "cpu critical",
		Message:  "cpu is 97",
	})
	if err != nil {
		t.Fatalf("OnAction error: %v", err)
	}
	if len(f.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(f.sent))
	}
	msg := f.sent[0]
	for _, want := range []string{"🔴", "ALERT", "cpu critical", "cpu is 97", "prod monitor"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestRateLimitDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()
	f := &fakeSender{}
	s := &Service{
		cfg:     Config{ChatID: 42},
		log:     logx.Nop(),
		bot:     f,
		limiter: rate.NewLimiter(rate.Limit(0.0001), 1), // one send, then dry
	}

	cfg := &store.HeartbeatConfig{ID: "c1", Name: "m"}
	a := heartbeat.Action{Type: heartbeat.ActionNotification, Title: "hi"}
	for i := 0; i < 5; i++ {
		if err := s.OnAction(context.Background(), cfg, a); err != nil {
			t.Fatalf("OnAction error: %v", err)
		}
	}
	if len(f.sent) != 1 {
		t.Fatalf("sent %d messages past the limit, want 1", len(f.sent))
	}
}
