package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is the in-process store backend. It is the default driver and the
// one tests run against. All returned values are copies; callers never share
// memory with the store.
type Memory struct {
	mu sync.Mutex

	schedules   map[string]*Schedule
	scheduleIDs []string // creation order, drives DueSchedules order
	history     map[string][]ExecutionRecord

	configs   map[string]*HeartbeatConfig
	configIDs []string

	// historyLimit caps rows per schedule; 0 keeps everything.
	historyLimit int

	// now is a test seam; production uses time.Now.
	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		schedules: map[string]*Schedule{},
		history:   map[string][]ExecutionRecord{},
		configs:   map[string]*HeartbeatConfig{},
		now:       time.Now,
	}
}

// SetHistoryLimit caps retained execution records per schedule, oldest
// dropped first. 0 keeps everything.
func (m *Memory) SetHistoryLimit(limit int) {
	m.mu.Lock()
	m.historyLimit = limit
	m.mu.Unlock()
}

// SetClock replaces the store clock (tests only).
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) Close() error { return nil }

// ---- Schedules ----

func (m *Memory) CreateSchedule(_ context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, exists := m.schedules[s.ID]; exists {
		return fmt.Errorf("schedule %s already exists", s.ID)
	}
	now := m.now()
	s.CreatedAt = now
	s.UpdatedAt = now
	recomputeNextRun(s, now)

	m.schedules[s.ID] = s.clone()
	m.scheduleIDs = append(m.scheduleIDs, s.ID)
	return nil
}

func (m *Memory) Schedule(_ context.Context, id string) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return s.clone(), nil
}

func (m *Memory) SchedulesByUser(_ context.Context, userID string) ([]*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Schedule
	for _, id := range m.scheduleIDs {
		if s := m.schedules[id]; s != nil && s.UserID == userID {
			out = append(out, s.clone())
		}
	}
	return out, nil
}

func (m *Memory) UpdateSchedule(_ context.Context, id string, p SchedulePatch) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	applySchedulePatch(s, p, m.now())
	return s.clone(), nil
}

func (m *Memory) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	delete(m.schedules, id)
	delete(m.history, id) // cascade
	for i, sid := range m.scheduleIDs {
		if sid == id {
			m.scheduleIDs = append(m.scheduleIDs[:i], m.scheduleIDs[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) DueSchedules(_ context.Context, now time.Time) ([]*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*Schedule
	for _, id := range m.scheduleIDs {
		s := m.schedules[id]
		if s == nil || !s.Enabled || s.Exhausted() {
			continue
		}
		if s.NextRunAt.IsZero() || s.NextRunAt.After(now) {
			continue
		}
		due = append(due, s.clone())
	}
	return due, nil
}

func (m *Memory) RecordExecution(_ context.Context, r ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[r.ScheduleID]; !ok {
		return fmt.Errorf("schedule %s: %w", r.ScheduleID, ErrNotFound)
	}
	if r.ExecutedAt.IsZero() {
		r.ExecutedAt = m.now()
	}
	rows := append(m.history[r.ScheduleID], r)
	if m.historyLimit > 0 && len(rows) > m.historyLimit {
		rows = append(rows[:0:0], rows[len(rows)-m.historyLimit:]...)
	}
	m.history[r.ScheduleID] = rows
	return nil
}

func (m *Memory) History(_ context.Context, scheduleID string, limit int) ([]ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.history[scheduleID]
	out := make([]ExecutionRecord, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- { // newest first
		out = append(out, rows[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ---- Heartbeat configs ----

func (m *Memory) CreateConfig(_ context.Context, c *HeartbeatConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, exists := m.configs[c.ID]; exists {
		return fmt.Errorf("heartbeat config %s already exists", c.ID)
	}
	now := m.now()
	c.CreatedAt = now
	c.UpdatedAt = now
	m.configs[c.ID] = c.clone()
	m.configIDs = append(m.configIDs, c.ID)
	return nil
}

func (m *Memory) Config(_ context.Context, id string) (*HeartbeatConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok {
		return nil, fmt.Errorf("heartbeat config %s: %w", id, ErrNotFound)
	}
	return c.clone(), nil
}

func (m *Memory) ConfigsByUser(_ context.Context, userID string) ([]*HeartbeatConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*HeartbeatConfig
	for _, id := range m.configIDs {
		if c := m.configs[id]; c != nil && c.UserID == userID {
			out = append(out, c.clone())
		}
	}
	return out, nil
}

func (m *Memory) EnabledConfigs(_ context.Context) ([]*HeartbeatConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*HeartbeatConfig
	for _, id := range m.configIDs {
		if c := m.configs[id]; c != nil && c.Enabled {
			out = append(out, c.clone())
		}
	}
	return out, nil
}

func (m *Memory) UpdateConfig(_ context.Context, id string, p ConfigPatch) (*HeartbeatConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.configs[id]
	if !ok {
		return nil, fmt.Errorf("heartbeat config %s: %w", id, ErrNotFound)
	}
	applyConfigPatch(c, p, m.now())
	return c.clone(), nil
}

func (m *Memory) DeleteConfig(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[id]; !ok {
		return fmt.Errorf("heartbeat config %s: %w", id, ErrNotFound)
	}
	delete(m.configs, id)
	for i, cid := range m.configIDs {
		if cid == id {
			m.configIDs = append(m.configIDs[:i], m.configIDs[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) TouchHeartbeat(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok {
		return fmt.Errorf("heartbeat config %s: %w", id, ErrNotFound)
	}
	c.LastHeartbeatAt = at
	c.UpdatedAt = m.now()
	return nil
}
