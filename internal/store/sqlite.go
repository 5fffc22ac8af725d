//go:build sqlite
// +build sqlite

package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
	"pulsebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db           *sql.DB
	log          logx.Logger
	historyLimit int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, historyLimit: cfg.HistoryLimit}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Schedules ----

const scheduleCols = `id, user_id, name, expression, timezone, enabled, handler, payload,
	last_run_at, next_run_at, run_count, max_runs, created_at, updated_at`

func (s *sqliteStore) CreateSchedule(ctx context.Context, sc *Schedule) error {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	now := time.Now()
	sc.CreatedAt = now
	sc.UpdatedAt = now
	recomputeNextRun(sc, now)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(`+scheduleCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sc.ID, sc.UserID, sc.Name, sc.Expression, sc.Timezone, boolInt(sc.Enabled), sc.Handler,
		bagJSON(sc.Payload), timeDB(sc.LastRunAt), timeDB(sc.NextRunAt), sc.RunCount, sc.MaxRuns,
		timeDB(sc.CreatedAt), timeDB(sc.UpdatedAt),
	)
	return err
}

func (s *sqliteStore) Schedule(ctx context.Context, id string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return sc, err
}

func (s *sqliteStore) SchedulesByUser(ctx context.Context, userID string) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (s *sqliteStore) UpdateSchedule(ctx context.Context, id string, p SchedulePatch) (*Schedule, error) {
	sc, err := s.Schedule(ctx, id)
	if err != nil {
		return nil, err
	}
	applySchedulePatch(sc, p, time.Now())

	_, err = s.db.ExecContext(ctx,
		`UPDATE schedules SET name=?, expression=?, timezone=?, enabled=?, handler=?, payload=?,
		 last_run_at=?, next_run_at=?, run_count=?, max_runs=?, updated_at=? WHERE id=?`,
		sc.Name, sc.Expression, sc.Timezone, boolInt(sc.Enabled), sc.Handler, bagJSON(sc.Payload),
		timeDB(sc.LastRunAt), timeDB(sc.NextRunAt), sc.RunCount, sc.MaxRuns, timeDB(sc.UpdatedAt), id,
	)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	// History cascade is explicit: foreign_keys pragma is not relied upon.
	_, err = s.db.ExecContext(ctx, `DELETE FROM schedule_history WHERE schedule_id = ?`, id)
	return err
}

func (s *sqliteStore) DueSchedules(ctx context.Context, now time.Time) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules
		 WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		   AND (max_runs = 0 OR run_count < max_runs)
		 ORDER BY created_at, id`,
		timeDB(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (s *sqliteStore) RecordExecution(ctx context.Context, r ExecutionRecord) error {
	if r.ExecutedAt.IsZero() {
		r.ExecutedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule_history(schedule_id, executed_at, success, result, err, duration_ms)
		 VALUES(?,?,?,?,?,?)`,
		r.ScheduleID, timeDB(r.ExecutedAt), boolInt(r.Success), bagJSON(r.Result),
		nullStr(r.Error), r.Duration.Milliseconds(),
	)
	if err != nil {
		return err
	}
	if s.historyLimit > 0 {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM schedule_history WHERE schedule_id = ? AND id NOT IN (
			   SELECT id FROM schedule_history WHERE schedule_id = ? ORDER BY id DESC LIMIT ?)`,
			r.ScheduleID, r.ScheduleID, s.historyLimit)
	}
	return err
}

func (s *sqliteStore) History(ctx context.Context, scheduleID string, limit int) ([]ExecutionRecord, error) {
	q := `SELECT schedule_id, executed_at, success, result, err, duration_ms
	      FROM schedule_history WHERE schedule_id = ? ORDER BY id DESC`
	args := []any{scheduleID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var (
			r       ExecutionRecord
			at      string
			success int
			result  sql.NullString
			errStr  sql.NullString
			durMS   int64
		)
		if err := rows.Scan(&r.ScheduleID, &at, &success, &result, &errStr, &durMS); err != nil {
			return nil, err
		}
		r.ExecutedAt = timeFromDB(at)
		r.Success = success != 0
		r.Result = bagFromJSON(result)
		r.Error = errStr.String
		r.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- Heartbeat configs ----

const configCols = `id, user_id, bot_id, name, enabled, interval_ms, behaviors, context,
	last_heartbeat_at, created_at, updated_at`

func (s *sqliteStore) CreateConfig(ctx context.Context, c *HeartbeatConfig) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	behaviors, err := json.Marshal(c.Behaviors)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO heartbeat_configs(`+configCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.UserID, c.BotID, c.Name, boolInt(c.Enabled), c.Interval.Milliseconds(),
		string(behaviors), bagJSON(c.Context), timeDB(c.LastHeartbeatAt),
		timeDB(c.CreatedAt), timeDB(c.UpdatedAt),
	)
	return err
}

func (s *sqliteStore) Config(ctx context.Context, id string) (*HeartbeatConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+configCols+` FROM heartbeat_configs WHERE id = ?`, id)
	c, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("heartbeat config %s: %w", id, ErrNotFound)
	}
	return c, err
}

func (s *sqliteStore) ConfigsByUser(ctx context.Context, userID string) ([]*HeartbeatConfig, error) {
	return s.queryConfigs(ctx,
		`SELECT `+configCols+` FROM heartbeat_configs WHERE user_id = ? ORDER BY created_at, id`, userID)
}

func (s *sqliteStore) EnabledConfigs(ctx context.Context) ([]*HeartbeatConfig, error) {
	return s.queryConfigs(ctx,
		`SELECT `+configCols+` FROM heartbeat_configs WHERE enabled = 1 ORDER BY created_at, id`)
}

func (s *sqliteStore) queryConfigs(ctx context.Context, q string, args ...any) ([]*HeartbeatConfig, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*HeartbeatConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateConfig(ctx context.Context, id string, p ConfigPatch) (*HeartbeatConfig, error) {
	c, err := s.Config(ctx, id)
	if err != nil {
		return nil, err
	}
	applyConfigPatch(c, p, time.Now())

	behaviors, err := json.Marshal(c.Behaviors)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE heartbeat_configs SET bot_id=?, name=?, enabled=?, interval_ms=?, behaviors=?,
		 context=?, updated_at=? WHERE id=?`,
		c.BotID, c.Name, boolInt(c.Enabled), c.Interval.Milliseconds(), string(behaviors),
		bagJSON(c.Context), timeDB(c.UpdatedAt), id,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *sqliteStore) DeleteConfig(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM heartbeat_configs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("heartbeat config %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) TouchHeartbeat(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE heartbeat_configs SET last_heartbeat_at=?, updated_at=? WHERE id=?`,
		timeDB(at), timeDB(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("heartbeat config %s: %w", id, ErrNotFound)
	}
	return nil
}

// ---- scan/serialize helpers ----

type rowScanner interface{ Scan(dest ...any) error }

func scanSchedule(row rowScanner) (*Schedule, error) {
	var (
		sc               Schedule
		enabled          int
		payload          sql.NullString
		lastRun, nextRun sql.NullString
		created, updated string
	)
	err := row.Scan(&sc.ID, &sc.UserID, &sc.Name, &sc.Expression, &sc.Timezone, &enabled,
		&sc.Handler, &payload, &lastRun, &nextRun, &sc.RunCount, &sc.MaxRuns, &created, &updated)
	if err != nil {
		return nil, err
	}
	sc.Enabled = enabled != 0
	sc.Payload = bagFromJSON(payload)
	sc.LastRunAt = timeFromNull(lastRun)
	sc.NextRunAt = timeFromNull(nextRun)
	sc.CreatedAt = timeFromDB(created)
	sc.UpdatedAt = timeFromDB(updated)
	return &sc, nil
}

func collectSchedules(rows *sql.Rows) ([]*Schedule, error) {
	var out []*Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func scanConfig(row rowScanner) (*HeartbeatConfig, error) {
	var (
		c                HeartbeatConfig
		enabled          int
		intervalMS       int64
		behaviors        string
		contextJSON      sql.NullString
		lastBeat         sql.NullString
		created, updated string
	)
	err := row.Scan(&c.ID, &c.UserID, &c.BotID, &c.Name, &enabled, &intervalMS,
		&behaviors, &contextJSON, &lastBeat, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.Enabled = enabled != 0
	c.Interval = time.Duration(intervalMS) * time.Millisecond
	if err := json.Unmarshal([]byte(behaviors), &c.Behaviors); err != nil {
		return nil, fmt.Errorf("heartbeat config %s: behaviors column: %w", c.ID, err)
	}
	c.Context = bagFromJSON(contextJSON)
	c.LastHeartbeatAt = timeFromNull(lastBeat)
	c.CreatedAt = timeFromDB(created)
	c.UpdatedAt = timeFromDB(updated)
	return &c, nil
}

