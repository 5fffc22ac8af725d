package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// dbTimeLayout is RFC 3339 with a fixed-width nanosecond fraction and a
// forced UTC zone. Timestamps are compared as strings in SQL (the
// next_run_at due scan), which is only correct when every value has the
// same width; RFC3339Nano trims trailing zeros and breaks that.
const dbTimeLayout = "2006-01-02T15:04:05.000000000Z"

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timeDB(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(dbTimeLayout)
}

func timeFromDB(s string) time.Time {
	// RFC3339Nano also parses older variable-width rows.
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func timeFromNull(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	return timeFromDB(s.String)
}

func bagJSON(m map[string]any) any {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return string(b)
}

func bagFromJSON(s sql.NullString) map[string]any {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil
	}
	return m
}
