package cron

import (
	"slices"
	"time"
)

// Next returns the earliest instant strictly after from that satisfies the
// expression, at minute granularity (seconds truncated to zero).
//
// The search starts at the minute after from and advances field by field,
// bounded to one year; passing the bound returns ErrNoMatchingTime, which
// signals a logically impossible expression such as "0 0 30 2 *".
//
// loc selects the wall clock the fields are matched against; nil keeps
// from's location. Day-of-month and day-of-week must BOTH match (see the
// package doc).
func (e *Expression) Next(from time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = from.Location()
	}
	t := from.In(loc).Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(1, 0, 0)

	for t.Before(limit) {
		switch {
		case !slices.Contains(e.Months, int(t.Month())):
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
		case !slices.Contains(e.Days, t.Day()) || !slices.Contains(e.Weekdays, int(t.Weekday())):
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
		case !slices.Contains(e.Hours, t.Hour()):
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc).Add(time.Hour)
		case !slices.Contains(e.Minutes, t.Minute()):
			t = t.Add(time.Minute)
		default:
			return t, nil
		}
	}
	return time.Time{}, ErrNoMatchingTime
}

// Matches reports whether t (in its own location) satisfies all five fields.
func (e *Expression) Matches(t time.Time) bool {
	return slices.Contains(e.Minutes, t.Minute()) &&
		slices.Contains(e.Hours, t.Hour()) &&
		slices.Contains(e.Days, t.Day()) &&
		slices.Contains(e.Months, int(t.Month())) &&
		slices.Contains(e.Weekdays, int(t.Weekday()))
}

// Location resolves an IANA timezone name, falling back to UTC for the empty
// string. Unknown names are an error so callers can surface them at
// create/update time instead of silently drifting.
func Location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
