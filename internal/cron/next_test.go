package cron

import (
	"errors"
	"testing"
	"time"
)

func mustParse(t *testing.T, expr string) *Expression {
	t.Helper()
	e, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", expr, err)
	}
	return e
}

func TestNextDailyAtNine(t *testing.T) {
	t.Parallel()
	e := mustParse(t, "0 9 * * *")
	from := time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
	got, err := e.Next(from, time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	want := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}

	// Already past 9:00 today -> tomorrow.
	from = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	got, err = e.Next(from, time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	want = time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestNextStrictlyAfterAndTruncated(t *testing.T) {
	t.Parallel()
	e := mustParse(t, "* * * * *")
	from := time.Date(2024, 3, 10, 12, 30, 45, 123456, time.UTC)
	got, err := e.Next(from, nil)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	want := time.Date(2024, 3, 10, 12, 31, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
	if !got.After(from) {
		t.Fatal("Next must be strictly after from")
	}
}

func TestNextMatchesParsedSets(t *testing.T) {
	t.Parallel()
	exprs := []string{"*/15 */2 * * *", "30 6 1,15 * *", "0 0 * * 0", "5 4 * 2 *"}
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, raw := range exprs {
		e := mustParse(t, raw)
		got, err := e.Next(from, time.UTC)
		if err != nil {
			t.Fatalf("Next(%q) error: %v", raw, err)
		}
		if !got.After(from) {
			t.Fatalf("Next(%q) = %v not after %v", raw, got, from)
		}
		if got.Second() != 0 || got.Nanosecond() != 0 {
			t.Fatalf("Next(%q) = %v not minute-truncated", raw, got)
		}
		if !e.Matches(got) {
			t.Fatalf("Next(%q) = %v does not match its own sets", raw, got)
		}
	}
}

// Both day fields restricted: must match BOTH (Friday the 13th).
func TestNextDayOfMonthAndWeekAreANDed(t *testing.T) {
	t.Parallel()
	e := mustParse(t, "0 0 13 * 5")
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := e.Next(from, time.UTC)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	want := time.Date(2024, 9, 13, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v (first Friday the 13th of 2024)", got, want)
	}
	if got.Weekday() != time.Friday || got.Day() != 13 {
		t.Fatalf("Next = %v is not a Friday the 13th", got)
	}
}

func TestNextImpossibleExpression(t *testing.T) {
	t.Parallel()
	// February 30th never exists.
	e := mustParse(t, "0 0 30 2 *")
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := e.Next(from, time.UTC); !errors.Is(err, ErrNoMatchingTime) {
		t.Fatalf("expected ErrNoMatchingTime, got %v", err)
	}
}

func TestNextHonorsLocation(t *testing.T) {
	t.Parallel()
	e := mustParse(t, "0 9 * * *")
	loc := time.FixedZone("UTC+2", 2*3600)
	// 06:30 UTC is 08:30 in UTC+2, so the next 09:00 wall time is 07:00 UTC.
	from := time.Date(2024, 1, 15, 6, 30, 0, 0, time.UTC)
	got, err := e.Next(from, loc)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	want := time.Date(2024, 1, 15, 7, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got.UTC(), want)
	}
}

func TestLocation(t *testing.T) {
	t.Parallel()
	loc, err := Location("")
	if err != nil || loc != time.UTC {
		t.Fatalf("Location(\"\") = %v, %v", loc, err)
	}
	if _, err := Location("Not/AZone"); err == nil {
		t.Fatal("expected error for unknown zone")
	}
}
