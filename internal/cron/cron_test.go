package cron

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParseFieldExpansion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		expr    string
		minutes []int
		hours   []int
	}{
		{
			name:    "stepped wildcard",
			expr:    "*/15 */2 * * *",
			minutes: []int{0, 15, 30, 45},
			hours:   []int{0, 2, 4, 6, 8, 10, 12, 14, 16, 18, 20, 22},
		},
		{
			name:    "lists",
			expr:    "0,30 9,12,18 * * *",
			minutes: []int{0, 30},
			hours:   []int{9, 12, 18},
		},
		{
			name:    "stepped range",
			expr:    "10-30/10 1-3 * * *",
			minutes: []int{10, 20, 30},
			hours:   []int{1, 2, 3},
		},
		{
			name:    "union dedup sorted",
			expr:    "30,0-10/5,5 * * * *",
			minutes: []int{0, 5, 10, 30},
			hours:   fullRange(0, 23),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.expr, err)
			}
			if !reflect.DeepEqual(e.Minutes, tt.minutes) {
				t.Fatalf("Minutes = %v, want %v", e.Minutes, tt.minutes)
			}
			if !reflect.DeepEqual(e.Hours, tt.hours) {
				t.Fatalf("Hours = %v, want %v", e.Hours, tt.hours)
			}
		})
	}
}

func TestParseDomains(t *testing.T) {
	t.Parallel()
	e, err := Parse("* * * * *")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(e.Minutes) != 60 || len(e.Hours) != 24 || len(e.Days) != 31 || len(e.Months) != 12 || len(e.Weekdays) != 7 {
		t.Fatalf("wildcard domains wrong: %d %d %d %d %d",
			len(e.Minutes), len(e.Hours), len(e.Days), len(e.Months), len(e.Weekdays))
	}
	if e.Days[0] != 1 || e.Months[0] != 1 || e.Weekdays[0] != 0 {
		t.Fatalf("domain lower bounds wrong: %d %d %d", e.Days[0], e.Months[0], e.Weekdays[0])
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		expr  string
		field string // expected to be named in the error
	}{
		{"60 * * * *", "minute"},
		{"* 24 * * *", "hour"},
		{"* * 0 * *", "day-of-month"},
		{"* * * 13 *", "month"},
		{"* * * * 7", "day-of-week"},
		{"* * *", ""},
		{"* * * * * *", ""},
		{"a * * * *", "minute"},
		{"*/0 * * * *", "minute"},
		{"5-1 * * * *", "minute"},
		{"5/2 * * * *", "minute"},
		{"", ""},
	}
	for _, tt := range tests {
		err := Validate(tt.expr)
		if err == nil {
			t.Fatalf("Validate(%q): expected error", tt.expr)
		}
		if !errors.Is(err, ErrInvalidExpression) {
			t.Fatalf("Validate(%q): error %v is not ErrInvalidExpression", tt.expr, err)
		}
		if tt.field != "" && !strings.Contains(err.Error(), tt.field) {
			t.Fatalf("Validate(%q): error %q does not name field %q", tt.expr, err, tt.field)
		}
	}
}

func TestValidateOK(t *testing.T) {
	t.Parallel()
	for _, expr := range []string{"* * * * *", "0 9 * * 1-5", "*/5 0-12/3 1,15 */2 0,6"} {
		if err := Validate(expr); err != nil {
			t.Fatalf("Validate(%q) = %v, want nil", expr, err)
		}
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	tests := []struct {
		expr string
		want string
	}{
		{"* * * * *", "every minute"},
		{"0,30 9,12,18 * * *", "at minute 0 and 30 past hour 9, 12 and 18"},
		{"0 9 * * 1", "at minute 0 past hour 9 on Monday"},
		{"0 0 1 3 *", "at minute 0 past hour 0 on day-of-month 1 in March"},
	}
	for _, tt := range tests {
		got, err := Describe(tt.expr)
		if err != nil {
			t.Fatalf("Describe(%q) error: %v", tt.expr, err)
		}
		if got != tt.want {
			t.Fatalf("Describe(%q) = %q, want %q", tt.expr, got, tt.want)
		}
	}

	if _, err := Describe("nope"); !errors.Is(err, ErrInvalidExpression) {
		t.Fatalf("Describe invalid: got %v", err)
	}
}

func fullRange(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}
