package cron

import (
	"strconv"
	"strings"
	"time"
)

// Describe renders expr as a short human-readable sentence, e.g.
// "at minute 0 and 30 past hour 9, 12 and 18 on Monday".
func Describe(expr string) (string, error) {
	e, err := Parse(expr)
	if err != nil {
		return "", err
	}

	parts := []string{describeSet(e.Minutes, 0, 59, "every minute", "at minute ", formatInt)}
	if s := describeSet(e.Hours, 0, 23, "", "past hour ", formatInt); s != "" {
		parts = append(parts, s)
	}
	if s := describeSet(e.Days, 1, 31, "", "on day-of-month ", formatInt); s != "" {
		parts = append(parts, s)
	}
	if s := describeSet(e.Months, 1, 12, "", "in ", monthName); s != "" {
		parts = append(parts, s)
	}
	if s := describeSet(e.Weekdays, 0, 6, "", "on ", weekdayName); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, " "), nil
}

// describeSet renders one field. A full domain renders as the wildcard text
// (empty means "omit the clause entirely").
func describeSet(vals []int, min, max int, wildcard, prefix string, name func(int) string) string {
	if len(vals) == max-min+1 {
		return wildcard
	}
	return prefix + joinHuman(vals, name)
}

func joinHuman(vals []int, name func(int) string) string {
	switch len(vals) {
	case 0:
		return ""
	case 1:
		return name(vals[0])
	}
	var b strings.Builder
	for i, v := range vals {
		switch {
		case i == 0:
		case i == len(vals)-1:
			b.WriteString(" and ")
		default:
			b.WriteString(", ")
		}
		b.WriteString(name(v))
	}
	return b.String()
}

func formatInt(v int) string { return strconv.Itoa(v) }

func monthName(v int) string { return time.Month(v).String() }

func weekdayName(v int) string { return time.Weekday(v).String() }
