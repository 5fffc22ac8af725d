package cron

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrInvalidExpression marks a syntactically malformed expression.
	ErrInvalidExpression = errors.New("invalid cron expression")
	// ErrNoMatchingTime marks a well-formed expression that can never fire
	// (e.g. "0 0 30 2 *").
	ErrNoMatchingTime = errors.New("no matching time within one year")
)

// Expression is a parsed cron expression: per-field sets of allowed values,
// ascending and deduplicated. It is derived from the raw string and never
// persisted.
type Expression struct {
	Minutes  []int // 0-59
	Hours    []int // 0-23
	Days     []int // 1-31
	Months   []int // 1-12
	Weekdays []int // 0-6, Sunday = 0
}

type fieldSpec struct {
	name     string
	min, max int
}

var fields = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Parse validates expr and expands each field into its explicit value set.
func Parse(expr string) (*Expression, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: want 5 fields, got %d in %q", ErrInvalidExpression, len(parts), expr)
	}

	var sets [5][]int
	for i, spec := range fields {
		vals, err := parseField(parts[i], spec)
		if err != nil {
			return nil, err
		}
		sets[i] = vals
	}

	return &Expression{
		Minutes:  sets[0],
		Hours:    sets[1],
		Days:     sets[2],
		Months:   sets[3],
		Weekdays: sets[4],
	}, nil
}

// parseField expands one field into its sorted, deduplicated value set.
//
// Grammar per comma-separated part: "*", "n", "a-b", each optionally
// followed by "/s" (a step only makes sense on a range or wildcard).
func parseField(field string, spec fieldSpec) ([]int, error) {
	if field == "" {
		return nil, fmt.Errorf("%w: %s field is empty", ErrInvalidExpression, spec.name)
	}

	set := map[int]struct{}{}
	for _, part := range strings.Split(field, ",") {
		base, stepStr, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: %s field: bad step in %q", ErrInvalidExpression, spec.name, part)
			}
			step = n
		}

		var lo, hi int
		switch {
		case base == "*":
			lo, hi = spec.min, spec.max
		case strings.Contains(base, "-"):
			a, b, _ := strings.Cut(base, "-")
			start, err1 := strconv.Atoi(a)
			end, err2 := strconv.Atoi(b)
			if err1 != nil || err2 != nil || start > end || start < spec.min || end > spec.max {
				return nil, fmt.Errorf("%w: %s field: bad range %q", ErrInvalidExpression, spec.name, part)
			}
			lo, hi = start, end
		default:
			if hasStep {
				return nil, fmt.Errorf("%w: %s field: step requires a range or wildcard in %q", ErrInvalidExpression, spec.name, part)
			}
			v, err := strconv.Atoi(base)
			if err != nil || v < spec.min || v > spec.max {
				return nil, fmt.Errorf("%w: %s field: bad value %q", ErrInvalidExpression, spec.name, part)
			}
			lo, hi = v, v
		}

		for i := lo; i <= hi; i += step {
			set[i] = struct{}{}
		}
	}

	vals := make([]int, 0, len(set))
	for v := range set {
		vals = append(vals, v)
	}
	sort.Ints(vals)
	return vals, nil
}

// Validate reports whether expr parses; nil means valid.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}
