// Package cron parses 5-field POSIX-style cron expressions and computes
// next-run times.
//
// # Format
//
// Exactly five whitespace-separated fields: minute (0-59), hour (0-23),
// day-of-month (1-31), month (1-12), day-of-week (0-6, Sunday = 0). Each
// field supports "*", "n", "a,b,c", "a-b", "a-b/s" and "*/s"; the forms
// compose by union. Named months/days, seconds and year fields are not
// supported.
//
// # Day-of-month and day-of-week
//
// When both day fields are restricted, this package requires BOTH to match
// (logical AND). Many cron implementations switch to OR in that case; this
// one deliberately does not. "0 0 13 * 5" fires only on Friday the 13th.
package cron
