// Package dates holds the calendar helpers shared by ingestion and the marts.
// Every value is a UTC calendar day.
package dates

import (
	"strings"
	"time"

	"github.com/jinzhu/now"
)

var parser = &now.Config{
	TimeLocation: time.UTC,
	TimeFormats: append([]string{
		time.DateOnly,
		"2006-01-02T15:04:05",
		"01/02/2006",
		"1/2/2006",
		"Jan 2, 2006",
		"January 2, 2006",
		"2 Jan 2006",
	}, now.TimeFormats...),
}

// Parse reads a date in any of the common spellings found in incident
// exports and feeds. ok is false for blank or unrecognized input. The time of
// day is dropped.
func Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := parser.Parse(s)
	if err != nil {
		return time.Time{}, false
	}
	return Day(t), true
}

// ParsePtr is Parse returning nil instead of ok=false.
func ParsePtr(s string) *time.Time {
	t, ok := Parse(s)
	if !ok {
		return nil
	}
	return &t
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthStart returns the first day of t's calendar month.
func MonthStart(t time.Time) time.Time {
	return now.With(Day(t)).BeginningOfMonth()
}

// AddMonths shifts a month start by n calendar months.
func AddMonths(monthStart time.Time, n int) time.Time {
	return monthStart.AddDate(0, n, 0)
}

// Months lists the month starts from first through last inclusive.
func Months(first, last time.Time) []time.Time {
	first, last = MonthStart(first), MonthStart(last)
	var out []time.Time
	for m := first; !m.After(last); m = AddMonths(m, 1) {
		out = append(out, m)
	}
	return out
}
