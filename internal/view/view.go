// Package view computes which calendar days a day/week/month grid shows and
// how navigation moves between grids.
package view

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Mode string

const (
	ModeDay   Mode = "day"
	ModeWeek  Mode = "week"
	ModeMonth Mode = "month"
)

// monthGridDays is six full weeks, enough for any month regardless of the
// weekday it starts on.
const monthGridDays = 42

var ErrUnknownMode = errors.New("view: unknown mode")

// ParseMode accepts day, week or month, case-insensitively. Empty means week.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeWeek:
		return ModeWeek, nil
	case ModeDay:
		return ModeDay, nil
	case ModeMonth:
		return ModeMonth, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownMode, s)
	}
}

// ParseWeekStart maps the config week_start value to a weekday.
// Anything other than "sunday" is Monday.
func ParseWeekStart(s string) time.Weekday {
	if strings.EqualFold(strings.TrimSpace(s), "sunday") {
		return time.Sunday
	}
	return time.Monday
}

// Days returns the midnights (in anchor's location) shown by a grid of the
// given mode that contains anchor.
func Days(anchor time.Time, mode Mode, weekStart time.Weekday) []time.Time {
	d := midnight(anchor)
	switch mode {
	case ModeDay:
		return []time.Time{d}
	case ModeMonth:
		first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, d.Location())
		return run(startOfWeek(first, weekStart), monthGridDays)
	default:
		return run(startOfWeek(d, weekStart), 7)
	}
}

// Window returns the half-open range [first day 00:00, day after last 00:00)
// covering days. It returns zero times for an empty slice.
func Window(days []time.Time) (time.Time, time.Time) {
	if len(days) == 0 {
		return time.Time{}, time.Time{}
	}
	return days[0], days[len(days)-1].AddDate(0, 0, 1)
}

// Step moves anchor by n grids of the given mode; negative n goes back.
func Step(anchor time.Time, mode Mode, n int) time.Time {
	switch mode {
	case ModeDay:
		return anchor.AddDate(0, 0, n)
	case ModeMonth:
		// Pin to the 1st so Jan 31 + 1 month lands in February.
		first := time.Date(anchor.Year(), anchor.Month(), 1, anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), anchor.Location())
		return first.AddDate(0, n, 0)
	default:
		return anchor.AddDate(0, 0, 7*n)
	}
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func startOfWeek(d time.Time, weekStart time.Weekday) time.Time {
	offset := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

func run(from time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = from.AddDate(0, 0, i)
	}
	return out
}
