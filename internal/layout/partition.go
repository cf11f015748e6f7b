package layout

import (
	"sort"
	"time"
)

// Day is the set of events whose Start falls on Date (midnight in the
// partition's location).
type Day struct {
	Date   time.Time
	Events []Event
}

// DayLayout is the layout result for one Day.
type DayLayout struct {
	Date   time.Time
	Events []Event
	Slots  map[string]Slot
}

// StartOfDay returns midnight of t's calendar date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// PartitionByDay groups events by the calendar date of their Start in loc.
// An event that runs past midnight stays in the day it starts on.
// Days are returned in ascending order; events keep their input order.
func PartitionByDay(events []Event, loc *time.Location) []Day {
	byDate := make(map[time.Time]*Day)
	for _, e := range events {
		d := StartOfDay(e.Start, loc)
		day, ok := byDate[d]
		if !ok {
			day = &Day{Date: d}
			byDate[d] = day
		}
		day.Events = append(day.Events, e)
	}

	out := make([]Day, 0, len(byDate))
	for _, d := range byDate {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// LayoutDays partitions events by day and lays out each day independently.
func LayoutDays(events []Event, loc *time.Location, opts Options) []DayLayout {
	days := PartitionByDay(events, loc)
	out := make([]DayLayout, 0, len(days))
	for _, d := range days {
		out = append(out, DayLayout{
			Date:   d.Date,
			Events: d.Events,
			Slots:  LayoutWith(d.Events, opts),
		})
	}
	return out
}
