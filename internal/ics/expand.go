package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "apptgrid/internal/log"
	"apptgrid/internal/model"
)

const defaultMaxPerSeries = 5000

// Window bounds an expansion.
type Window struct {
	Start time.Time
	End   time.Time

	// Location is the display timezone occurrences are converted to.
	// Nil means time.Local.
	Location *time.Location

	// MaxPerSeries caps the occurrences produced for one recurring UID.
	// Zero means 5000.
	MaxPerSeries int
}

// seriesKey identifies a series: the same UID in two feeds is two series.
type seriesKey struct {
	feed string
	uid  string
}

// Expansion is the outcome of Expand.
type Expansion struct {
	Appointments []model.Appointment
	// Truncated lists UIDs whose series hit MaxPerSeries.
	Truncated []string
}

// Expand turns parsed entries into concrete appointments intersecting w.
// Recurring series are expanded with RRULE and EXDATE; RECURRENCE-ID
// overrides replace the instance they point at. Each occurrence gets the ID
// "<feed>/<uid>@<RFC3339 start>" ("<uid>@..." when the feed has no ID),
// which is stable across refreshes and unique across feeds.
func Expand(entries []Entry, w Window) (Expansion, error) {
	var out Expansion
	if w.End.Before(w.Start) {
		return out, errors.New("ics: window end is before start")
	}
	if w.Location == nil {
		w.Location = time.Local
	}
	if w.MaxPerSeries <= 0 {
		w.MaxPerSeries = defaultMaxPerSeries
	}

	masters := make(map[seriesKey][]Entry)
	overrides := make(map[seriesKey][]Entry)
	var keys []seriesKey
	for _, e := range entries {
		k := seriesKey{feed: e.Feed.ID, uid: e.UID}
		if e.Override() {
			overrides[k] = append(overrides[k], e)
			continue
		}
		if _, seen := masters[k]; !seen {
			keys = append(keys, k)
		}
		masters[k] = append(masters[k], e)
	}
	// Map iteration order is random; keep output stable.
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].feed != keys[j].feed {
			return keys[i].feed < keys[j].feed
		}
		return keys[i].uid < keys[j].uid
	})

	for _, k := range keys {
		truncated := false
		for _, m := range masters[k] {
			appts, hit := expandEntry(m, overrides[k], w)
			out.Appointments = append(out.Appointments, appts...)
			truncated = truncated || hit
		}
		if truncated {
			out.Truncated = append(out.Truncated, k.uid)
			appLog.Warn("recurring series truncated", "feed", k.feed, "uid", k.uid, "cap", w.MaxPerSeries)
		}
	}
	return out, nil
}

func expandEntry(e Entry, overrides []Entry, w Window) ([]model.Appointment, bool) {
	if e.RRule == "" {
		if !intersects(e.Start, e.End, w.Start, w.End) {
			return nil, false
		}
		inst := e
		if o, ok := overrideFor(overrides, e.Start); ok {
			inst = o
		}
		return []model.Appointment{toAppointment(inst, e.Start, w.Location)}, false
	}

	rule, err := rrule.StrToRRule(e.RRule)
	if err != nil {
		appLog.Error("invalid RRULE", err, "uid", e.UID, "rrule", e.RRule)
		return nil, false
	}
	rule.DTStart(e.Start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range e.ExDates {
		set.ExDate(ex.In(e.Start.Location()))
	}

	// Occurrences that started before the window but still run into it count
	// too, so widen the lower bound by the series' duration.
	dur := e.End.Sub(e.Start)
	from := w.Start.Add(-dur).In(e.Start.Location())
	to := w.End.In(e.Start.Location())
	starts := set.Between(from, to, true)

	hit := false
	if len(starts) > w.MaxPerSeries {
		starts = starts[:w.MaxPerSeries]
		hit = true
	}

	out := make([]model.Appointment, 0, len(starts))
	for _, s := range starts {
		inst := e
		inst.Start = s
		inst.End = s.Add(dur)
		if e.AllDay {
			inst.Start = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
			inst.End = inst.Start.AddDate(0, 0, 1)
		}
		if o, ok := overrideFor(overrides, s); ok {
			inst = o
		}
		if !intersects(inst.Start, inst.End, w.Start, w.End) {
			continue
		}
		out = append(out, toAppointment(inst, s, w.Location))
	}
	return out, hit
}

// overrideFor finds the override whose RECURRENCE-ID equals the instance
// start.
func overrideFor(overrides []Entry, start time.Time) (Entry, bool) {
	for _, o := range overrides {
		if o.RecurrenceID != nil && o.RecurrenceID.Equal(start) {
			return o, true
		}
	}
	return Entry{}, false
}

// toAppointment converts an instance; key is the original series start used
// for the ID so a moved override keeps its identity.
func toAppointment(e Entry, key time.Time, loc *time.Location) model.Appointment {
	summary := e.Summary
	if summary == "" {
		summary = e.Location
	}
	id := e.UID + "@" + key.In(loc).Format(time.RFC3339)
	if e.Feed.ID != "" {
		id = e.Feed.ID + "/" + id
	}
	return model.Appointment{
		ID:       id,
		SourceID: e.Feed.ID,
		Summary:  summary,
		Notes:    e.Description,
		Status:   e.Status,
		AllDay:   e.AllDay,
		Start:    e.Start.In(loc),
		End:      e.End.In(loc),
	}
}

// intersects treats [aStart, aEnd) and [bStart, bEnd) as half-open; a point
// event (aEnd <= aStart) intersects when it lies inside b.
func intersects(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !aEnd.After(aStart) {
		return !aStart.Before(bStart) && aStart.Before(bEnd)
	}
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
