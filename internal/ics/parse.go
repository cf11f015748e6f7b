package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "apptgrid/internal/log"
	"apptgrid/internal/model"
)

const propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")

// Entry is a VEVENT reduced to what recurrence expansion and layout need.
type Entry struct {
	Feed Feed

	UID      string
	Sequence int

	Summary     string
	Description string
	Location    string
	Status      model.Status

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule   string
	ExDates []time.Time
	// RecurrenceID is set when this VEVENT replaces one instance of a
	// recurring series.
	RecurrenceID *time.Time
}

// Override reports whether e replaces a single instance of a series.
func (e Entry) Override() bool {
	return e.RecurrenceID != nil
}

// Parse decodes an ICS payload. VEVENTs that cannot be interpreted are logged
// and skipped; only an unreadable calendar is an error.
func Parse(feed Feed, body []byte) ([]Entry, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0)
	for _, ve := range cal.Events() {
		e, err := parseEvent(feed, ve)
		if err != nil {
			appLog.Warn("skipping vevent", "feed", feed.ID, "reason", err.Error())
			continue
		}
		entries = append(entries, e)
	}

	appLog.Debug("feed parsed", "feed", feed.ID, "entries", len(entries))
	return entries, nil
}

func parseEvent(feed Feed, ve *ical.VEvent) (Entry, error) {
	e := Entry{Feed: feed, Status: model.StatusConfirmed}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return e, errors.New("missing UID")
	}
	e.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			e.Sequence = n
		}
	}
	e.Summary = propValue(ve, ical.ComponentPropertySummary)
	e.Description = propValue(ve, ical.ComponentPropertyDescription)
	e.Location = propValue(ve, ical.ComponentPropertyLocation)
	e.Status = statusFromICS(propValue(ve, ical.ComponentPropertyStatus))

	start, err := ve.GetStartAt()
	if err != nil {
		return e, err
	}
	e.Start = start

	if dt := ve.GetProperty(ical.ComponentPropertyDtStart); dt != nil {
		if v, ok := dt.ICalParameters["VALUE"]; ok && len(v) > 0 && strings.EqualFold(v[0], "DATE") {
			e.AllDay = true
		}
		if !strings.Contains(dt.Value, "T") {
			e.AllDay = true
		}
	}

	end, err := ve.GetEndAt()
	switch {
	case err == nil:
		e.End = end
	case e.AllDay:
		e.End = e.Start.AddDate(0, 0, 1)
	default:
		// No DTEND: a point in time.
		e.End = e.Start
	}

	e.RRule = propValue(ve, ical.ComponentPropertyRrule)

	// Floating EXDATE / RECURRENCE-ID values belong to the series' zone.
	zone := e.Start.Location()
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := stampLocation(p.ICalParameters, zone)
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseStamp(part, loc); err == nil {
				e.ExDates = append(e.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(propRecurrenceID); p != nil {
		if t, err := parseStamp(p.Value, stampLocation(p.ICalParameters, zone)); err == nil {
			e.RecurrenceID = &t
		}
	}

	return e, nil
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return p.Value
	}
	return ""
}

// statusFromICS maps VEVENT STATUS to appointment status. Absent means the
// organiser considers it booked.
func statusFromICS(v string) model.Status {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "CANCELLED":
		return model.StatusCancelled
	case "TENTATIVE":
		return model.StatusPending
	default:
		return model.StatusConfirmed
	}
}

// stampLocation resolves a TZID parameter, falling back to def when it is
// absent or unknown.
func stampLocation(params map[string][]string, def *time.Location) *time.Location {
	tz, ok := params["TZID"]
	if !ok || len(tz) == 0 || tz[0] == "" {
		return def
	}
	loc, err := time.LoadLocation(strings.Trim(tz[0], `"`))
	if err != nil {
		appLog.Warn("unknown TZID; using series zone", "tzid", tz[0])
		return def
	}
	return loc
}

// parseStamp reads the DATE / DATE-TIME forms used by EXDATE and
// RECURRENCE-ID: 20250101T090000Z (UTC), 20250101T090000 and 20250101,
// the last two read in loc.
func parseStamp(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
