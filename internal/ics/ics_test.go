package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apptgrid/internal/model"
)

const clinicICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//apptgrid//test//EN
BEGIN:VEVENT
UID:series
DTSTAMP:20250301T000000Z
DTSTART:20250303T090000Z
DTEND:20250303T093000Z
SUMMARY:Weekly control
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE:20250310T090000Z
END:VEVENT
BEGIN:VEVENT
UID:series
DTSTAMP:20250301T000000Z
RECURRENCE-ID:20250317T090000Z
DTSTART:20250317T100000Z
DTEND:20250317T110000Z
SUMMARY:Weekly control (moved)
END:VEVENT
BEGIN:VEVENT
UID:single
DTSTAMP:20250301T000000Z
DTSTART:20250305T140000Z
DTEND:20250305T150000Z
SUMMARY:Ecografia
STATUS:CANCELLED
END:VEVENT
BEGIN:VEVENT
DTSTAMP:20250301T000000Z
DTSTART:20250306T140000Z
SUMMARY:no uid
END:VEVENT
END:VCALENDAR
`

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func march() Window {
	return Window{
		Start:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		Location: time.UTC,
	}
}

func TestParse(t *testing.T) {
	entries, err := Parse(Feed{ID: "dr-rivera"}, crlf(clinicICS))
	require.NoError(t, err)
	require.Len(t, entries, 3, "entry without UID is skipped")

	assert.Equal(t, "series", entries[0].UID)
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", entries[0].RRule)
	require.Len(t, entries[0].ExDates, 1)
	assert.True(t, entries[1].Override())
	assert.Equal(t, model.StatusCancelled, entries[2].Status)
	assert.Equal(t, "dr-rivera", entries[2].Feed.ID)
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse(Feed{}, nil)
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	entries, err := Parse(Feed{ID: "dr-rivera"}, crlf(clinicICS))
	require.NoError(t, err)

	exp, err := Expand(entries, march())
	require.NoError(t, err)
	require.Len(t, exp.Appointments, 4)

	got := make(map[string]model.Appointment)
	for _, a := range exp.Appointments {
		got[a.ID] = a
	}

	first := got["dr-rivera/series@2025-03-03T09:00:00Z"]
	assert.Equal(t, 30*time.Minute, first.Duration())
	assert.Equal(t, "dr-rivera", first.SourceID)

	_, excluded := got["dr-rivera/series@2025-03-10T09:00:00Z"]
	assert.False(t, excluded)

	moved := got["dr-rivera/series@2025-03-17T09:00:00Z"]
	assert.Equal(t, 10, moved.Start.Hour())
	assert.Equal(t, "Weekly control (moved)", moved.Summary)

	_, ok := got["dr-rivera/series@2025-03-24T09:00:00Z"]
	assert.True(t, ok)

	assert.Equal(t, model.StatusCancelled, got["dr-rivera/single@2025-03-05T14:00:00Z"].Status)
	assert.Empty(t, exp.Truncated)
}

func TestExpandCapAndWindow(t *testing.T) {
	entries, err := Parse(Feed{ID: "x"}, crlf(clinicICS))
	require.NoError(t, err)

	w := march()
	w.MaxPerSeries = 1
	exp, err := Expand(entries, w)
	require.NoError(t, err)
	assert.Equal(t, []string{"series"}, exp.Truncated)

	bad := march()
	bad.End = bad.Start.Add(-time.Hour)
	_, err = Expand(entries, bad)
	assert.Error(t, err)
}

func TestExpandSkipsOutsideWindow(t *testing.T) {
	entries, err := Parse(Feed{ID: "x"}, crlf(clinicICS))
	require.NoError(t, err)

	w := Window{
		Start:    time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2025, 3, 30, 0, 0, 0, 0, time.UTC),
		Location: time.UTC,
	}
	exp, err := Expand(entries, w)
	require.NoError(t, err)
	require.Len(t, exp.Appointments, 1)
	assert.Equal(t, "x/series@2025-03-24T09:00:00Z", exp.Appointments[0].ID)
}

const bogotaICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//apptgrid//test//EN
BEGIN:VEVENT
UID:control
DTSTAMP:20250301T000000Z
DTSTART;TZID=America/Bogota:20250310T090000
DTEND;TZID=America/Bogota:20250310T093000
SUMMARY:Control
RRULE:FREQ=DAILY;COUNT=3
EXDATE;TZID=America/Bogota:20250311T090000
END:VEVENT
BEGIN:VEVENT
UID:control
DTSTAMP:20250301T000000Z
RECURRENCE-ID;TZID=America/Bogota:20250312T090000
DTSTART;TZID=America/Bogota:20250312T150000
DTEND;TZID=America/Bogota:20250312T153000
SUMMARY:Control (tarde)
END:VEVENT
END:VCALENDAR
`

func TestExpandHonoursTZIDOnExceptions(t *testing.T) {
	bogota, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	entries, err := Parse(Feed{ID: "clinic"}, crlf(bogotaICS))
	require.NoError(t, err)

	exp, err := Expand(entries, Window{
		Start:    time.Date(2025, 3, 1, 0, 0, 0, 0, bogota),
		End:      time.Date(2025, 4, 1, 0, 0, 0, 0, bogota),
		Location: bogota,
	})
	require.NoError(t, err)
	require.Len(t, exp.Appointments, 2, "11 March is excluded")

	got := make(map[string]model.Appointment)
	for _, a := range exp.Appointments {
		got[a.ID] = a
	}
	first, ok := got["clinic/control@2025-03-10T09:00:00-05:00"]
	require.True(t, ok)
	assert.Equal(t, 9, first.Start.Hour())

	moved, ok := got["clinic/control@2025-03-12T09:00:00-05:00"]
	require.True(t, ok)
	assert.Equal(t, 15, moved.Start.Hour())
	assert.Equal(t, "Control (tarde)", moved.Summary)
}

func TestStampLocation(t *testing.T) {
	bogota, err := time.LoadLocation("America/Bogota")
	require.NoError(t, err)

	assert.Equal(t, "America/Bogota", stampLocation(map[string][]string{"TZID": {"America/Bogota"}}, time.UTC).String())
	assert.Equal(t, time.UTC, stampLocation(nil, time.UTC))
	assert.Equal(t, time.UTC, stampLocation(map[string][]string{"TZID": {"Mars/Olympus"}}, time.UTC))

	ts, err := parseStamp("20250311T090000", bogota)
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC)))
}

func TestExpandKeepsSameUIDFromTwoFeedsApart(t *testing.T) {
	a, err := Parse(Feed{ID: "dr-a"}, crlf(clinicICS))
	require.NoError(t, err)
	b, err := Parse(Feed{ID: "dr-b"}, crlf(clinicICS))
	require.NoError(t, err)

	exp, err := Expand(append(a, b...), march())
	require.NoError(t, err)
	require.Len(t, exp.Appointments, 8)

	ids := make(map[string]string)
	for _, appt := range exp.Appointments {
		_, dup := ids[appt.ID]
		assert.False(t, dup, appt.ID)
		ids[appt.ID] = appt.SourceID
	}
	assert.Equal(t, "dr-a", ids["dr-a/series@2025-03-03T09:00:00Z"])
	assert.Equal(t, "dr-b", ids["dr-b/series@2025-03-03T09:00:00Z"])
}

func TestFetchUsesConditionalCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(crlf(clinicICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	feed := Feed{ID: "dr-rivera", URL: srv.URL + "/private/token.ics"}

	first, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchFallsBackOnServerError(t *testing.T) {
	fail := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write(crlf(clinicICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	feed := Feed{ID: "a", URL: srv.URL + "/a.ics"}

	_, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)

	fail.Store(true)
	p, err := f.Fetch(context.Background(), feed)
	require.NoError(t, err)
	assert.True(t, p.FromCache)

	_, err = f.Fetch(context.Background(), Feed{ID: "b", URL: srv.URL + "/b.ics"})
	assert.Error(t, err, "no cached body to fall back to")
}

func TestFetchAllJoinsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.ics") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(crlf(clinicICS))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	payloads, err := f.FetchAll(context.Background(), []Feed{
		{ID: "ok", URL: srv.URL + "/ok.ics"},
		{ID: "gone", URL: srv.URL + "/missing.ics"},
		{ID: "blank"},
	})
	require.Len(t, payloads, 1)
	assert.Equal(t, "ok", payloads[0].Feed.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed gone")
	assert.Contains(t, err.Error(), "feed blank")
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://cal.example.com/...(redacted)", redactURL("https://cal.example.com/secret/basic.ics?token=x"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
