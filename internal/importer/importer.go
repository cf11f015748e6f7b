// Package importer loads appointments from local CSV, JSON and ICS files.
package importer

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"apptgrid/internal/ics"
	"apptgrid/internal/model"
	"apptgrid/internal/practice"
)

// Accepted timestamp layouts, tried in order. Layouts without an offset are
// read in the caller's location.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// ReadFile dispatches on the extension: .csv, .json or .ics.
func ReadFile(path string, loc *time.Location) ([]model.Appointment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(f, loc)
	case ".json":
		return ReadJSON(f, loc)
	case ".ics", ".ical":
		return readICS(f, filepath.Base(path), loc)
	default:
		return nil, fmt.Errorf("importer: unsupported file type %q", filepath.Ext(path))
	}
}

// ReadCSV reads a headered CSV. Columns are matched case-insensitively:
// start and end are required; id, status, reason, summary, patient and
// doctor are optional. Rows without an id get a random UUID.
func ReadCSV(r io.Reader, loc *time.Location) ([]model.Appointment, error) {
	if loc == nil {
		loc = time.Local
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("importer: read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"start", "end"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("importer: missing %q column", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []model.Appointment
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("importer: line %d: %w", line, err)
		}

		start, err := parseTime(field(rec, "start"), loc)
		if err != nil {
			return nil, fmt.Errorf("importer: line %d: start: %w", line, err)
		}
		end, err := parseTime(field(rec, "end"), loc)
		if err != nil {
			return nil, fmt.Errorf("importer: line %d: end: %w", line, err)
		}
		status, err := model.ParseStatus(field(rec, "status"))
		if err != nil {
			return nil, fmt.Errorf("importer: line %d: %w", line, err)
		}

		id := field(rec, "id")
		if id == "" {
			id = uuid.NewString()
		}
		out = append(out, model.Appointment{
			ID:        id,
			SourceID:  "csv",
			PatientID: field(rec, "patient"),
			DoctorID:  field(rec, "doctor"),
			Summary:   field(rec, "summary"),
			Reason:    field(rec, "reason"),
			Status:    status,
			Start:     start,
			End:       end,
		})
	}
	return out, nil
}

// ReadJSON accepts either a bare array of practice API records or the API's
// {success, data} envelope around one.
func ReadJSON(r io.Reader, loc *time.Location) ([]model.Appointment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var records []practice.Record
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(data, &records)
	} else {
		var env practice.Envelope[[]practice.Record]
		err = json.Unmarshal(data, &env)
		records = env.Data
	}
	if err != nil {
		return nil, fmt.Errorf("importer: decode json: %w", err)
	}

	out := make([]model.Appointment, 0, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		a, err := rec.Appointment(loc)
		if err != nil {
			return nil, fmt.Errorf("importer: record %d: %w", i, err)
		}
		a.SourceID = "json"
		out = append(out, a)
	}
	return out, nil
}

// readICS expands every entry of a calendar file without a window limit
// other than the rrule cap, which bounds open-ended series.
func readICS(r io.Reader, name string, loc *time.Location) ([]model.Appointment, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	feed := ics.Feed{ID: strings.TrimSuffix(name, filepath.Ext(name))}
	entries, err := ics.Parse(feed, body)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	from, to := entries[0].Start, entries[0].End
	for _, e := range entries {
		if e.Start.Before(from) {
			from = e.Start
		}
		if e.End.After(to) {
			to = e.End
		}
	}
	// Recurring series may run past the last DTEND; look one year ahead.
	exp, err := ics.Expand(entries, ics.Window{
		Start:    from,
		End:      to.AddDate(1, 0, 0),
		Location: loc,
	})
	if err != nil {
		return nil, err
	}
	return exp.Appointments, nil
}

func parseTime(v string, loc *time.Location) (time.Time, error) {
	for _, layout := range timeLayouts {
		if layout == time.RFC3339 {
			if t, err := time.Parse(layout, v); err == nil {
				return t.In(loc), nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}
