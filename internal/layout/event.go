// Package layout assigns side-by-side columns to time-bound events that share
// a calendar day column.
//
// Everything here is a pure function of its input: no package state, no I/O,
// safe to call from any number of goroutines.
package layout

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDuplicateID = errors.New("layout: duplicate event id")
	ErrEmptyID     = errors.New("layout: empty event id")
)

// Event is a time-bound entry to be placed in a day column.
//
// ID must be unique within one Layout call. It is only compared, never parsed.
// An Event with End <= Start is treated as a single point at Start.
type Event struct {
	ID    string
	Start time.Time
	End   time.Time
}

// Slot is the horizontal placement of one event: it occupies column Column
// (0-based) out of Columns equal-width columns.
type Slot struct {
	Column  int `json:"column"`
	Columns int `json:"columns"`
}

// Degenerate reports whether e has zero or negative duration.
func (e Event) Degenerate() bool {
	return !e.End.After(e.Start)
}

// Overlaps reports whether a and b strictly intersect. Touching endpoints
// (a.End == b.Start) do not overlap.
//
// A degenerate event is a point p = Start. It overlaps a proper event o when
// o.Start <= p < o.End, and another point only when both share the instant.
func Overlaps(a, b Event) bool {
	ad, bd := a.Degenerate(), b.Degenerate()
	switch {
	case ad && bd:
		return a.Start.Equal(b.Start)
	case ad:
		return containsPoint(b, a.Start)
	case bd:
		return containsPoint(a, b.Start)
	default:
		return a.Start.Before(b.End) && b.Start.Before(a.End)
	}
}

func containsPoint(e Event, p time.Time) bool {
	return !p.Before(e.Start) && p.Before(e.End)
}

// before is the total order used for column assignment: Start ascending,
// then ID ascending.
func before(a, b Event) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.ID < b.ID
}

// Validate checks the preconditions Layout relies on but does not enforce:
// every ID is non-empty and unique.
func Validate(events []Event) error {
	seen := make(map[string]struct{}, len(events))
	for i, e := range events {
		if e.ID == "" {
			return fmt.Errorf("%w at index %d", ErrEmptyID, i)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w %q", ErrDuplicateID, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}
