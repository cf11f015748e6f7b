package layout

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func at(hhmm string) time.Time {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		panic(err)
	}
	return day.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
}

func ev(id, start, end string) Event {
	return Event{ID: id, Start: at(start), End: at(end)}
}

func TestLayoutScenarios(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		want   map[string]Slot
	}{
		{
			name:   "empty",
			events: nil,
			want:   map[string]Slot{},
		},
		{
			name:   "single",
			events: []Event{ev("A", "09:00", "10:00")},
			want:   map[string]Slot{"A": {0, 1}},
		},
		{
			name:   "two overlapping",
			events: []Event{ev("B", "09:30", "10:30"), ev("A", "09:00", "10:00")},
			want:   map[string]Slot{"A": {0, 2}, "B": {1, 2}},
		},
		{
			name:   "touching",
			events: []Event{ev("A", "09:00", "10:00"), ev("B", "10:00", "11:00")},
			want:   map[string]Slot{"A": {0, 1}, "B": {0, 1}},
		},
		{
			name: "three mutually overlapping",
			events: []Event{
				ev("C", "10:00", "10:45"),
				ev("A", "09:00", "11:00"),
				ev("B", "09:30", "10:30"),
			},
			want: map[string]Slot{"A": {0, 3}, "B": {1, 3}, "C": {2, 3}},
		},
		{
			name: "chain is not transitive",
			events: []Event{
				ev("A", "09:00", "10:00"),
				ev("B", "09:30", "10:30"),
				ev("C", "10:15", "11:00"),
			},
			want: map[string]Slot{"A": {0, 2}, "B": {1, 3}, "C": {0, 2}},
		},
		{
			name: "same start tie-breaks on id",
			events: []Event{
				ev("zeta", "09:00", "10:00"),
				ev("alpha", "09:00", "10:00"),
			},
			want: map[string]Slot{"alpha": {0, 2}, "zeta": {1, 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Layout(tt.events)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLayoutDoesNotMutateInput(t *testing.T) {
	in := []Event{ev("B", "09:30", "10:30"), ev("A", "09:00", "10:00")}
	Layout(in)
	assert.Equal(t, "B", in[0].ID)
	assert.Equal(t, "A", in[1].ID)
}

func TestLayoutReusesFreedColumn(t *testing.T) {
	// A and B are both earlier than C, but only B overlaps C, so C can take
	// A's column instead of colliding with B.
	events := []Event{
		ev("A", "09:00", "09:40"),
		ev("B", "09:30", "11:00"),
		ev("C", "09:50", "10:00"),
	}
	got := Layout(events)
	assert.Equal(t, Slot{0, 2}, got["A"])
	assert.Equal(t, Slot{1, 3}, got["B"])
	assert.Equal(t, Slot{0, 2}, got["C"])
}

func TestLayoutDegenerateEvents(t *testing.T) {
	events := []Event{
		ev("long", "09:00", "11:00"),
		ev("point", "10:00", "10:00"),
		ev("negative", "10:30", "10:15"),
		ev("edge", "11:00", "11:00"),
	}
	got := Layout(events)

	assert.Equal(t, Slot{0, 3}, got["long"])
	assert.Equal(t, Slot{1, 2}, got["point"])
	assert.Equal(t, Slot{1, 2}, got["negative"])
	// A point at another event's End is outside the half-open interval.
	assert.Equal(t, Slot{0, 1}, got["edge"])
}

func TestOverlaps(t *testing.T) {
	assert.True(t, Overlaps(ev("a", "09:00", "10:00"), ev("b", "09:59", "10:30")))
	assert.False(t, Overlaps(ev("a", "09:00", "10:00"), ev("b", "10:00", "10:30")))
	assert.True(t, Overlaps(ev("p", "09:00", "09:00"), ev("q", "09:00", "09:00")))
	assert.False(t, Overlaps(ev("p", "09:00", "09:00"), ev("q", "09:01", "09:01")))
	assert.True(t, Overlaps(ev("p", "09:00", "09:00"), ev("b", "09:00", "10:00")))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate([]Event{ev("a", "09:00", "10:00"), ev("b", "09:00", "10:00")}))
	assert.ErrorIs(t, Validate([]Event{ev("a", "09:00", "10:00"), ev("a", "11:00", "12:00")}), ErrDuplicateID)
	assert.ErrorIs(t, Validate([]Event{ev("", "09:00", "10:00")}), ErrEmptyID)
}

func TestLayoutClusterWidth(t *testing.T) {
	events := []Event{
		ev("A", "09:00", "10:00"),
		ev("B", "09:30", "10:30"),
		ev("C", "10:15", "11:00"),
		ev("D", "13:00", "14:00"),
	}
	got := LayoutWith(events, Options{Width: WidthCluster})
	assert.Equal(t, Slot{0, 2}, got["A"])
	assert.Equal(t, Slot{1, 2}, got["B"])
	assert.Equal(t, Slot{0, 2}, got["C"])
	assert.Equal(t, Slot{0, 1}, got["D"])
}

func TestParseWidthMode(t *testing.T) {
	m, ok := ParseWidthMode("cluster")
	assert.True(t, ok)
	assert.Equal(t, WidthCluster, m)
	assert.Equal(t, "cluster", m.String())

	m, ok = ParseWidthMode("")
	assert.True(t, ok)
	assert.Equal(t, WidthOverlapSet, m)

	_, ok = ParseWidthMode("widest")
	assert.False(t, ok)
}

// randomEvents builds n events on a 15-minute grid across the working day,
// with a sprinkling of zero-length entries.
func randomEvents(rnd *rand.Rand, n int) []Event {
	out := make([]Event, n)
	for i := range out {
		start := day.Add(8*time.Hour + time.Duration(rnd.Intn(40))*15*time.Minute)
		dur := time.Duration(rnd.Intn(9)) * 15 * time.Minute
		out[i] = Event{ID: fmt.Sprintf("e%03d", i), Start: start, End: start.Add(dur)}
	}
	return out
}

func TestLayoutInvariants(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for _, mode := range []WidthMode{WidthOverlapSet, WidthCluster} {
		for round := 0; round < 200; round++ {
			events := randomEvents(rnd, 1+rnd.Intn(25))
			got := LayoutWith(events, Options{Width: mode})
			require.Len(t, got, len(events))

			for _, e := range events {
				s := got[e.ID]
				assert.GreaterOrEqual(t, s.Column, 0)
				assert.Less(t, s.Column, s.Columns, "column bound for %s", e.ID)
			}

			for i := range events {
				for j := i + 1; j < len(events); j++ {
					if Overlaps(events[i], events[j]) {
						assert.NotEqual(t, got[events[i].ID].Column, got[events[j].ID].Column,
							"%s and %s overlap but share a column", events[i].ID, events[j].ID)
					}
				}
			}

			if mode == WidthOverlapSet {
				for _, e := range events {
					size := 0
					for _, o := range events {
						if o.ID == e.ID || Overlaps(e, o) {
							size++
						}
					}
					assert.Equal(t, size, got[e.ID].Columns, "overlap set size of %s", e.ID)
				}
			}
		}
	}
}

func TestLayoutDeterministicUnderShuffle(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		events := randomEvents(rnd, 20)
		want := Layout(events)

		shuffled := make([]Event, len(events))
		copy(shuffled, events)
		rnd.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		assert.Equal(t, want, Layout(shuffled))
	}
}

func TestLayoutNoOverlapsAllSingleColumn(t *testing.T) {
	var events []Event
	for h := 8; h < 18; h++ {
		start := day.Add(time.Duration(h) * time.Hour)
		events = append(events, Event{ID: fmt.Sprint(h), Start: start, End: start.Add(time.Hour)})
	}
	for id, s := range Layout(events) {
		assert.Equal(t, Slot{0, 1}, s, id)
	}
}
