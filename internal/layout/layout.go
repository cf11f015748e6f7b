package layout

import "sort"

// WidthMode selects how Slot.Columns is sized.
type WidthMode int

const (
	// WidthOverlapSet sizes each event by its own overlap set: the number of
	// events it directly overlaps, itself included. Overlap is not transitive,
	// so neighbours in a chain may get different widths.
	WidthOverlapSet WidthMode = iota

	// WidthCluster gives every event in a transitively connected overlap
	// cluster the same Columns: the number of columns the cluster uses.
	WidthCluster
)

// String returns the config/API spelling of the mode.
func (m WidthMode) String() string {
	if m == WidthCluster {
		return "cluster"
	}
	return "overlap"
}

// ParseWidthMode accepts "overlap" (or empty) and "cluster".
func ParseWidthMode(s string) (WidthMode, bool) {
	switch s {
	case "", "overlap":
		return WidthOverlapSet, true
	case "cluster":
		return WidthCluster, true
	default:
		return WidthOverlapSet, false
	}
}

// Options tunes LayoutWith. The zero value matches Layout.
type Options struct {
	Width WidthMode
}

// Layout assigns a Slot to every event, keyed by ID.
//
// Events are ordered by (Start, ID) and each takes the lowest column not held
// by an earlier event it overlaps, so overlapping events never share a column
// and Column < Columns always holds. The result does not depend on input order.
//
// IDs must be unique; with duplicates the later one in (Start, ID) order
// overwrites the earlier entry. Use Validate to reject such input up front.
func Layout(events []Event) map[string]Slot {
	return LayoutWith(events, Options{})
}

// LayoutWith is Layout with explicit options.
func LayoutWith(events []Event, opts Options) map[string]Slot {
	out := make(map[string]Slot, len(events))
	if len(events) == 0 {
		return out
	}

	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return before(sorted[i], sorted[j]) })

	n := len(sorted)
	columns := make([]int, n)
	overlapCount := make([]int, n)

	for i := 0; i < n; i++ {
		overlapCount[i]++ // itself
		taken := make(map[int]bool)
		for j := 0; j < i; j++ {
			if !Overlaps(sorted[i], sorted[j]) {
				continue
			}
			overlapCount[i]++
			overlapCount[j]++
			taken[columns[j]] = true
		}
		col := 0
		for taken[col] {
			col++
		}
		columns[i] = col
	}

	widths := overlapCount
	if opts.Width == WidthCluster {
		widths = clusterWidths(sorted, columns)
	}

	for i, e := range sorted {
		out[e.ID] = Slot{Column: columns[i], Columns: widths[i]}
	}
	return out
}

// clusterWidths returns, per sorted index, the number of columns used by the
// connected overlap component the event belongs to.
func clusterWidths(sorted []Event, columns []int) []int {
	n := len(sorted)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	for i := 0; i < n; i++ {
		for j := 0; j < i; j++ {
			if Overlaps(sorted[i], sorted[j]) {
				ri, rj := find(i), find(j)
				if ri != rj {
					parent[ri] = rj
				}
			}
		}
	}

	maxCol := make(map[int]int)
	for i := 0; i < n; i++ {
		r := find(i)
		if columns[i]+1 > maxCol[r] {
			maxCol[r] = columns[i] + 1
		}
	}

	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = maxCol[find(i)]
	}
	return out
}
