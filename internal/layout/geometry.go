package layout

import "time"

// Rendering defaults for a day column: 60px per hour, events share 95% of the
// column width and are offset by a 1% gutter.
const (
	DefaultHourHeight  = 60.0
	DefaultUsableWidth = 95.0
	DefaultGutter      = 1.0
)

// GeometryOptions controls the pixel/percent mapping done by Place. Zero
// fields take the defaults, so a partial value only overrides what it sets.
type GeometryOptions struct {
	HourHeight  float64 // pixels per hour
	UsableWidth float64 // percent of the column shared by side-by-side events
	// Gutter is the percent left offset of column 0. Negative means none.
	Gutter float64
}

func (o GeometryOptions) withDefaults() GeometryOptions {
	if o.HourHeight <= 0 {
		o.HourHeight = DefaultHourHeight
	}
	if o.UsableWidth <= 0 {
		o.UsableWidth = DefaultUsableWidth
	}
	switch {
	case o.Gutter == 0:
		o.Gutter = DefaultGutter
	case o.Gutter < 0:
		o.Gutter = 0
	}
	return o
}

// DefaultGeometry returns the stock mapping.
func DefaultGeometry() GeometryOptions {
	return GeometryOptions{
		HourHeight:  DefaultHourHeight,
		UsableWidth: DefaultUsableWidth,
		Gutter:      DefaultGutter,
	}
}

// Box is the on-screen rectangle of an event inside its day column.
// Top and Height are pixels; Left and Width are percent of the column.
type Box struct {
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
}

// Place maps an event and its slot to a Box. dayStart is midnight of the
// column's day. Degenerate events get zero height.
func Place(e Event, s Slot, dayStart time.Time, opts GeometryOptions) Box {
	opts = opts.withDefaults()
	columns := s.Columns
	if columns < 1 {
		columns = 1
	}

	perMinute := opts.HourHeight / 60
	top := e.Start.Sub(dayStart).Minutes() * perMinute
	height := 0.0
	if !e.Degenerate() {
		height = e.End.Sub(e.Start).Minutes() * perMinute
	}

	width := opts.UsableWidth / float64(columns)
	return Box{
		Top:    top,
		Height: height,
		Left:   float64(s.Column)*width + opts.Gutter,
		Width:  width,
	}
}
