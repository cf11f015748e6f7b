// Package render draws an agenda grid as a standalone SVG document.
package render

import (
	"bufio"
	"fmt"
	"html"
	"io"

	"apptgrid/internal/agenda"
	"apptgrid/internal/model"
	"apptgrid/internal/view"
)

// Options controls the drawing. Zero fields take the defaults below.
type Options struct {
	// HourHeight must match the geometry the grid's boxes were placed with.
	HourHeight   float64
	ColumnWidth  float64
	HeaderHeight float64
	AxisWidth    float64
	// FirstHour and LastHour crop the visible part of the day, [First, Last).
	FirstHour int
	LastHour  int
	Font      string
}

func (o Options) withDefaults() Options {
	if o.HourHeight <= 0 {
		o.HourHeight = 60
	}
	if o.ColumnWidth <= 0 {
		o.ColumnWidth = 160
	}
	if o.HeaderHeight <= 0 {
		o.HeaderHeight = 40
	}
	if o.AxisWidth <= 0 {
		o.AxisWidth = 56
	}
	if o.LastHour <= 0 || o.LastHour > 24 {
		o.LastHour = 24
	}
	if o.FirstHour < 0 || o.FirstHour >= o.LastHour {
		o.FirstHour = 0
	}
	if o.Font == "" {
		o.Font = "Helvetica, Arial, sans-serif"
	}
	return o
}

type palette struct{ fill, stroke, text string }

// Status colours follow the front desk's badge colours.
var palettes = map[model.Status]palette{
	model.StatusPending:        {"#fffbeb", "#fbbf24", "#b45309"},
	model.StatusConfirmed:      {"#ecfdf5", "#34d399", "#047857"},
	model.StatusInConsultation: {"#ecfeff", "#22d3ee", "#0e7490"},
	model.StatusCompleted:      {"#f8fafc", "#cbd5e1", "#64748b"},
	model.StatusCancelled:      {"#fff1f2", "#fb7185", "#be123c"},
}

var defaultPalette = palette{"#f8fafc", "#e2e8f0", "#475569"}

var weekdayLabels = [...]string{"Dom", "Lun", "Mar", "Mié", "Jue", "Vie", "Sáb"}

// SVG writes grid as SVG. The root element carries data-ready="true" so a
// headless browser can tell when the drawing is complete.
func SVG(w io.Writer, grid agenda.Grid, opts Options) error {
	o := opts.withDefaults()
	bw := bufio.NewWriter(w)

	hours := o.LastHour - o.FirstHour
	bodyHeight := float64(hours) * o.HourHeight
	width := o.AxisWidth + float64(len(grid.Columns))*o.ColumnWidth
	height := o.HeaderHeight + bodyHeight
	offset := float64(o.FirstHour) * o.HourHeight

	fmt.Fprintf(bw, `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f" viewBox="0 0 %.0f %.0f" data-ready="true" data-view="%s">
<style>
text { font-family: %s; }
.hdr { font-size: 13px; font-weight: bold; fill: #0f172a; }
.hr { font-size: 10px; fill: #94a3b8; }
.appt { font-size: 11px; }
.cancelled { text-decoration: line-through; opacity: 0.6; }
</style>
<title>%s</title>
<rect width="100%%" height="100%%" fill="#ffffff"/>
`, width, height, width, height, html.EscapeString(string(grid.Mode)), html.EscapeString(o.Font), html.EscapeString(Label(grid)))

	for h := 0; h <= hours; h++ {
		y := o.HeaderHeight + float64(h)*o.HourHeight
		fmt.Fprintf(bw, `<line x1="%.0f" y1="%.1f" x2="%.0f" y2="%.1f" stroke="#e2e8f0"/>`+"\n", o.AxisWidth, y, width, y)
		if h < hours {
			fmt.Fprintf(bw, `<text class="hr" x="%.0f" y="%.1f" text-anchor="end">%02d:00</text>`+"\n", o.AxisWidth-6, y+12, o.FirstHour+h)
		}
	}

	for i, col := range grid.Columns {
		x0 := o.AxisWidth + float64(i)*o.ColumnWidth
		fmt.Fprintf(bw, `<line x1="%.1f" y1="0" x2="%.1f" y2="%.0f" stroke="#cbd5e1"/>`+"\n", x0, x0, height)
		fmt.Fprintf(bw, `<text class="hdr" x="%.1f" y="%.0f" text-anchor="middle">%s %d</text>`+"\n",
			x0+o.ColumnWidth/2, o.HeaderHeight-14, weekdayLabels[col.Date.Weekday()], col.Date.Day())

		for _, p := range col.Appointments {
			top := p.Box.Top - offset
			if top+p.Box.Height <= 0 || top >= bodyHeight {
				continue
			}
			drawAppointment(bw, p, x0, o, top)
		}
	}

	bw.WriteString("</svg>\n")
	return bw.Flush()
}

func drawAppointment(w *bufio.Writer, p agenda.Placed, x0 float64, o Options, top float64) {
	pal, ok := palettes[p.Appointment.Status]
	if !ok {
		pal = defaultPalette
	}
	x := x0 + p.Box.Left*o.ColumnWidth/100
	bw := p.Box.Width * o.ColumnWidth / 100
	h := p.Box.Height
	// Crop to the visible hours so nothing spills onto the header band.
	if top < 0 {
		h += top
		top = 0
	}
	if body := float64(o.LastHour-o.FirstHour) * o.HourHeight; top+h > body {
		h = body - top
	}
	y := o.HeaderHeight + top
	if h < 4 {
		h = 4
	}

	class := "appt"
	if p.Appointment.Status == model.StatusCancelled {
		class += " cancelled"
	}

	fmt.Fprintf(w, `<g data-id="%s" data-column="%d" data-columns="%d">`,
		html.EscapeString(p.Appointment.ID), p.Slot.Column, p.Slot.Columns)
	fmt.Fprintf(w, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" rx="3" fill="%s" stroke="%s"/>`,
		x, y, bw, h, pal.fill, pal.stroke)
	fmt.Fprintf(w, `<rect x="%.1f" y="%.1f" width="3" height="%.1f" fill="%s"/>`, x, y, h, pal.stroke)
	if h >= 14 {
		fmt.Fprintf(w, `<text class="%s" x="%.1f" y="%.1f" fill="%s">%s %s</text>`,
			class, x+6, y+12, pal.text,
			p.Appointment.Start.Format("15:04"), html.EscapeString(truncate(p.Appointment.Title(), bw)))
	}
	w.WriteString("</g>\n")
}

// truncate shortens s to roughly fit px at ~6px per glyph.
func truncate(s string, px float64) string {
	n := int((px-40)/6) + 1
	r := []rune(s)
	if n < 1 {
		return ""
	}
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return string(r[:1])
	}
	return string(r[:n-1]) + "…"
}

// Label is a short human title for a grid, e.g. "semana del 10/03/2025".
func Label(grid agenda.Grid) string {
	if len(grid.Columns) == 0 {
		return ""
	}
	first := grid.Columns[0].Date
	switch grid.Mode {
	case view.ModeDay:
		return first.Format("02/01/2006")
	case view.ModeMonth:
		mid := grid.Columns[len(grid.Columns)/2].Date
		return mid.Format("01/2006")
	default:
		return "semana del " + first.Format("02/01/2006")
	}
}
