package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"apptgrid/internal/agenda"
	"apptgrid/internal/config"
	"apptgrid/internal/importer"
	"apptgrid/internal/layout"
	"apptgrid/internal/model"
	"apptgrid/internal/render"
	"apptgrid/internal/view"
)

// slotRow is one line of `apptgrid layout` output.
type slotRow struct {
	Date    string    `json:"date"`
	ID      string    `json:"id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Column  int       `json:"column"`
	Columns int       `json:"columns"`
}

// resolveLocation prefers --tz, then the config timezone.
func resolveLocation(tz string, cfg *config.Config) (*time.Location, error) {
	if tz != "" {
		return time.LoadLocation(tz)
	}
	return cfg.Location()
}

func layoutCmd() *cobra.Command {
	var (
		tz, width string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "layout FILE",
		Short: "Print the column assignment of every appointment in a CSV, JSON or ICS file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := peekConfig()
			if err != nil {
				return err
			}
			loc, err := resolveLocation(tz, cfg)
			if err != nil {
				return err
			}
			if width == "" {
				width = cfg.WidthMode
			}
			mode, ok := layout.ParseWidthMode(width)
			if !ok {
				return fmt.Errorf("unknown --width %q, want overlap or cluster", width)
			}

			appts, err := importer.ReadFile(args[0], loc)
			if err != nil {
				return err
			}
			rows, err := layoutRows(appts, loc, mode)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			return printRows(cmd.OutOrStdout(), rows, loc)
		},
	}
	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone days are cut in (default: config timezone)")
	cmd.Flags().StringVar(&width, "width", "", "Width mode: overlap or cluster (default: config width_mode)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

// layoutRows lays out timed appointments day by day. All-day entries are
// skipped, duplicate ids are an error.
func layoutRows(appts []model.Appointment, loc *time.Location, mode layout.WidthMode) ([]slotRow, error) {
	events := make([]layout.Event, 0, len(appts))
	for _, a := range appts {
		if a.AllDay {
			continue
		}
		events = append(events, a.Event())
	}
	if err := layout.Validate(events); err != nil {
		return nil, err
	}

	rows := make([]slotRow, 0, len(events))
	for _, dl := range layout.LayoutDays(events, loc, layout.Options{Width: mode}) {
		day := make([]slotRow, 0, len(dl.Events))
		for _, e := range dl.Events {
			s := dl.Slots[e.ID]
			day = append(day, slotRow{
				Date:    dl.Date.Format(time.DateOnly),
				ID:      e.ID,
				Start:   e.Start,
				End:     e.End,
				Column:  s.Column,
				Columns: s.Columns,
			})
		}
		sort.SliceStable(day, func(i, j int) bool {
			if !day[i].Start.Equal(day[j].Start) {
				return day[i].Start.Before(day[j].Start)
			}
			return day[i].ID < day[j].ID
		})
		rows = append(rows, day...)
	}
	return rows, nil
}

func printRows(w io.Writer, rows []slotRow, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tID\tSTART\tEND\tCOLUMN")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\n",
			r.Date, r.ID, r.Start.In(loc).Format("15:04"), r.End.In(loc).Format("15:04"), r.Column+1, r.Columns)
	}
	return tw.Flush()
}

func renderCmd() *cobra.Command {
	var (
		tz, date, mode, out string
		firstHour, lastHour int
	)
	cmd := &cobra.Command{
		Use:   "render FILE",
		Short: "Render the appointments in a file as an SVG grid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := peekConfig()
			if err != nil {
				return err
			}
			loc, err := resolveLocation(tz, cfg)
			if err != nil {
				return err
			}
			vm, err := view.ParseMode(mode)
			if err != nil {
				return err
			}
			appts, err := importer.ReadFile(args[0], loc)
			if err != nil {
				return err
			}

			anchor, err := renderAnchor(date, appts, loc)
			if err != nil {
				return err
			}
			width, _ := layout.ParseWidthMode(cfg.WidthMode)
			grid := agenda.Arrange(appts, view.Days(anchor, vm, view.ParseWeekStart(cfg.WeekStart)), agenda.Options{
				Location:      loc,
				Width:         width,
				Geometry:      layout.GeometryOptions{HourHeight: cfg.HourHeight},
				HideCancelled: cfg.HideCancelled,
			})
			grid.Mode = vm
			grid.Anchor = anchor
			grid.GeneratedAt = time.Now()

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return render.SVG(w, grid, render.Options{
				HourHeight: cfg.HourHeight,
				FirstHour:  firstHour,
				LastHour:   lastHour,
			})
		},
	}
	cmd.Flags().StringVar(&tz, "tz", "", "IANA timezone (default: config timezone)")
	cmd.Flags().StringVar(&date, "date", "", "Any date inside the grid, YYYY-MM-DD (default: first appointment)")
	cmd.Flags().StringVar(&mode, "view", "week", "Grid: day, week or month")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().IntVar(&firstHour, "first-hour", 7, "First visible hour")
	cmd.Flags().IntVar(&lastHour, "last-hour", 20, "Hour the drawing ends at")
	return cmd
}

// renderAnchor parses --date, falling back to the earliest appointment and
// then to today.
func renderAnchor(date string, appts []model.Appointment, loc *time.Location) (time.Time, error) {
	if date != "" {
		t, err := time.ParseInLocation(time.DateOnly, date, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --date %q, want YYYY-MM-DD", date)
		}
		return t, nil
	}
	if len(appts) == 0 {
		return time.Now().In(loc), nil
	}
	first := appts[0].Start
	for _, a := range appts[1:] {
		if a.Start.Before(first) {
			first = a.Start
		}
	}
	return first.In(loc), nil
}
