// Package agenda gathers appointments from the configured sources and lays
// them out into calendar grids.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"apptgrid/internal/ics"
	"apptgrid/internal/layout"
	appLog "apptgrid/internal/log"
	"apptgrid/internal/model"
	"apptgrid/internal/view"
)

// Source yields the appointments that start inside [start, end).
type Source interface {
	Name() string
	Appointments(ctx context.Context, start, end time.Time) ([]model.Appointment, error)
}

// Placed is one appointment with its slot and on-screen box.
type Placed struct {
	Appointment model.Appointment `json:"appointment"`
	Slot        layout.Slot       `json:"slot"`
	Box         layout.Box        `json:"box"`
}

// Column is one day of a grid.
type Column struct {
	Date         time.Time `json:"date"`
	Appointments []Placed  `json:"appointments"`
}

// Grid is a computed calendar view.
type Grid struct {
	Mode        view.Mode `json:"view"`
	Anchor      time.Time `json:"anchor"`
	Start       time.Time `json:"range_start"`
	End         time.Time `json:"range_end"`
	Timezone    string    `json:"timezone"`
	Width       string    `json:"width_mode"`
	Columns     []Column  `json:"days"`
	Partial     bool      `json:"partial"` // at least one source failed
	GeneratedAt time.Time `json:"generated_at"`
}

// Options configures a Service.
type Options struct {
	Location      *time.Location
	WeekStart     time.Weekday
	Width         layout.WidthMode
	Geometry      layout.GeometryOptions
	HideCancelled bool
	CacheTTL      time.Duration
}

type cacheKey struct {
	mode view.Mode
	day  string
}

type cacheEntry struct {
	grid      Grid
	updatedAt time.Time
}

// Service builds grids. It is safe for concurrent use.
type Service struct {
	sources []Source
	opts    Options
	now     func() time.Time

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry

	cron *cron.Cron
}

func NewService(opts Options, sources ...Source) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	return &Service{
		sources: sources,
		opts:    opts,
		now:     time.Now,
		cache:   make(map[cacheKey]cacheEntry),
	}
}

// Location is the zone grids are cut in.
func (s *Service) Location() *time.Location {
	return s.opts.Location
}

// Grid returns the grid of the given mode containing anchor, from cache when
// fresh. Source failures are logged and mark the grid Partial; Grid only
// fails when every source fails.
func (s *Service) Grid(ctx context.Context, anchor time.Time, mode view.Mode) (Grid, error) {
	anchor = anchor.In(s.opts.Location)
	days := view.Days(anchor, mode, s.opts.WeekStart)
	key := cacheKey{mode: mode, day: days[0].Format(time.DateOnly)}

	s.mu.RLock()
	ce, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && s.now().Sub(ce.updatedAt) < s.opts.CacheTTL {
		ce.grid.Anchor = anchor
		return ce.grid, nil
	}

	grid, err := s.build(ctx, anchor, mode, days)
	if err != nil {
		return Grid{}, err
	}

	if !grid.Partial {
		now := s.now()
		s.mu.Lock()
		s.evictExpiredLocked(now)
		s.cache[key] = cacheEntry{grid: grid, updatedAt: now}
		s.mu.Unlock()
	}
	return grid, nil
}

// evictExpiredLocked drops stale grids. s.mu must be held for writing.
func (s *Service) evictExpiredLocked(now time.Time) {
	for k, ce := range s.cache {
		if now.Sub(ce.updatedAt) >= s.opts.CacheTTL {
			delete(s.cache, k)
		}
	}
}

// Invalidate drops every cached grid.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[cacheKey]cacheEntry)
	s.mu.Unlock()
}

func (s *Service) build(ctx context.Context, anchor time.Time, mode view.Mode, days []time.Time) (Grid, error) {
	start, end := view.Window(days)

	var (
		appts []model.Appointment
		errs  []error
	)
	for _, src := range s.sources {
		got, err := src.Appointments(ctx, start, end)
		if err != nil {
			appLog.Error("agenda source failed", err, "source", src.Name())
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		appts = append(appts, got...)
	}
	if len(s.sources) > 0 && len(errs) == len(s.sources) {
		return Grid{}, errors.Join(errs...)
	}

	grid := Arrange(appts, days, Options{
		Location:      s.opts.Location,
		Width:         s.opts.Width,
		Geometry:      s.opts.Geometry,
		HideCancelled: s.opts.HideCancelled,
	})
	grid.Mode = mode
	grid.Anchor = anchor
	grid.Partial = len(errs) > 0
	grid.GeneratedAt = s.now()

	appLog.Info("grid built",
		"view", string(mode),
		"range_start", start.Format(time.RFC3339),
		"appointments", len(appts),
		"partial", grid.Partial,
	)
	return grid, nil
}

// Arrange lays out appts over the given days without touching any source.
// Appointments whose start falls outside days are dropped; all-day entries
// are dropped too, they have no place in an hour grid.
func Arrange(appts []model.Appointment, days []time.Time, opts Options) Grid {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	byKey := make(map[string]model.Appointment, len(appts))
	events := make([]layout.Event, 0, len(appts))
	for _, a := range appts {
		if a.AllDay || (opts.HideCancelled && a.Status == model.StatusCancelled) {
			continue
		}
		key := layoutKey(a, byKey)
		byKey[key] = a
		ev := a.Event()
		ev.ID = key
		events = append(events, ev)
	}

	perDay := make(map[time.Time]layout.DayLayout)
	for _, dl := range layout.LayoutDays(events, loc, layout.Options{Width: opts.Width}) {
		perDay[dl.Date] = dl
	}

	start, end := view.Window(days)
	grid := Grid{
		Start:    start,
		End:      end,
		Timezone: loc.String(),
		Width:    opts.Width.String(),
		Columns:  make([]Column, 0, len(days)),
	}
	for _, d := range days {
		date := layout.StartOfDay(d, loc)
		col := Column{Date: date, Appointments: []Placed{}}
		if dl, ok := perDay[date]; ok {
			for _, e := range dl.Events {
				slot := dl.Slots[e.ID]
				col.Appointments = append(col.Appointments, Placed{
					Appointment: byKey[e.ID],
					Slot:        slot,
					Box:         layout.Place(e, slot, date, opts.Geometry),
				})
			}
			sort.SliceStable(col.Appointments, func(i, j int) bool {
				a, b := col.Appointments[i].Appointment, col.Appointments[j].Appointment
				if !a.Start.Equal(b.Start) {
					return a.Start.Before(b.Start)
				}
				return a.ID < b.ID
			})
		}
		grid.Columns = append(grid.Columns, col)
	}
	return grid
}

// layoutKey returns a key for a that is unique within taken. Sources only
// promise unique IDs among their own appointments, so the key carries the
// source; a repeat within one source gets a numeric suffix.
func layoutKey(a model.Appointment, taken map[string]model.Appointment) string {
	key := a.SourceID + "/" + a.ID
	if _, dup := taken[key]; !dup {
		return key
	}
	appLog.Warn("duplicate appointment id", "source", a.SourceID, "id", a.ID)
	for n := 2; ; n++ {
		k := key + "#" + strconv.Itoa(n)
		if _, dup := taken[k]; !dup {
			return k
		}
	}
}

// Start registers a cron job that drops stale grids and rebuilds the current
// week so the first request after a refresh is served from cache.
func (s *Service) Start(ctx context.Context, spec string) error {
	c := cron.New(cron.WithLocation(s.opts.Location))
	_, err := c.AddFunc(spec, func() {
		s.Invalidate()
		if _, err := s.Grid(ctx, s.now(), view.ModeWeek); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	})
	if err != nil {
		return fmt.Errorf("agenda: invalid refresh schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	appLog.Info("refresh scheduled", "cron", spec)
	return nil
}

// Stop halts the refresh job and waits for a running refresh to finish.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// FeedSource adapts an ICS fetcher plus its feeds to Source.
type FeedSource struct {
	Fetcher *ics.Fetcher
	Feeds   []ics.Feed
	Loc     *time.Location
}

func (f *FeedSource) Name() string { return "ics" }

func (f *FeedSource) Appointments(ctx context.Context, start, end time.Time) ([]model.Appointment, error) {
	payloads, fetchErr := f.Fetcher.FetchAll(ctx, f.Feeds)
	if len(payloads) == 0 && fetchErr != nil {
		return nil, fetchErr
	}

	var entries []ics.Entry
	for _, p := range payloads {
		parsed, err := ics.Parse(p.Feed, p.Body)
		if err != nil {
			appLog.Error("feed parse failed", err, "feed", p.Feed.ID)
			continue
		}
		entries = append(entries, parsed...)
	}

	exp, err := ics.Expand(entries, ics.Window{Start: start, End: end, Location: f.Loc})
	if err != nil {
		return nil, err
	}
	return exp.Appointments, nil
}
