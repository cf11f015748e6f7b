package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"apptgrid/internal/agenda"
	"apptgrid/internal/config"
	"apptgrid/internal/layout"
	appLog "apptgrid/internal/log"
	"apptgrid/internal/render"
	"apptgrid/internal/view"
)

// maxLayoutBody caps POST /api/layout payloads.
const maxLayoutBody = 1 << 20

// Server exposes grids, ad-hoc layouts and the rendered calendar over HTTP.
type Server struct {
	cfg    *config.Config
	agenda *agenda.Service
	render render.Options
	mux    *http.ServeMux
}

// NewServer constructs a new Server. ro controls /calendar.svg drawing; its
// HourHeight defaults to cfg.HourHeight so boxes and hour lines agree.
func NewServer(cfg *config.Config, svc *agenda.Service, ro render.Options) *Server {
	if ro.HourHeight <= 0 {
		ro.HourHeight = cfg.HourHeight
	}
	s := &Server{
		cfg:    cfg,
		agenda: svc,
		render: ro,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials mean disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="apptgrid", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/grid", s.handleGrid)
	s.mux.HandleFunc("/api/layout", s.handleLayout)
	s.mux.HandleFunc("/calendar.svg", s.handleSVG)
	s.mux.HandleFunc("/preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// gridFor resolves ?date=YYYY-MM-DD&view=... and builds the grid. On failure
// it has already written the response and returns false.
func (s *Server) gridFor(w http.ResponseWriter, r *http.Request) (agenda.Grid, bool) {
	q := r.URL.Query()
	mode, err := view.ParseMode(q.Get("view"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return agenda.Grid{}, false
	}

	loc := s.agenda.Location()
	anchor := time.Now().In(loc)
	if d := q.Get("date"); d != "" {
		anchor, err = time.ParseInLocation(time.DateOnly, d, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
			return agenda.Grid{}, false
		}
	}

	grid, err := s.agenda.Grid(r.Context(), anchor, mode)
	if err != nil {
		appLog.Error("grid build failed", err, "view", string(mode))
		writeError(w, http.StatusBadGateway, "no appointment source is reachable")
		return agenda.Grid{}, false
	}
	return grid, true
}

// handleGrid returns the laid out grid as JSON.
//
// GET /api/grid?date=2025-03-10&view=week
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	grid, ok := s.gridFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

type layoutEvent struct {
	ID    string    `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type layoutRequest struct {
	Events []layoutEvent `json:"events"`
	Width  string        `json:"width"`
}

type layoutResponse struct {
	Width string                 `json:"width"`
	Slots map[string]layout.Slot `json:"slots"`
}

// handleLayout runs the engine on caller-supplied events without touching
// any source. Events are laid out as one column; no day splitting.
//
// POST /api/layout {"events":[{"id":"a","start":"...","end":"..."}],"width":"overlap"}
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req layoutRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLayoutBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	mode, ok := layout.ParseWidthMode(req.Width)
	if !ok {
		writeError(w, http.StatusBadRequest, "width must be overlap or cluster")
		return
	}

	events := make([]layout.Event, len(req.Events))
	for i, e := range req.Events {
		events[i] = layout.Event{ID: e.ID, Start: e.Start, End: e.End}
	}
	if err := layout.Validate(events); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, layout.ErrDuplicateID) || errors.Is(err, layout.ErrEmptyID) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, layoutResponse{
		Width: mode.String(),
		Slots: layout.LayoutWith(events, layout.Options{Width: mode}),
	})
}

// handleSVG renders the grid for ?date&view as SVG.
func (s *Server) handleSVG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	grid, ok := s.gridFor(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := render.SVG(&buf, grid, s.render); err != nil {
		appLog.Error("svg render failed", err)
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// handlePreview serves the last captured PNG. http.ServeFile answers 404
// when no snapshot has been taken yet.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, s.cfg.PreviewPath)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
