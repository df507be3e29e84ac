package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"panelcal/internal/card"
	"panelcal/internal/config"
	"panelcal/internal/gesture"
	appLog "panelcal/internal/log"
)

// Server exposes the card over HTTP: its current view, manual refresh,
// pointer input for the gesture machine and navigation announcements.
type Server struct {
	cfg     *config.Config
	card    *card.Card
	machine *gesture.Machine
	bus     *gesture.Bus
	overlay *Overlay
	ctx     context.Context
	mux     *http.ServeMux
}

// embeddedStatic contains the browser front end.
//
//go:embed all:static
var embeddedStatic embed.FS

// Options wires a Server.
type Options struct {
	Config  *config.Config
	Card    *card.Card
	Machine *gesture.Machine
	Bus     *gesture.Bus
	// Overlay is the Visuals the Machine was built with, if any.
	Overlay *Overlay
	// Context bounds refreshes started by requests. They outlive the
	// request itself.
	Context context.Context
}

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Overlay == nil {
		opts.Overlay = NewOverlay()
	}
	s := &Server{
		cfg:     opts.Config,
		card:    opts.Card,
		machine: opts.Machine,
		bus:     opts.Bus,
		overlay: opts.Overlay,
		ctx:     opts.Context,
		mux:     http.NewServeMux(),
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

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
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
			w.Header().Set("WWW-Authenticate", `Basic realm="panelcal", charset="UTF-8"`)
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

// StartServer serves s on listen until ctx is cancelled, then shuts down
// gracefully.
func StartServer(ctx context.Context, s *Server, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen)
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

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	s.mux.HandleFunc("/api/visible", s.handleVisible)
	s.mux.HandleFunc("/api/pointer", s.handlePointer)
	s.mux.HandleFunc("/api/overlay", s.handleOverlay)
	s.mux.HandleFunc("/api/navigate", s.handleNavigate)

	// All non-/api/* paths fall back to the embedded front end.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleEvents returns the card's current view.
//
// GET /api/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.card.View())
}

// handleRefresh starts a forced fetch and returns immediately.
//
// POST /api/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	appLog.Info("api refresh requested", "remote", r.RemoteAddr)
	s.card.Async(s.ctx, card.TriggerForceRefresh)
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "refreshing"})
}

// handleVisible reports that the page became visible again.
//
// POST /api/visible
func (s *Server) handleVisible(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	s.card.Async(s.ctx, card.TriggerVisible)
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "updating"})
}

type statusResponse struct {
	Status string `json:"status"`
}

// pointerRequest is one pointer event from the front end.
type pointerRequest struct {
	// Type is "down", "move", "up" or "cancel".
	Type string  `json:"type"`
	ID   int     `json:"id"`
	Kind string  `json:"kind"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type pointerResponse struct {
	Phase   string `json:"phase"`
	Overlay []Mark `json:"overlay"`
}

// handlePointer feeds a pointer event into the card's gesture machine.
//
// POST /api/pointer {"type":"down","id":1,"kind":"touch","x":10,"y":20}
func (s *Server) handlePointer(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if s.machine == nil {
		writeError(w, http.StatusServiceUnavailable, "gestures not enabled")
		return
	}

	var req pointerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pointer event")
		return
	}
	p := gesture.Pointer{ID: req.ID, Kind: parseKind(req.Kind), X: req.X, Y: req.Y}

	switch req.Type {
	case "down":
		s.machine.Down(p)
	case "move":
		s.machine.Move(p)
	case "up":
		s.machine.Up(p)
	case "cancel":
		s.machine.Cancel(p)
	default:
		writeError(w, http.StatusBadRequest, "unknown pointer event type")
		return
	}

	writeJSON(w, http.StatusOK, pointerResponse{
		Phase:   s.machine.Phase().String(),
		Overlay: s.overlay.Marks(),
	})
}

// handleOverlay returns the ripples and hold indicators currently shown.
//
// GET /api/overlay
func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.overlay.Marks())
}

type navigateRequest struct {
	Path string `json:"path"`
}

// handleNavigate announces a navigation, tearing down gestures in flight.
//
// POST /api/navigate {"path":"/lovelace/1"}
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "navigation bus not enabled")
		return
	}
	var req navigateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	s.bus.Publish(req.Path)
	writeJSON(w, http.StatusOK, statusResponse{Status: "navigated"})
}

// staticFileServer serves the embedded front end from internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Unknown /api/* paths are 404s, never HTML.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func parseKind(s string) gesture.PointerKind {
	switch strings.ToLower(s) {
	case "touch":
		return gesture.Touch
	case "pen":
		return gesture.Pen
	default:
		return gesture.Mouse
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
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
