// Package api exposes the booth over HTTP: session control, artifact
// downloads, live events and the preview stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/PhotoBooth/internal/artifact"
	"github.com/bryanchriswhite/PhotoBooth/internal/config"
	"github.com/bryanchriswhite/PhotoBooth/internal/filter"
	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
	"github.com/bryanchriswhite/PhotoBooth/internal/output"
	"github.com/bryanchriswhite/PhotoBooth/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Version is reported by the health endpoint
var Version = "0.1.0"

// Deps are the components the server exposes. Stream and Config are
// optional.
type Deps struct {
	Controller *session.Controller
	Artifacts  *artifact.Store
	Stream     *output.MJPEGOutput
	Config     *config.Manager
}

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	ctrl      *session.Controller
	artifacts *artifact.Store
	stream    *output.MJPEGOutput
	configMgr *config.Manager
	hub       *Hub
	upgrader  websocket.Upgrader
	log       *zerolog.Logger
	http      *http.Server
}

// NewServer creates the server and subscribes its event hub to the
// controller
func NewServer(deps Deps) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		ctrl:      deps.Controller,
		artifacts: deps.Artifacts,
		stream:    deps.Stream,
		configMgr: deps.Config,
		hub:       NewHub(),
		log:       logger.WithComponent("api"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the booth UI may be served from another origin
			},
		},
	}
	s.ctrl.Subscribe(s.hub)

	s.setupRoutes()
	return s
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Hub returns the event hub
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Capture runs
	api.HandleFunc("/session", s.handleGetSession).Methods("GET")
	api.HandleFunc("/session/start", s.handleStartSession).Methods("POST")
	api.HandleFunc("/session/reset", s.handleResetSession).Methods("POST")

	// Filters
	api.HandleFunc("/filters", s.handleListFilters).Methods("GET")
	api.HandleFunc("/filter", s.handleSetFilter).Methods("PUT")

	// Artifacts
	api.HandleFunc("/artifacts", s.handleListArtifacts).Methods("GET")
	api.HandleFunc("/artifacts/{id}", s.handleDownloadArtifact).Methods("GET")

	// Live events
	api.HandleFunc("/events", s.handleEvents)

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.stream != nil {
		s.router.HandleFunc("/stream", s.stream.GetHTTPHandler()).Methods("GET")
		s.router.HandleFunc("/stream/stats", s.stream.GetStatsHandler()).Methods("GET")
		s.router.HandleFunc("/stream/frame.jpg", s.stream.GetFrameHandler()).Methods("GET")
		s.router.HandleFunc("/", s.stream.GetViewerHandler()).Methods("GET")
	}
}

// Start listens on port until Shutdown
func (s *Server) Start(port int) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", port).Msgf("Starting server on http://localhost:%d", port)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for handlers to finish
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HTTP Handlers

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

// startRequest overrides the configured defaults for one run
type startRequest struct {
	PhotoCount int    `json:"photo_count"`
	Filter     string `json:"filter"`
	Mode       string `json:"mode"`
	Sessions   int    `json:"sessions"`
}

func (req startRequest) apply(cfg session.Config) (session.Config, error) {
	// an omitted filter means the current live filter
	cfg.Filter = ""
	if req.PhotoCount != 0 {
		cfg.PhotoCount = req.PhotoCount
	}
	if req.Filter != "" {
		k, err := filter.ParseKind(req.Filter)
		if err != nil {
			return cfg, err
		}
		cfg.Filter = k
	}
	if req.Mode != "" {
		mode, err := session.ParseMode(req.Mode)
		if err != nil {
			return cfg, err
		}
		cfg.Mode = mode
	}
	if req.Sessions != 0 {
		cfg.Sessions = req.Sessions
	}
	return cfg, cfg.Validate()
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	cfg, err := req.apply(s.ctrl.Defaults())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	runID, err := s.ctrl.Start(cfg)
	switch {
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.log.Info().Str("run_id", runID).Str("remote", r.RemoteAddr).Msg("Capture run requested")
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"run_id":  runID,
		"session": s.ctrl.Snapshot(),
	})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Reset()
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

type filterInfo struct {
	Name  filter.Kind `json:"name"`
	Label string      `json:"label"`
	Live  bool        `json:"live"`
}

func (s *Server) handleListFilters(w http.ResponseWriter, r *http.Request) {
	live := s.ctrl.LiveFilter()
	out := make([]filterInfo, 0, len(filter.Kinds))
	for _, k := range filter.Kinds {
		out = append(out, filterInfo{Name: k, Label: k.Label(), Live: k == live})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter string `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	k, err := filter.ParseKind(req.Filter)
	if err == nil {
		err = s.ctrl.SetFilter(k)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"filter": string(k), "label": k.Label()})
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var items []artifact.Artifact
	if run := q.Get("run"); run != "" {
		items = s.artifacts.Run(run)
	} else {
		items = s.artifacts.List()
	}

	if kind := q.Get("kind"); kind != "" {
		filtered := items[:0]
		for _, a := range items {
			if string(a.Kind) == strings.ToLower(kind) {
				filtered = append(filtered, a)
			}
		}
		items = filtered
	}
	if items == nil {
		items = []artifact.Artifact{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	a, err := s.artifacts.Get(id)
	if errors.Is(err, artifact.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", a.MimeType)
	w.Header().Set("Content-Length", fmt.Sprint(len(a.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Filename))
	w.Write(a.Data)
}

// eventMessage is the first message on /api/events
type eventMessage struct {
	Type     string           `json:"type"`
	Snapshot session.Snapshot `json:"snapshot"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates := s.hub.Subscribe()
	defer s.hub.Unsubscribe(updates)

	// the reader only watches for the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(eventMessage{Type: "snapshot", Snapshot: s.ctrl.Snapshot()}); err != nil {
		s.log.Debug().Err(err).Msg("WebSocket write error")
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		writeError(w, http.StatusNotFound, errors.New("no configuration loaded"))
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":     "healthy",
		"version":    Version,
		"state":      s.ctrl.Snapshot().State,
		"preview":    s.ctrl.PreviewStats(),
		"ws_clients": s.hub.Len(),
	}
	if s.artifacts != nil {
		status["artifacts"] = s.artifacts.Summary()
	}
	writeJSON(w, http.StatusOK, status)
}
