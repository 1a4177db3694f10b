// Package server is the HTTP + SSE + WebSocket surface over the scan core.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/storstekarn/VibeCheck/internal/analytics"
	"github.com/storstekarn/VibeCheck/internal/app"
	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
	"github.com/storstekarn/VibeCheck/internal/registry"
)

// Config is the server's own configuration.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string

	// AdminAPIKey guards the analytics endpoint. Empty disables it.
	AdminAPIKey string
}

// Server exposes the scan service over HTTP.
type Server struct {
	cfg       Config
	svc       *app.Service
	analytics *analytics.Store
	router    chi.Router
	upgrader  websocket.Upgrader
	logger    logging.Logger
}

// NewServer creates a Server over an already-wired Service. analytics may be
// nil, which turns the admin endpoint into a 404.
func NewServer(cfg Config, svc *app.Service, store *analytics.Store, logger logging.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		analytics: store,
		router:    chi.NewRouter(),
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: tighten for production
				return true
			},
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	r.Post("/api/scans", s.handleStartScan)
	r.Get("/api/scans/{scanID}/report", s.handleGetReport)
	r.Get("/api/scans/{scanID}/events", s.handleScanEvents)
	r.Get("/ws/scans/{scanID}", s.handleScanWS)

	r.Get("/api/admin/analytics", s.handleAdminAnalytics)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Key")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("http_request",
		logging.Field{Key: "method", Value: r.Method},
		logging.Field{Key: "path", Value: r.URL.Path})
	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:        s.cfg.ListenAddr,
		Handler:     s,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays zero so SSE streams are not cut off.
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "error": msg})
}

// --- handlers ---

func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}

	scanID, err := s.svc.StartScan(body.URL)
	if err != nil {
		if errors.Is(err, registry.ErrScanInProgress) {
			s.logger.Warn("scan rejected: already running")
			writeError(w, http.StatusConflict, "scan_in_progress", err.Error())
			return
		}
		s.logger.Warn("scan rejected: invalid url",
			logging.Field{Key: "url", Value: body.URL},
			logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusBadRequest, "invalid_url", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"scanId": scanID})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")

	state, err := s.svc.GetReport(scanID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "scan not found")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// eventBuffer is how many progress events an HTTP subscriber may fall behind
// before events are dropped; the publisher never blocks on a slow client.
const eventBuffer = 64

func (s *Server) subscribe(scanID string) (<-chan model.ProgressEvent, func(), error) {
	events := make(chan model.ProgressEvent, eventBuffer)
	unsubscribe, err := s.svc.SubscribeProgress(scanID, func(ev model.ProgressEvent) {
		select {
		case events <- ev:
		default:
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return events, unsubscribe, nil
}

// handleScanEvents streams progress events as Server-Sent Events. The stream
// ends after the terminal event, when the scan reaches a terminal state, or
// when the client goes away.
func (s *Server) handleScanEvents(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	events, unsubscribe, err := s.subscribe(scanID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "scan not found")
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// A scan already past its terminal event publishes nothing more; poll
	// its state so the stream still ends promptly.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			if ev.Progress >= 100 || ev.Phase == "complete" {
				return
			}
		case <-ticker.C:
			state, err := s.svc.GetReport(scanID)
			if err != nil || state.Status != model.ScanRunning {
				return
			}
		}
	}
}

// handleScanWS mirrors the SSE stream over a websocket.
func (s *Server) handleScanWS(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")

	events, unsubscribe, err := s.subscribe(scanID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "scan not found")
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Progress >= 100 || ev.Phase == "complete" {
				return
			}
		case <-ticker.C:
			state, err := s.svc.GetReport(scanID)
			if err != nil || state.Status != model.ScanRunning {
				return
			}
		}
	}
}

func (s *Server) handleAdminAnalytics(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminAPIKey == "" || s.analytics == nil {
		http.NotFound(w, r)
		return
	}
	if r.Header.Get("X-Admin-Key") != s.cfg.AdminAPIKey {
		writeError(w, http.StatusForbidden, "forbidden", "invalid admin key")
		return
	}

	records, err := s.analytics.Recent(r.Context(), 100)
	if err != nil {
		s.logger.Warn("listing analytics failed",
			logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}
