// Package http exposes the status and control API: health probes,
// Prometheus metrics, the live state stream, and the panic/cancel and
// monitor start/stop controls.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"aegis-server/pkg/config"
	"aegis-server/pkg/metrics"
	"aegis-server/pkg/state"
	"aegis-server/pkg/version"
)

// MonitorController is the monitoring session surface the API drives.
type MonitorController interface {
	Start() bool
	Stop()
}

// EmergencyController is the episode surface the API drives.
type EmergencyController interface {
	TriggerManual() (string, bool)
	Cancel() bool
	Active() bool
}

// TranscriptAnalyzer receives transcribed speech from the external
// transcription collaborator and reports whether it escalated.
type TranscriptAnalyzer interface {
	AnalyzeTranscript(text string) (string, bool)
}

// Server represents the HTTP server for status, health and control
type Server struct {
	config     config.HTTPConfig
	logger     *logrus.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	states     *state.Container
	monitor    MonitorController
	emergency  EmergencyController
	analyzer   TranscriptAnalyzer
	hub        *StateHub
	startTime  time.Time
}

// NewServer creates a new HTTP server instance. analyzer may be nil when
// no transcription collaborator is wired.
func NewServer(logger *logrus.Logger, cfg config.HTTPConfig, states *state.Container,
	monitor MonitorController, emergency EmergencyController, analyzer TranscriptAnalyzer) *Server {

	server := &Server{
		config:    cfg,
		logger:    logger,
		states:    states,
		monitor:   monitor,
		emergency: emergency,
		analyzer:  analyzer,
		hub:       NewStateHub(logger, states),
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	server.mux = mux

	// Wrap handlers with middleware that adds the Server header
	addServerHeader := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			next(w, r)
		}
	}

	mux.HandleFunc("/health", addServerHeader(server.healthHandler))
	mux.HandleFunc("/healthz", addServerHeader(server.healthHandler))
	mux.HandleFunc("/status", addServerHeader(server.statusHandler))

	if handler := metrics.Handler(); handler != nil {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			handler.ServeHTTP(w, r)
		})
		logger.Info("Prometheus metrics endpoint enabled at /metrics")
	}

	mux.HandleFunc("/ws", server.hub.ServeHTTP)

	mux.HandleFunc("/panic", addServerHeader(server.panicHandler))
	mux.HandleFunc("/cancel", addServerHeader(server.cancelHandler))
	mux.HandleFunc("/monitor/start", addServerHeader(server.monitorStartHandler))
	mux.HandleFunc("/monitor/stop", addServerHeader(server.monitorStopHandler))

	if analyzer != nil {
		mux.HandleFunc("/transcript", addServerHeader(server.transcriptHandler))
	}

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server in a goroutine
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)

	go func() {
		s.logger.WithField("port", s.config.Port).Info("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the route mux, for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// healthHandler reports liveness. The server is healthy as long as it can
// serve requests; monitoring and emergency state are status, not health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

// statusHandler returns the full observable state snapshot.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.states.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":    version.Version,
		"uptime":     time.Since(s.startTime).String(),
		"started_at": s.startTime.Format(time.RFC3339),
		"state":      snap,
	})
}

// panicHandler is the manual panic button.
func (s *Server) panicHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	episodeID, ok := s.emergency.TriggerManual()
	if !ok {
		s.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": "emergency episode already active",
		})
		return
	}

	s.logger.WithField("episode_id", episodeID).Warn("Manual panic triggered via API")
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"episode_id": episodeID,
	})
}

// cancelHandler is the explicit "I'm safe now" control.
func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	if !s.emergency.Cancel() {
		s.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": "no emergency episode active",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cancelled": true,
	})
}

func (s *Server) monitorStartHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	if !s.monitor.Start() {
		s.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": "monitoring already active or audio device unavailable",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"monitoring": true,
	})
}

func (s *Server) monitorStopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	s.monitor.Stop()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"monitoring": false,
	})
}

// transcriptHandler feeds transcribed speech into the keyword spotter.
func (s *Server) transcriptHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "invalid transcript payload",
		})
		return
	}

	episodeID, triggered := s.analyzer.AnalyzeTranscript(body.Text)
	response := map[string]interface{}{
		"triggered": triggered,
	}
	if episodeID != "" {
		response["episode_id"] = episodeID
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
		"error": "method not allowed",
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("Failed to encode HTTP response")
	}
}
