// Package api exposes the recommendation pipeline over a JSON HTTP API.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/shelfmate/shelfmate/internal/persona"
	"github.com/shelfmate/shelfmate/internal/pipeline"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger   *slog.Logger
	Pipeline *pipeline.Pipeline // Required
	// Ready reports readiness for the /readyz probe; nil means always ready.
	Ready func() error
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{pipeline: cfg.Pipeline, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("GET /api/v1/personas", listPersonas)

	// Middleware stack, outermost first:
	//   Recovery -> RequestID -> Logging -> Routes
	var handler http.Handler = mux
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /healthz", health)
	topMux.Handle("GET /readyz", readiness(cfg.Ready))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// health is the liveness probe.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports whether downstream collaborators are reachable.
func readiness(check func() error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if check != nil {
			if err := check(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "not ready",
					"reason": err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
}

// personaPayload is the wire form of one selectable persona.
type personaPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

func listPersonas(w http.ResponseWriter, _ *http.Request) {
	ids := persona.IDs()
	sort.Strings(ids)

	out := make([]personaPayload, len(ids))
	for i, id := range ids {
		p := persona.Lookup(id)
		out[i] = personaPayload{ID: p.ID, DisplayName: p.DisplayName}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"personas": out,
		"default":  persona.DefaultID,
	})
}
