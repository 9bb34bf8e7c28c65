package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/crucible-sh/crucible/internal/config"
	"github.com/crucible-sh/crucible/internal/metrics"
)

type Server struct {
	cfg    *config.Config
	orch   Orchestrator
	logger *slog.Logger
	mux    *http.ServeMux
}

func NewServer(cfg *config.Config, orch Orchestrator, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		orch:   orch,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.authMiddleware(s.requestIDMiddleware(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/sessions/{id}/execute", s.handleExecute)
	s.mux.HandleFunc("POST /v1/sessions/{id}/packages", s.handleInstallPackage)
	s.mux.HandleFunc("GET /v1/sessions/{id}/files", s.handleListFiles)
	s.mux.HandleFunc("POST /v1/sessions/{id}/files", s.handleUploadFile)
	s.mux.HandleFunc("GET /v1/sessions/{id}/files/content", s.handleDownloadFile)

	s.mux.Handle("GET /metrics", metrics.Handler())

	// Health check (no auth)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
