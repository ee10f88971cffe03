package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wraps the HTTP server hosting the ingestion API.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer builds the router and binds it to the given port.
func NewServer(port int, h *Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default().With("component", "api")
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/documents", h.SubmitDocument).Methods("POST")

	api.HandleFunc("/batch/start", h.StartBatch).Methods("POST")
	api.HandleFunc("/batch/pause", h.PauseBatch).Methods("POST")
	api.HandleFunc("/batch/resume", h.ResumeBatch).Methods("POST")
	api.HandleFunc("/batch/cancel", h.CancelBatch).Methods("POST")
	api.HandleFunc("/batch/stats", h.BatchStats).Methods("GET")

	api.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", h.RemoveJob).Methods("DELETE")
	api.HandleFunc("/jobs/{id}/retry", h.RetryJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/priority", h.SetPriority).Methods("PATCH")

	api.HandleFunc("/breakers", h.ListBreakers).Methods("GET")
	api.HandleFunc("/breakers/{name}/reset", h.ResetBreaker).Methods("POST")
	api.HandleFunc("/breakers/{name}/open", h.OpenBreaker).Methods("POST")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
