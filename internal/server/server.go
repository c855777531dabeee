// Package server exposes the process's diagnostics over HTTP while a
// long-running command is active.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"dicomweb-oauth/internal/common/logging"
	"dicomweb-oauth/internal/middleware"
	"dicomweb-oauth/internal/oauth2"
)

// SnapshotSource is the part of the token manager the server reports on
type SnapshotSource interface {
	Snapshots(ctx context.Context) []oauth2.Snapshot
}

// HealthCheck reports whether a dependency the process relies on is reachable
type HealthCheck func(ctx context.Context) error

// Server represents the diagnostics HTTP server
type Server struct {
	srv    *http.Server
	logger logging.Logger
	errCh  chan error
}

// NewRouter routes /metrics to metricsHandler (when set), /status to the
// manager's snapshots and /healthz to the health checks. Any failing check
// turns /healthz into a 503.
func NewRouter(metricsHandler http.Handler, source SnapshotSource, checks ...HealthCheck) *mux.Router {
	router := mux.NewRouter()
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	if source != nil {
		router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(source.Snapshots(r.Context()))
		}).Methods(http.MethodGet)
	}
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, check := range checks {
			if err := check(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("unhealthy: " + logging.RedactString(err.Error())))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return router
}

// New creates a server listening on addr
func New(handler http.Handler, addr string, logger logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      middleware.Logging(logger)(handler),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
		errCh:  make(chan error, 1),
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned; later serve errors are reported on Err.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("Diagnostics server listening", logging.String("address", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Diagnostics server stopped", err)
			s.errCh <- err
		}
	}()
	return nil
}

// Err delivers a serve failure after Start
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
