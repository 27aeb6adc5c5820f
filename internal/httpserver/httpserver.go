// Package httpserver exposes the core's ops-only HTTP surface: liveness
// and Prometheus scrape endpoints. No trading API, WebSocket feed, or UI
// is served (no live order placement, no UI). Adapted from the teacher's
// mux.Router-based API server, trimmed to the two ops routes this system
// needs.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthFunc reports whether the core is ready to serve traffic, e.g. a
// recent-enough Heartbeat Scheduler tick.
type HealthFunc func() (healthy bool, detail string)

// Server is the ops-only HTTP server.
type Server struct {
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	health     HealthFunc
}

// New constructs a Server bound to addr, registering /healthz against
// health and /metrics against reg.
func New(logger *zap.Logger, addr string, reg prometheus.Gatherer, health HealthFunc) *Server {
	s := &Server{logger: logger, router: mux.NewRouter(), health: health}
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	healthy, detail := s.health()
	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": statusString(healthy),
		"detail": detail,
	})
}

func statusString(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "unhealthy"
}

// TestHandler exposes the underlying router for in-process handler tests,
// avoiding a real listening socket.
func (s *Server) TestHandler() http.Handler { return s.router }

// ListenAndServe starts the server. Blocks until an error or Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("ops http server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
