// Package control implements the "optional overlay-router TCP control
// channel" spec §6 names: a small go-chi router exposing liveness,
// Prometheus scraping, and a point-in-time debug dump of a replica's own
// state. Grounded on control-plane/cmd/server/main.go's chi wiring
// (RequestID/Recoverer/Logging/Metrics middleware stack, /health, /ready,
// /metrics) and internal/middleware/logging.go + metrics.go, narrowed from a
// multi-tenant API surface down to the one replica process's own debug
// surface.
package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spire-resilient-systems/spire-sub003/internal/middleware"
)

// StateSnapshot is the point-in-time view of a replica's own protocol state
// that /debug/state reports, gathered from the dispatcher goroutine (the
// caller is responsible for synchronizing this read with Loop's single
// thread — internal/replica satisfies StateProvider from within a
// HandleTimer/HandleMessage callback, or a snapshot taken just before
// serving the handler).
type StateSnapshot struct {
	ReplicaID   int    `json:"replica_id"`
	View        uint64 `json:"view"`
	Incarnation uint64 `json:"incarnation"`
	ARU         uint64 `json:"aru"`
	ConfigNum   uint64 `json:"global_config_number"`
}

// StateProvider is implemented by internal/replica's aggregate state.
type StateProvider interface {
	Snapshot() StateSnapshot
}

// NewRouter builds the control-plane HTTP router for one replica process.
// state may be nil, in which case /debug/state reports 503 — useful before
// the replica has finished its first incarnation bootstrap.
func NewRouter(logger *slog.Logger, state StateProvider) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(10 * time.Second))

	r.Get("/healthz", healthHandler())
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/debug/state", debugStateHandler(state))

	return r
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

func debugStateHandler(state StateProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if state == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not_ready"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(state.Snapshot())
	}
}

// Server wraps http.Server lifecycle so cmd/replica can start and stop the
// control router alongside the dispatcher without duplicating the
// shutdown-signal plumbing the teacher's cmd/server/main.go hand-rolls.
type Server struct {
	httpServer *http.Server
}

// NewServer binds addr for the given router.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{httpServer: &http.Server{Addr: addr, Handler: handler}}
}

// ListenAndServe blocks until the server stops or fails. Returns nil on a
// clean Shutdown.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
