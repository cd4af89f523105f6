// Package adminserver is the engine process's own small HTTP surface:
// liveness and Prometheus scraping. Order placement, cancellation, and
// depth queries are the API gateway's job (out of scope here) — the
// engine talks to that layer only over the message bus.
package adminserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"exchange-engine/internal/metrics"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	OrdersProcessed int64  `json:"orders_processed"`
}

// Server exposes /healthz and /metrics for the engine process.
type Server struct {
	listenAddr string
	metrics    *metrics.Metrics
	startTime  time.Time
}

// New creates a Server. It does not start listening until Run is called.
func New(listenAddr string, m *metrics.Metrics) *Server {
	return &Server{
		listenAddr: listenAddr,
		metrics:    m,
		startTime:  time.Now(),
	}
}

// Run starts the HTTP server; it blocks until the listener fails.
func (s *Server) Run() error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(s.metrics))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return http.ListenAndServe(s.listenAddr, mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:          "healthy",
		UptimeSeconds:   int64(time.Since(s.startTime).Seconds()),
		OrdersProcessed: s.metrics.OrdersReceived.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
