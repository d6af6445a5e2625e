// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package observability provides HTTP endpoints for metrics and health
// checks, plus the process-wide Prometheus counters.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the service is ready to accept
// traffic.
type ReadinessChecker func() bool

// Package-level counters so the dispatch and load paths can record
// without holding a Server reference.
var (
	eventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garrulus_events_dispatched_total",
			Help: "Total number of events dispatched by connection and event type",
		},
		[]string{"connection", "type"},
	)
	eventsIgnored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garrulus_events_ignored_total",
			Help: "Total number of events dropped by the ignore check",
		},
		[]string{"connection"},
	)
	hookFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garrulus_hook_failures_total",
			Help: "Total number of hook failures by owning module",
		},
		[]string{"module"},
	)
	pluginLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garrulus_plugin_loads_total",
			Help: "Total number of plugin load attempts by result",
		},
		[]string{"result"},
	)
	reloads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "garrulus_reloads_total",
			Help: "Total number of completed full reloads",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garrulus_http_requests_total",
			Help: "Total number of HTTP requests served by the route table, by status",
		},
		[]string{"status"},
	)
	connectionUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "garrulus_connection_up",
			Help: "Whether the named IRC connection is currently registered with its server",
		},
		[]string{"connection"},
	)
)

// RecordDispatch increments the dispatch counter.
func RecordDispatch(connection, eventType string) {
	eventsDispatched.WithLabelValues(connection, eventType).Inc()
}

// RecordIgnored increments the ignored-event counter.
func RecordIgnored(connection string) {
	eventsIgnored.WithLabelValues(connection).Inc()
}

// RecordHookFailure increments the hook failure counter for a module.
func RecordHookFailure(module string) {
	hookFailures.WithLabelValues(module).Inc()
}

// RecordPluginLoad increments the plugin load counter with result
// "ok" or "failed".
func RecordPluginLoad(result string) {
	pluginLoads.WithLabelValues(result).Inc()
}

// RecordReload increments the reload counter.
func RecordReload() {
	reloads.Inc()
}

// RecordHTTPRequest increments the HTTP request counter for a status
// code.
func RecordHTTPRequest(status string) {
	httpRequests.WithLabelValues(status).Inc()
}

// SetConnectionUp records whether a connection is live.
func SetConnectionUp(connection string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	connectionUp.WithLabelValues(connection).Set(v)
}

// Server exposes /metrics and health probes on its own listener,
// separate from the plugin route table.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates an observability server on addr ("host:port").
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(eventsDispatched)
	registry.MustRegister(eventsIgnored)
	registry.MustRegister(hookFailures)
	registry.MustRegister(pluginLoads)
	registry.MustRegister(reloads)
	registry.MustRegister(httpRequests)
	registry.MustRegister(connectionUp)

	return &Server{
		addr:     addr,
		registry: registry,
		isReady:  readinessChecker,
	}
}

// Start begins serving. It returns an error channel that receives any
// serve failure; the channel is closed on graceful stop. Callers should
// monitor it to detect server failures.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or empty when not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
