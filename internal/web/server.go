// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package web

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/garrulus/garrulus/internal/observability"
)

const badRequestBody = "bad request\n"

// Server is the process-wide HTTP surface for plugin routes. The
// serving table is swapped as one pointer, so a request sees either
// the entirely-old or entirely-new table, never a partial rebuild.
type Server struct {
	addr       string
	table      atomic.Pointer[Table]
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates a web server on addr ("host:port"). It serves the
// empty table (fallback only) until the first Install.
func NewServer(addr string) *Server {
	s := &Server{addr: addr}
	s.table.Store(&Table{})
	return s
}

// Install publishes t as the serving table. Requests already in flight
// finish against the table they started with.
func (s *Server) Install(t *Table) {
	if t == nil {
		t = &Table{}
	}
	s.table.Store(t)
	slog.Debug("route table installed", "routes", t.Len())
}

// Table returns the currently serving table.
func (s *Server) Table() *Table {
	return s.table.Load()
}

// ServeHTTP decodes request parameters, dispatches against the current
// table, and records the response status.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.serve(rec, r)
	observability.RecordHTTPRequest(strconv.Itoa(rec.status))
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Debug("rejecting request with undecodable parameters",
			"path", r.URL.Path,
			"error", err)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, badRequestBody)
		return
	}

	s.table.Load().ServeHTTP(w, r)
}

// Start begins serving. It returns an error channel that receives any
// serve failure; the channel is closed on graceful stop.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("web server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("web server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("web server started", "addr", listener.Addr().String())
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
			return oops.With("operation", "shutdown_web_server").Wrap(err)
		}
	}

	slog.Info("web server stopped")
	return nil
}

// Addr returns the bound address, or empty when not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
