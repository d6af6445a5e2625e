// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package reload orchestrates the full refresh of running connections:
// module cleanups, the atomic reset to baseline plus new configuration,
// plugin repopulation, and the route table swap.
package reload

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/garrulus/garrulus/internal/bot"
	"github.com/garrulus/garrulus/internal/config"
	"github.com/garrulus/garrulus/internal/dispatch"
	"github.com/garrulus/garrulus/internal/observability"
	"github.com/garrulus/garrulus/internal/plugin"
	"github.com/garrulus/garrulus/internal/web"
	"github.com/garrulus/garrulus/pkg/errutil"
)

// Coordinator serializes reloads across every trigger (admin command,
// SIGHUP, config watch) and applies the per-connection reload contract.
type Coordinator struct {
	mu       sync.Mutex
	registry *bot.Registry
	loader   *plugin.Loader
	source   config.Source
	web      *web.Server
	refresh  func(ctx context.Context) error

	watchMu       sync.Mutex
	debounceTimer *time.Timer
}

var _ dispatch.Reloader = (*Coordinator)(nil)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWebServer attaches the route-serving web server; each reload and
// teardown recomputes and installs its table.
func WithWebServer(s *web.Server) Option {
	return func(c *Coordinator) {
		c.web = s
	}
}

// WithRefresh runs fn at the start of every reload, before any
// connection is touched. Used to re-discover scripted plugins so a
// reload picks up script edits. A refresh failure is logged, not fatal.
func WithRefresh(fn func(ctx context.Context) error) Option {
	return func(c *Coordinator) {
		c.refresh = fn
	}
}

// NewCoordinator creates a reload coordinator over the given registry.
func NewCoordinator(registry *bot.Registry, loader *plugin.Loader, source config.Source, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry: registry,
		loader:   loader,
		source:   source,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReloadAll refreshes every active connection: cleanups run best-effort,
// the composite state resets to the re-read configuration in one step,
// plugins repopulate, and the recomputed route table is installed. A
// connection whose configuration cannot be re-read keeps its previous
// generation untouched; other connections still reload. Individual
// plugin failures never fail the reload.
func (c *Coordinator) ReloadAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refresh != nil {
		if err := c.refresh(ctx); err != nil {
			errutil.LogErrorCtx(ctx, err, "reload refresh step failed, continuing")
		}
	}

	var failed []string
	for _, conn := range c.registry.All() {
		if err := c.reloadConnection(ctx, conn); err != nil {
			errutil.LogErrorCtx(ctx, err, "connection reload failed")
			failed = append(failed, conn.Name())
		}
	}

	c.installRoutes()

	if len(failed) > 0 {
		return oops.
			With("connections", failed).
			Errorf("reload failed for %d of %d connections", len(failed), c.registry.Len())
	}

	observability.RecordReload()
	return nil
}

// reloadConnection applies the reload contract to one connection. The
// configuration is re-read before anything is touched, so a read
// failure leaves the old generation fully intact.
func (c *Coordinator) reloadConnection(ctx context.Context, conn *bot.Connection) error {
	cfg, err := c.source.Bot(conn.Name())
	if err != nil {
		return oops.
			With("connection", conn.Name()).
			Hint("previous configuration kept").
			Wrap(err)
	}

	conn.RunCleanups()
	conn.ResetState(cfg)
	loaded := c.loader.LoadAll(ctx, conn)

	slog.InfoContext(ctx, "connection reloaded",
		"connection", conn.Name(),
		"plugins_loaded", loaded,
		"plugins_configured", len(cfg.Plugins))
	return nil
}

// TeardownConnection removes one connection from service: its module
// cleanups run, it leaves the registry, and its routes leave the
// serving table.
func (c *Coordinator) TeardownConnection(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.registry.Get(name)
	if !ok {
		return oops.Code("unknown_connection").
			With("connection", name).
			Errorf("no such connection")
	}

	conn.Teardown()
	c.registry.Remove(name)
	c.installRoutes()

	slog.Info("connection torn down", "connection", name)
	return nil
}

// TeardownAll shuts every connection down. Used on process exit.
func (c *Coordinator) TeardownAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, conn := range c.registry.All() {
		conn.Teardown()
		c.registry.Remove(conn.Name())
	}
	c.installRoutes()
}

func (c *Coordinator) installRoutes() {
	if c.web == nil {
		return
	}
	c.web.Install(web.Collect(c.registry))
}
