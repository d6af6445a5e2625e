// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"

	"github.com/garrulus/garrulus/internal/bot"
	"github.com/garrulus/garrulus/internal/observability"
	"github.com/garrulus/garrulus/pkg/errutil"
)

// Resolver maps a plugin name to its spec.
type Resolver func(name string) (Spec, bool)

// Loader installs registered plugins onto connections.
type Loader struct {
	resolve Resolver
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithResolver overrides where the loader resolves plugin names.
// The default is the global registry.
func WithResolver(r Resolver) LoaderOption {
	return func(l *Loader) {
		l.resolve = r
	}
}

// NewLoader creates a plugin loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{resolve: Lookup}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load resolves name, runs the plugin's init against a fresh module,
// and installs the module on conn. If init fails or panics, nothing is
// installed and any already-loaded module of the same name stays as it
// was. On a successful replacement the old module's cleanup runs
// before the new module installs.
func (l *Loader) Load(ctx context.Context, conn *bot.Connection, name string) error {
	spec, ok := l.resolve(name)
	if !ok {
		observability.RecordPluginLoad("failed")
		return oops.Code(CodePluginNotFound).
			With("plugin", name).
			With("connection", conn.Name()).
			Errorf("plugin not registered")
	}

	m := bot.NewModule(spec.Name)
	if err := l.runInit(ctx, spec, conn, m); err != nil {
		// Release whatever the failed init managed to acquire.
		m.RunCleanup()
		observability.RecordPluginLoad("failed")
		return err
	}

	if old := findModule(conn, spec.Name); old != nil {
		old.RunCleanup()
	}
	conn.InstallModule(m)

	observability.RecordPluginLoad("ok")
	slog.InfoContext(ctx, "loaded plugin",
		"plugin", spec.Name,
		"version", spec.Version,
		"connection", conn.Name())
	return nil
}

// SafeLoad loads one plugin and reports whether it succeeded, logging
// the error instead of returning it.
func (l *Loader) SafeLoad(ctx context.Context, conn *bot.Connection, name string) bool {
	if err := l.Load(ctx, conn, name); err != nil {
		errutil.LogErrorCtx(ctx, err, "failed to load plugin")
		return false
	}
	return true
}

// LoadAll loads every plugin named in the connection's config, in
// config order, continuing past failures. It returns the number
// loaded.
func (l *Loader) LoadAll(ctx context.Context, conn *bot.Connection) int {
	loaded := 0
	for _, name := range conn.Config().Plugins {
		if l.SafeLoad(ctx, conn, name) {
			loaded++
		}
	}
	return loaded
}

// Unload removes a plugin from the connection and runs its cleanup.
func (l *Loader) Unload(ctx context.Context, conn *bot.Connection, name string) error {
	m := conn.RemoveModule(name)
	if m == nil {
		return oops.Code(CodePluginNotFound).
			With("plugin", name).
			With("connection", conn.Name()).
			Errorf("plugin not loaded")
	}
	m.RunCleanup()
	slog.InfoContext(ctx, "unloaded plugin",
		"plugin", name,
		"connection", conn.Name())
	return nil
}

// runInit invokes the plugin's init with a panic guard, so a broken
// plugin cannot take down the load sequence.
func (l *Loader) runInit(ctx context.Context, s Spec, conn *bot.Connection, m *bot.Module) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.Code(CodeInitPanic).
				With("plugin", s.Name).
				With("connection", conn.Name()).
				With("panic", fmt.Sprint(r)).
				Errorf("plugin init panicked")
		}
	}()

	if initErr := s.Init(ctx, conn, m); initErr != nil {
		return oops.Code(CodeInitFailed).
			With("plugin", s.Name).
			With("connection", conn.Name()).
			Wrap(initErr)
	}
	return nil
}

func findModule(conn *bot.Connection, name string) *bot.Module {
	for _, m := range conn.Modules() {
		if m.Name() == name {
			return m
		}
	}
	return nil
}
