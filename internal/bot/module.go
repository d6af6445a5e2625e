// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package bot

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/garrulus/garrulus/pkg/plugin"
)

// CommandEntry represents one registered chat command.
type CommandEntry struct {
	Name     string                // canonical name without prefix (e.g. "seen")
	Handler  plugin.CommandHandler // invoked by the command router
	Help     string                // short description (one line)
	Usage    string                // usage pattern (e.g. "seen <nick>")
	Module   string                // owning module, or "core" for builtins
	Operator bool                  // restricted to authenticated owners
}

// Module collects everything one plugin registered on one connection:
// hooks, commands, HTTP routes, and cleanup functions. A plugin's init
// function populates the module; afterwards the connection treats it as
// read-only and folds it into the published composite state.
type Module struct {
	name   string
	hooks  []hookReg
	cmds   []CommandEntry
	routes []plugin.Route

	cleanups []func()
	cleanup  sync.Once
}

type hookReg struct {
	eventType plugin.EventType
	hook      plugin.Hook
}

// NewModule creates an empty module registration for name.
func NewModule(name string) *Module {
	return &Module{name: name}
}

// Name returns the module's plugin name.
func (m *Module) Name() string {
	return m.name
}

// Hook registers h for eventType. Hooks run in registration order.
func (m *Module) Hook(eventType plugin.EventType, h plugin.Hook) {
	m.hooks = append(m.hooks, hookReg{eventType: eventType, hook: h})
}

// HookFunc registers fn for eventType.
func (m *Module) HookFunc(eventType plugin.EventType, fn func(ctx context.Context, ev *plugin.Event) error) {
	m.Hook(eventType, plugin.HookFunc(fn))
}

// Command registers a chat command. Names are case-insensitive and
// stored lowercase. If the same name is registered twice the later
// registration wins when the connection state is built.
func (m *Module) Command(name, help, usage string, handler plugin.CommandHandler) {
	m.cmds = append(m.cmds, CommandEntry{
		Name:    strings.ToLower(name),
		Handler: handler,
		Help:    help,
		Usage:   usage,
		Module:  m.name,
	})
}

// OperatorCommand registers a chat command restricted to authenticated
// bot owners.
func (m *Module) OperatorCommand(name, help, usage string, handler plugin.CommandHandler) {
	m.cmds = append(m.cmds, CommandEntry{
		Name:     strings.ToLower(name),
		Handler:  handler,
		Help:     help,
		Usage:    usage,
		Module:   m.name,
		Operator: true,
	})
}

// Route registers an HTTP route served while this module is loaded.
// Pattern segments of the form ":name" capture path parameters; an
// empty method matches any method.
func (m *Module) Route(method, pattern string, handler http.HandlerFunc) {
	m.routes = append(m.routes, plugin.Route{Method: method, Pattern: pattern, Handler: handler})
}

// OnCleanup registers fn to run when the module is unloaded. Cleanups
// run in reverse registration order.
func (m *Module) OnCleanup(fn func()) {
	m.cleanups = append(m.cleanups, fn)
}

// Routes returns the module's registered routes.
func (m *Module) Routes() []plugin.Route {
	routes := make([]plugin.Route, len(m.routes))
	copy(routes, m.routes)
	return routes
}

// Commands returns the module's registered commands in registration
// order.
func (m *Module) Commands() []CommandEntry {
	cmds := make([]CommandEntry, len(m.cmds))
	copy(cmds, m.cmds)
	return cmds
}

// RunCleanup runs the module's cleanup functions exactly once, in
// reverse registration order. A panicking cleanup is logged and does not
// stop the remaining ones.
func (m *Module) RunCleanup() {
	m.cleanup.Do(func() {
		for i := len(m.cleanups) - 1; i >= 0; i-- {
			m.runOne(m.cleanups[i])
		}
	})
}

func (m *Module) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("module cleanup panicked",
				"module", m.name,
				"panic", r)
		}
	}()
	fn()
}
