// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package plugin resolves plugin names to registration entrypoints and
// loads them into connections. Compiled-in plugins register themselves
// by name from init functions; scripted plugins are discovered on disk
// and registered the same way, so the loader treats both identically.
package plugin

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"

	"github.com/garrulus/garrulus/internal/bot"
)

// Error codes for plugin registration and loading.
const (
	CodeInvalidSpec    = "PLUGIN_INVALID_SPEC"
	CodePluginNotFound = "PLUGIN_NOT_FOUND"
	CodeInitFailed     = "PLUGIN_INIT_FAILED"
	CodeInitPanic      = "PLUGIN_INIT_PANIC"
)

// namePattern constrains plugin names: a plugin's name doubles as its
// log field, its store bucket prefix, and its position in config lists.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// InitFunc is a plugin's registration entrypoint. It receives the
// connection being loaded onto and a fresh module to populate with
// hooks, commands, routes, and cleanup functions. Returning an error
// abandons the load; nothing the function did gets installed.
type InitFunc func(ctx context.Context, conn *bot.Connection, m *bot.Module) error

// Spec describes one loadable plugin.
type Spec struct {
	Name    string
	Version string
	Init    InitFunc
}

// validate checks the spec is complete and well-formed.
func (s Spec) validate() error {
	if !namePattern.MatchString(s.Name) {
		return oops.Code(CodeInvalidSpec).
			With("name", s.Name).
			Errorf("plugin name must match %s", namePattern.String())
	}
	if _, err := semver.NewVersion(s.Version); err != nil {
		return oops.Code(CodeInvalidSpec).
			With("name", s.Name).
			With("version", s.Version).
			Hint("version must be semantic, e.g. 1.2.0").
			Wrap(err)
	}
	if s.Init == nil {
		return oops.Code(CodeInvalidSpec).
			With("name", s.Name).
			Errorf("plugin has no init function")
	}
	return nil
}

// Registry maps plugin names to their specs.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register validates and adds a spec. If the name is taken the new
// registration wins and a warning is logged.
func (r *Registry) Register(s Spec) error {
	if err := s.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.specs[s.Name]; ok {
		slog.Warn("plugin conflict: overwriting existing registration",
			"plugin", s.Name,
			"previous_version", prev.Version,
			"new_version", s.Version)
	}
	r.specs[s.Name] = s
	return nil
}

// Lookup returns the spec registered under name.
func (r *Registry) Lookup(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// Names returns all registered plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Global registry for plugin self-registration via init().
var globalRegistry = NewRegistry()

// Register adds a spec to the global registry.
func Register(s Spec) error {
	return globalRegistry.Register(s)
}

// MustRegister adds a spec to the global registry and panics on an
// invalid spec. Intended for plugin init() functions, where a bad spec
// is a programming error.
func MustRegister(s Spec) {
	if err := Register(s); err != nil {
		panic(err)
	}
}

// Lookup resolves a name against the global registry.
func Lookup(name string) (Spec, bool) {
	return globalRegistry.Lookup(name)
}

// Names lists the global registry, sorted.
func Names() []string {
	return globalRegistry.Names()
}

// ResetGlobalRegistry replaces the global registry with an empty one.
// This is intended for testing purposes only.
func ResetGlobalRegistry() {
	globalRegistry = NewRegistry()
}
