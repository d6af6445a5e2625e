// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package bot

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/garrulus/garrulus/internal/config"
	"github.com/garrulus/garrulus/pkg/plugin"
)

// Messenger is the wire-level transport behind a connection. The IRC
// client implements it; tests substitute a recorder.
type Messenger interface {
	Nick() string
	Channels() []string
	Say(target, message string) error
	Notice(target, message string) error
	Action(target, message string) error
	Join(channel string) error
	Part(channel string) error
}

// RouteEntry is one module's route contribution, tagged with the owning
// module for logging and teardown accounting.
type RouteEntry struct {
	Module string
	Route  plugin.Route
}

// state is the composite per-connection value: configuration, loaded
// modules, the hook table, and the command set. It is immutable once
// published; every mutation builds a replacement and swaps the pointer,
// so a reader always observes one coherent combination.
type state struct {
	cfg      *config.Bot
	modules  []*Module
	hooks    *Table
	commands map[string]CommandEntry
}

// Connection is one live bot connection's runtime state. Readers
// (dispatch, HTTP aggregation) load the current snapshot without
// locking; writers (loader, reload) serialize on an internal mutex and
// publish full replacement snapshots.
type Connection struct {
	name  string
	store plugin.Store

	st atomic.Pointer[state]
	mu sync.Mutex

	baseHooks *Table
	baseCmds  []CommandEntry

	msgr atomic.Value // messengerBox
}

type messengerBox struct {
	m Messenger
}

// Option configures a Connection.
type Option func(*Connection)

// WithBaseline supplies the always-present hook table and builtin
// commands. The builder runs once during construction and its result is
// folded into every published state, so baseline behavior survives
// every reload.
func WithBaseline(build func(*Connection) (*Table, []CommandEntry)) Option {
	return func(c *Connection) {
		c.baseHooks, c.baseCmds = build(c)
	}
}

// WithStore replaces the default in-memory plugin store.
func WithStore(s plugin.Store) Option {
	return func(c *Connection) {
		c.store = s
	}
}

// NewConnection creates a connection for cfg with no modules loaded.
func NewConnection(cfg *config.Bot, opts ...Option) *Connection {
	c := &Connection{
		name:  cfg.Name,
		store: NewMemStore(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseHooks == nil {
		c.baseHooks = NewTable()
	}
	c.st.Store(c.rebuild(cfg, nil))
	return c
}

// rebuild assembles a fresh composite state from cfg and modules. The
// baseline hook table comes first so baseline hooks always run before
// plugin hooks; builtin commands cannot be shadowed by modules.
func (c *Connection) rebuild(cfg *config.Bot, modules []*Module) *state {
	hooks := c.baseHooks.Clone()
	commands := make(map[string]CommandEntry, len(c.baseCmds)+len(modules)*2)
	for _, ce := range c.baseCmds {
		commands[ce.Name] = ce
	}

	for _, m := range modules {
		for _, reg := range m.hooks {
			hooks.Add(reg.eventType, Entry{Module: m.name, Hook: reg.hook})
		}
		for _, ce := range m.cmds {
			if prev, ok := commands[ce.Name]; ok {
				if prev.Module == "core" {
					slog.Warn("command conflicts with builtin, ignoring",
						"connection", c.name,
						"command", ce.Name,
						"module", m.name)
					continue
				}
				slog.Warn("command conflict: overwriting existing command",
					"connection", c.name,
					"command", ce.Name,
					"previous_module", prev.Module,
					"new_module", m.name)
			}
			commands[ce.Name] = ce
		}
	}

	return &state{
		cfg:      cfg,
		modules:  modules,
		hooks:    hooks,
		commands: commands,
	}
}

// ResetState atomically installs cfg and clears all modules, leaving
// only the baseline hooks and builtin commands. Module cleanups are not
// run here; callers do that first.
func (c *Connection) ResetState(cfg *config.Bot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.Store(c.rebuild(cfg, nil))
}

// InstallModule adds m to the connection, replacing any module with the
// same name in place so hook ordering for untouched modules is
// preserved. The displaced module is returned so the caller can run its
// cleanup; nil means m was appended fresh.
func (c *Connection) InstallModule(m *Module) *Module {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.st.Load()
	modules := make([]*Module, len(cur.modules))
	copy(modules, cur.modules)

	var displaced *Module
	replaced := false
	for i, existing := range modules {
		if existing.name == m.name {
			displaced = existing
			modules[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		modules = append(modules, m)
	}

	c.st.Store(c.rebuild(cur.cfg, modules))
	return displaced
}

// RemoveModule detaches the named module and returns it, or nil when no
// such module is loaded. The caller runs its cleanup.
func (c *Connection) RemoveModule(name string) *Module {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.st.Load()
	idx := -1
	for i, m := range cur.modules {
		if m.name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	removed := cur.modules[idx]
	modules := make([]*Module, 0, len(cur.modules)-1)
	modules = append(modules, cur.modules[:idx]...)
	modules = append(modules, cur.modules[idx+1:]...)

	c.st.Store(c.rebuild(cur.cfg, modules))
	return removed
}

// RunCleanups invokes every loaded module's cleanup in reverse load
// order. Each cleanup runs at most once per module instance regardless
// of how often this is called.
func (c *Connection) RunCleanups() {
	st := c.st.Load()
	for i := len(st.modules) - 1; i >= 0; i-- {
		st.modules[i].RunCleanup()
	}
}

// Teardown runs all cleanups and clears the module map. Used when the
// connection is being shut down or removed from the registry.
func (c *Connection) Teardown() {
	c.RunCleanups()
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.st.Load()
	c.st.Store(c.rebuild(cur.cfg, nil))
}

// SetMessenger attaches the outbound transport. Must be called before
// events are dispatched on this connection.
func (c *Connection) SetMessenger(m Messenger) {
	c.msgr.Store(messengerBox{m: m})
}

func (c *Connection) messenger() (Messenger, error) {
	box, ok := c.msgr.Load().(messengerBox)
	if !ok || box.m == nil {
		return nil, oops.Code("not_connected").With("connection", c.name).Errorf("connection has no transport attached")
	}
	return box.m, nil
}

// Snapshot is one coherent read of the composite state. Both fields
// come from the same published value, so a dispatch that works off a
// Snapshot never mixes configuration from one reload generation with
// hooks from another.
type Snapshot struct {
	Cfg   *config.Bot
	Hooks *Table
}

// Snapshot returns the current composite state in a single load.
func (c *Connection) Snapshot() Snapshot {
	st := c.st.Load()
	return Snapshot{Cfg: st.cfg, Hooks: st.hooks}
}

// Name returns the connection's configured name.
func (c *Connection) Name() string {
	return c.name
}

// Config returns the currently installed configuration snapshot.
func (c *Connection) Config() *config.Bot {
	return c.st.Load().cfg
}

// Modules returns the loaded modules in load order. The returned slice
// is a copy and safe to modify.
func (c *Connection) Modules() []*Module {
	st := c.st.Load()
	modules := make([]*Module, len(st.modules))
	copy(modules, st.modules)
	return modules
}

// ModuleNames returns the loaded module names in load order.
func (c *Connection) ModuleNames() []string {
	st := c.st.Load()
	names := make([]string, 0, len(st.modules))
	for _, m := range st.modules {
		names = append(names, m.name)
	}
	return names
}

// Hooks returns the current hook table. The table is immutable.
func (c *Connection) Hooks() *Table {
	return c.st.Load().hooks
}

// Command looks up a command by name in the current state.
func (c *Connection) Command(name string) (CommandEntry, bool) {
	ce, ok := c.st.Load().commands[name]
	return ce, ok
}

// Commands returns all commands in the current state, sorted by name.
func (c *Connection) Commands() []CommandEntry {
	st := c.st.Load()
	entries := make([]CommandEntry, 0, len(st.commands))
	for _, ce := range st.commands {
		entries = append(entries, ce)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Routes returns the route contributions of all loaded modules, per
// module in load order.
func (c *Connection) Routes() []RouteEntry {
	st := c.st.Load()
	var routes []RouteEntry
	for _, m := range st.modules {
		for _, r := range m.routes {
			routes = append(routes, RouteEntry{Module: m.name, Route: r})
		}
	}
	return routes
}

// Settings returns the plugin settings section of the current
// configuration. Callers must treat the map as read-only.
func (c *Connection) Settings() map[string]any {
	cfg := c.st.Load().cfg
	if cfg == nil {
		return nil
	}
	return cfg.Settings
}

// Store returns the connection-scoped plugin store.
func (c *Connection) Store() plugin.Store {
	return c.store
}

// Nick returns the current nickname from the transport, falling back to
// the configured nick before the transport is attached.
func (c *Connection) Nick() string {
	if m, err := c.messenger(); err == nil {
		return m.Nick()
	}
	return c.st.Load().cfg.Nick
}

// Channels returns the channels the connection occupies, falling back
// to the configured channel list before the transport is attached.
func (c *Connection) Channels() []string {
	if m, err := c.messenger(); err == nil {
		return m.Channels()
	}
	cfg := c.st.Load().cfg
	channels := make([]string, len(cfg.Channels))
	copy(channels, cfg.Channels)
	return channels
}

// Say sends a message to target.
func (c *Connection) Say(target, message string) error {
	m, err := c.messenger()
	if err != nil {
		return err
	}
	return m.Say(target, message)
}

// Notice sends a notice to target.
func (c *Connection) Notice(target, message string) error {
	m, err := c.messenger()
	if err != nil {
		return err
	}
	return m.Notice(target, message)
}

// Action sends a CTCP ACTION to target.
func (c *Connection) Action(target, message string) error {
	m, err := c.messenger()
	if err != nil {
		return err
	}
	return m.Action(target, message)
}

// Join enters a channel.
func (c *Connection) Join(channel string) error {
	m, err := c.messenger()
	if err != nil {
		return err
	}
	return m.Join(channel)
}

// Part leaves a channel.
func (c *Connection) Part(channel string) error {
	m, err := c.messenger()
	if err != nil {
		return err
	}
	return m.Part(channel)
}

var _ plugin.Conn = (*Connection)(nil)
