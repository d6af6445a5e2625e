// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package lua

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/garrulus/garrulus/internal/bot"
	plugins "github.com/garrulus/garrulus/internal/plugin"
	pluginsdk "github.com/garrulus/garrulus/pkg/plugin"
)

// Discover scans scriptDir for plugin directories and returns a spec
// per valid script, ready for registration. A plugin directory holds a
// plugin.yaml manifest next to its entry script. Directories with a
// missing or invalid manifest, a missing entry, or a syntax error are
// logged and skipped. A missing scriptDir is not an error.
func Discover(scriptDir string) ([]plugins.Spec, error) {
	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.In("lua").With("dir", scriptDir).Wrap(err)
	}

	var specs []plugins.Spec
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(scriptDir, entry.Name())
		data, err := os.ReadFile(filepath.Join(dir, "plugin.yaml"))
		if err != nil {
			slog.Warn("skipping script directory without manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		m, err := ParseManifest(data)
		if err != nil {
			slog.Warn("skipping script with invalid manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		source, err := os.ReadFile(filepath.Clean(filepath.Join(dir, m.Main)))
		if err != nil {
			slog.Warn("skipping script with missing entry file",
				"plugin", m.Name,
				"main", m.Main,
				"error", err)
			continue
		}

		if err := checkSyntax(string(source)); err != nil {
			slog.Warn("skipping script with syntax error",
				"plugin", m.Name,
				"main", m.Main,
				"error", err)
			continue
		}

		specs = append(specs, Spec(m, string(source)))
	}

	return specs, nil
}

// Spec wraps a parsed manifest and its script source into an ordinary
// plugin spec. Loading the spec executes the script in a fresh sandbox
// attached to the target connection.
func Spec(m *Manifest, source string) plugins.Spec {
	name := m.Name
	return plugins.Spec{
		Name:    name,
		Version: m.Version,
		Init: func(ctx context.Context, conn *bot.Connection, mod *bot.Module) error {
			return attach(ctx, name, source, conn, mod)
		},
	}
}

// checkSyntax compiles source in a throwaway sandbox without running it.
func checkSyntax(source string) error {
	L, err := newState()
	if err != nil {
		return err
	}
	defer L.Close()
	_, err = L.LoadString(source)
	return err
}

// script is one attached Lua plugin. The interpreter persists for the
// lifetime of the load so scripts can keep state in globals; the mutex
// serializes entry because an LState is not safe for concurrent use.
type script struct {
	name string
	conn *bot.Connection

	mu       sync.Mutex
	L        *lua.LState
	sealed   bool
	closed   bool
	cleanups []*lua.LFunction
}

// attach runs the script against a fresh sandbox. The script's
// top-level code performs its registrations through the garrulus.*
// table; afterwards the registration surface is sealed and only the
// registered handlers can re-enter the interpreter.
func attach(ctx context.Context, name, source string, conn *bot.Connection, mod *bot.Module) error {
	L, err := newState()
	if err != nil {
		return oops.In("lua").With("plugin", name).Wrap(err)
	}

	s := &script{name: name, conn: conn, L: L}
	s.install(mod)

	L.SetContext(ctx)
	if err := L.DoString(source); err != nil {
		L.Close()
		return oops.In("lua").With("plugin", name).Hint("script failed during load").Wrap(err)
	}
	s.sealed = true

	mod.OnCleanup(s.close)
	return nil
}

// close runs the script's registered cleanup functions and shuts the
// interpreter down.
func (s *script) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	for _, fn := range s.cleanups {
		if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
			slog.Warn("script cleanup failed",
				"plugin", s.name,
				"error", err)
		}
	}
	s.L.Close()
}

// install publishes the garrulus.* API table into the interpreter.
func (s *script) install(mod *bot.Module) {
	L := s.L
	api := L.NewTable()

	// Registration surface, valid during load only.
	L.SetField(api, "command", L.NewFunction(s.commandFn(mod, false)))
	L.SetField(api, "operator_command", L.NewFunction(s.commandFn(mod, true)))
	L.SetField(api, "hook", L.NewFunction(s.hookFn(mod)))
	L.SetField(api, "cleanup", L.NewFunction(s.cleanupFn()))

	// Connection surface.
	L.SetField(api, "say", L.NewFunction(s.sendFn(s.conn.Say)))
	L.SetField(api, "notice", L.NewFunction(s.sendFn(s.conn.Notice)))
	L.SetField(api, "action", L.NewFunction(s.sendFn(s.conn.Action)))
	L.SetField(api, "join", L.NewFunction(s.channelFn(s.conn.Join)))
	L.SetField(api, "part", L.NewFunction(s.channelFn(s.conn.Part)))
	L.SetField(api, "nick", L.NewFunction(s.nickFn()))

	// Ambient helpers.
	L.SetField(api, "log", L.NewFunction(s.logFn()))
	L.SetField(api, "kv_get", L.NewFunction(s.kvGetFn()))
	L.SetField(api, "kv_set", L.NewFunction(s.kvSetFn()))
	L.SetField(api, "kv_delete", L.NewFunction(s.kvDeleteFn()))
	L.SetField(api, "kv_keys", L.NewFunction(s.kvKeysFn()))

	L.SetGlobal("garrulus", api)
}

// commandFn registers a command handler.
// Lua signature: garrulus.command(name, help, usage, fn)
func (s *script) commandFn(mod *bot.Module, operator bool) lua.LGFunction {
	return func(L *lua.LState) int {
		if s.sealed {
			L.RaiseError("garrulus.command: commands must be registered at load time")
			return 0
		}
		name := L.CheckString(1)
		help := L.CheckString(2)
		usage := L.CheckString(3)
		fn := L.CheckFunction(4)

		handler := s.commandHandler(fn)
		if operator {
			mod.OperatorCommand(name, help, usage, handler)
		} else {
			mod.Command(name, help, usage, handler)
		}
		return 0
	}
}

// hookFn registers an event hook.
// Lua signature: garrulus.hook(event_type, fn)
func (s *script) hookFn(mod *bot.Module) lua.LGFunction {
	return func(L *lua.LState) int {
		if s.sealed {
			L.RaiseError("garrulus.hook: hooks must be registered at load time")
			return 0
		}
		eventType := L.CheckString(1)
		fn := L.CheckFunction(2)

		mod.HookFunc(pluginsdk.EventType(eventType), s.hookHandler(fn))
		return 0
	}
}

// cleanupFn registers a function to run when the plugin unloads.
// Lua signature: garrulus.cleanup(fn)
func (s *script) cleanupFn() lua.LGFunction {
	return func(L *lua.LState) int {
		if s.sealed {
			L.RaiseError("garrulus.cleanup: cleanups must be registered at load time")
			return 0
		}
		s.cleanups = append(s.cleanups, L.CheckFunction(1))
		return 0
	}
}

// commandHandler adapts a Lua function to the command contract. A
// string return value is sent back to wherever the command came from.
func (s *script) commandHandler(fn *lua.LFunction) pluginsdk.CommandHandler {
	return func(ctx context.Context, cmd *pluginsdk.Command) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return nil
		}

		s.L.SetContext(ctx)
		if err := s.L.CallByParam(lua.P{
			Fn:      fn,
			NRet:    1,
			Protect: true,
		}, s.commandTable(cmd)); err != nil {
			return oops.In("lua").
				With("plugin", s.name).
				With("command", cmd.Name).
				Wrap(err)
		}

		ret := s.L.Get(-1)
		s.L.Pop(1)
		if reply, ok := ret.(lua.LString); ok && reply != "" {
			return s.conn.Say(cmd.ReplyTarget(), string(reply))
		}
		return nil
	}
}

// hookHandler adapts a Lua function to the hook contract. A string
// return value is sent to the event's reply target when it has one.
func (s *script) hookHandler(fn *lua.LFunction) pluginsdk.HookFunc {
	return func(ctx context.Context, ev *pluginsdk.Event) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return nil
		}

		s.L.SetContext(ctx)
		if err := s.L.CallByParam(lua.P{
			Fn:      fn,
			NRet:    1,
			Protect: true,
		}, s.eventTable(ev)); err != nil {
			return oops.In("lua").
				With("plugin", s.name).
				With("event_type", string(ev.Type)).
				Wrap(err)
		}

		ret := s.L.Get(-1)
		s.L.Pop(1)
		if reply, ok := ret.(lua.LString); ok && reply != "" {
			if target := ev.ReplyTarget(); target != "" {
				return s.conn.Say(target, string(reply))
			}
		}
		return nil
	}
}

func (s *script) commandTable(cmd *pluginsdk.Command) *lua.LTable {
	L := s.L
	t := L.NewTable()
	L.SetField(t, "name", lua.LString(cmd.Name))
	L.SetField(t, "arg_line", lua.LString(cmd.ArgLine))
	L.SetField(t, "nick", lua.LString(cmd.Nick))
	L.SetField(t, "user", lua.LString(cmd.User))
	L.SetField(t, "host", lua.LString(cmd.Host))
	L.SetField(t, "mask", lua.LString(cmd.Mask))
	L.SetField(t, "channel", lua.LString(cmd.Channel))
	L.SetField(t, "private", lua.LBool(cmd.Private()))

	args := L.NewTable()
	for i, arg := range cmd.Args {
		args.RawSetInt(i+1, lua.LString(arg))
	}
	L.SetField(t, "args", args)
	return t
}

func (s *script) eventTable(ev *pluginsdk.Event) *lua.LTable {
	L := s.L
	t := L.NewTable()
	L.SetField(t, "id", lua.LString(ev.ID.String()))
	L.SetField(t, "type", lua.LString(string(ev.Type)))
	L.SetField(t, "time", lua.LNumber(ev.Time.Unix()))
	L.SetField(t, "nick", lua.LString(ev.Nick))
	L.SetField(t, "user", lua.LString(ev.User))
	L.SetField(t, "host", lua.LString(ev.Host))
	L.SetField(t, "mask", lua.LString(ev.Mask))
	L.SetField(t, "channel", lua.LString(ev.Channel))
	L.SetField(t, "message", lua.LString(ev.Message))
	L.SetField(t, "action", lua.LBool(ev.Action))
	L.SetField(t, "private", lua.LBool(ev.Private()))
	return t
}

// sendFn wraps a two-argument outbound call.
// Lua signature: err = garrulus.say(target, message)
func (s *script) sendFn(send func(target, message string) error) lua.LGFunction {
	return func(L *lua.LState) int {
		target := L.CheckString(1)
		message := L.CheckString(2)
		if err := send(target, message); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		return 0
	}
}

// channelFn wraps a single-channel outbound call.
// Lua signature: err = garrulus.join(channel)
func (s *script) channelFn(do func(channel string) error) lua.LGFunction {
	return func(L *lua.LState) int {
		channel := L.CheckString(1)
		if err := do(channel); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		return 0
	}
}

// nickFn reports the bot's current nick.
// Lua signature: nick = garrulus.nick()
func (s *script) nickFn() lua.LGFunction {
	return func(L *lua.LState) int {
		L.Push(lua.LString(s.conn.Nick()))
		return 1
	}
}

// logFn writes to the process log with the plugin attached.
// Lua signature: garrulus.log(level, message)
func (s *script) logFn() lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		logger := slog.Default().With("plugin", s.name, "connection", s.conn.Name())
		switch level {
		case "debug":
			logger.Debug(message)
		case "info":
			logger.Info(message)
		case "warn":
			logger.Warn(message)
		case "error":
			logger.Error(message)
		default:
			logger.Info(message)
		}
		return 0
	}
}

// Scripts share the connection store with compiled plugins; the bucket
// is the plugin name.

// kvGetFn reads one key.
// Lua signature: value, err = garrulus.kv_get(key)
func (s *script) kvGetFn() lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)

		value, ok, err := s.conn.Store().Get(context.Background(), s.name, key)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		if !ok {
			L.Push(lua.LNil)
			L.Push(lua.LNil)
			return 2
		}
		L.Push(lua.LString(value))
		L.Push(lua.LNil)
		return 2
	}
}

// kvSetFn writes one key.
// Lua signature: err = garrulus.kv_set(key, value)
func (s *script) kvSetFn() lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)
		value := L.CheckString(2)

		if err := s.conn.Store().Put(context.Background(), s.name, key, value); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		return 0
	}
}

// kvDeleteFn removes one key.
// Lua signature: err = garrulus.kv_delete(key)
func (s *script) kvDeleteFn() lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)

		if err := s.conn.Store().Delete(context.Background(), s.name, key); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		return 0
	}
}

// kvKeysFn lists the plugin's keys.
// Lua signature: keys, err = garrulus.kv_keys()
func (s *script) kvKeysFn() lua.LGFunction {
	return func(L *lua.LState) int {
		keys, err := s.conn.Store().Keys(context.Background(), s.name)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}

		t := L.NewTable()
		for i, key := range keys {
			t.RawSetInt(i+1, lua.LString(key))
		}
		L.Push(t)
		L.Push(lua.LNil)
		return 2
	}
}
