// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/garrulus/garrulus/internal/auth"
	"github.com/garrulus/garrulus/internal/bot"
	"github.com/garrulus/garrulus/pkg/plugin"
)

// Reloader triggers a full refresh of configuration, plugins, and the
// served route table.
type Reloader interface {
	ReloadAll(ctx context.Context) error
}

// Builtins supplies the baseline state every connection starts with:
// the command router hook and the core command set. The reloader is
// attached late because it is constructed after the connections it
// manages.
type Builtins struct {
	auth *auth.Authorizer

	mu       sync.Mutex
	reloader Reloader
}

// NewBuiltins creates the baseline builder.
func NewBuiltins(authz *auth.Authorizer) *Builtins {
	return &Builtins{auth: authz}
}

// SetReloader attaches the reload coordinator backing the reload
// command.
func (b *Builtins) SetReloader(r Reloader) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reloader = r
}

func (b *Builtins) getReloader() Reloader {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reloader
}

// Baseline builds the hook table and command set for conn. Passed to
// bot.NewConnection via bot.WithBaseline; the result is folded into
// every state the connection ever publishes.
func (b *Builtins) Baseline(conn *bot.Connection) (*bot.Table, []bot.CommandEntry) {
	table := bot.NewTable()
	table.Add(plugin.EventMessage, bot.Entry{Module: "core", Hook: NewRouter(conn, b.auth)})
	return table, b.commands(conn)
}

func (b *Builtins) commands(conn *bot.Connection) []bot.CommandEntry {
	return []bot.CommandEntry{
		{
			Name:    "help",
			Module:  "core",
			Help:    "list commands or show usage for one",
			Usage:   "help [command]",
			Handler: b.helpCommand(conn),
		},
		{
			Name:    "plugins",
			Module:  "core",
			Help:    "list loaded plugins",
			Usage:   "plugins",
			Handler: b.pluginsCommand(conn),
		},
		{
			Name:    "auth",
			Module:  "core",
			Help:    "authenticate as operator, private message only",
			Usage:   "auth <password>|off",
			Handler: b.authCommand(conn),
		},
		{
			Name:     "reload",
			Module:   "core",
			Help:     "reload configuration and all plugins",
			Usage:    "reload",
			Operator: true,
			Handler:  b.reloadCommand(conn),
		},
		{
			Name:     "join",
			Module:   "core",
			Help:     "join a channel",
			Usage:    "join <channel>",
			Operator: true,
			Handler:  b.joinCommand(conn),
		},
		{
			Name:     "part",
			Module:   "core",
			Help:     "leave a channel",
			Usage:    "part [channel]",
			Operator: true,
			Handler:  b.partCommand(conn),
		},
		{
			Name:     "say",
			Module:   "core",
			Help:     "send a message somewhere",
			Usage:    "say <target> <message>",
			Operator: true,
			Handler:  b.sayCommand(conn),
		},
	}
}

func (b *Builtins) helpCommand(conn *bot.Connection) plugin.CommandHandler {
	return func(_ context.Context, cmd *plugin.Command) error {
		if len(cmd.Args) > 0 {
			name := strings.ToLower(cmd.Args[0])
			ce, ok := conn.Command(name)
			if !ok {
				return cmd.Reply("No such command: " + name)
			}
			line := ce.Name
			if ce.Usage != "" {
				line = ce.Usage
			}
			if ce.Help != "" {
				line += " - " + ce.Help
			}
			if ce.Operator {
				line += " (operator)"
			}
			return cmd.Reply(line)
		}

		entries := conn.Commands()
		names := make([]string, 0, len(entries))
		for _, ce := range entries {
			name := ce.Name
			if ce.Operator {
				name += "*"
			}
			names = append(names, name)
		}
		return cmd.Reply("Commands: " + strings.Join(names, ", "))
	}
}

func (b *Builtins) pluginsCommand(conn *bot.Connection) plugin.CommandHandler {
	return func(_ context.Context, cmd *plugin.Command) error {
		names := conn.ModuleNames()
		if len(names) == 0 {
			return cmd.Reply("No plugins loaded.")
		}
		return cmd.Reply("Plugins: " + strings.Join(names, ", "))
	}
}

func (b *Builtins) authCommand(conn *bot.Connection) plugin.CommandHandler {
	return func(ctx context.Context, cmd *plugin.Command) error {
		if !cmd.Private() {
			// The password just hit a public channel. Refuse, and make
			// sure the sender knows it is burned.
			slog.WarnContext(ctx, "auth attempted in channel",
				"connection", conn.Name(),
				"channel", cmd.Channel,
				"mask", cmd.Mask)
			return cmd.Reply("auth only works in a private message. If that was your password, change it.")
		}
		if cmd.ArgLine == "" {
			return ErrInvalidArgs("auth", "auth <password>|off")
		}
		if strings.EqualFold(cmd.ArgLine, "off") {
			b.auth.Logout(conn.Name(), cmd.Mask)
			return cmd.Reply("Session cleared.")
		}
		if err := b.auth.Login(conn.Config(), cmd.Mask, cmd.ArgLine); err != nil {
			slog.WarnContext(ctx, "authentication failed",
				"connection", conn.Name(),
				"mask", cmd.Mask)
			return err
		}
		slog.InfoContext(ctx, "operator authenticated",
			"connection", conn.Name(),
			"mask", cmd.Mask)
		return cmd.Reply("You are now authorized.")
	}
}

func (b *Builtins) reloadCommand(conn *bot.Connection) plugin.CommandHandler {
	return func(ctx context.Context, cmd *plugin.Command) error {
		r := b.getReloader()
		if r == nil {
			return oops.Code(CodeReloadFailed).Errorf("no reloader configured")
		}
		slog.InfoContext(ctx, "reload requested",
			"connection", conn.Name(),
			"mask", cmd.Mask)
		if err := r.ReloadAll(ctx); err != nil {
			return oops.Code(CodeReloadFailed).Wrap(err)
		}
		return cmd.Reply("Reload complete.")
	}
}

func (b *Builtins) joinCommand(conn *bot.Connection) plugin.CommandHandler {
	return func(_ context.Context, cmd *plugin.Command) error {
		if len(cmd.Args) != 1 {
			return ErrInvalidArgs("join", "join <channel>")
		}
		return conn.Join(cmd.Args[0])
	}
}

func (b *Builtins) partCommand(conn *bot.Connection) plugin.CommandHandler {
	return func(_ context.Context, cmd *plugin.Command) error {
		switch {
		case len(cmd.Args) > 0:
			return conn.Part(cmd.Args[0])
		case !cmd.Private():
			return conn.Part(cmd.Channel)
		default:
			return ErrInvalidArgs("part", "part [channel]")
		}
	}
}

func (b *Builtins) sayCommand(conn *bot.Connection) plugin.CommandHandler {
	return func(_ context.Context, cmd *plugin.Command) error {
		target, message, ok := strings.Cut(cmd.ArgLine, " ")
		message = strings.TrimSpace(message)
		if !ok || target == "" || message == "" {
			return ErrInvalidArgs("say", "say <target> <message>")
		}
		return conn.Say(target, message)
	}
}
