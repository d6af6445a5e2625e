// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/garrulus/garrulus/internal/auth"
	"github.com/garrulus/garrulus/internal/bot"
	"github.com/garrulus/garrulus/internal/config"
	"github.com/garrulus/garrulus/internal/observability"
	"github.com/garrulus/garrulus/pkg/plugin"
)

// Router is the baseline message hook that resolves prefixed messages
// into command invocations. It is installed on every connection before
// any plugin loads and survives every reload, so command handling never
// depends on plugin health.
type Router struct {
	conn *bot.Connection
	auth *auth.Authorizer
}

// NewRouter creates the command router for conn.
func NewRouter(conn *bot.Connection, authz *auth.Authorizer) *Router {
	return &Router{conn: conn, auth: authz}
}

// OnEvent routes a message event to its command handler, if any.
// Unknown commands stay silent so the bot does not argue with every
// stray exclamation mark. Handler failures are contained here and
// answered with a short chat message; the router itself never fails.
func (r *Router) OnEvent(ctx context.Context, ev *plugin.Event) error {
	if ev.Type != plugin.EventMessage || ev.Action {
		return nil
	}

	cfg := r.conn.Config()
	line, ok := commandLine(cfg, r.conn.Nick(), ev)
	if !ok {
		return nil
	}

	name, argLine := splitCommand(line)
	if name == "" {
		return nil
	}

	ce, found := r.conn.Command(name)
	if !found {
		slog.DebugContext(ctx, "unknown command",
			"connection", r.conn.Name(),
			"command", name,
			"nick", ev.Nick)
		return nil
	}

	if ce.Operator && !r.auth.Authorized(cfg, ev.Mask) {
		slog.InfoContext(ctx, "operator command denied",
			"connection", r.conn.Name(),
			"command", name,
			"mask", ev.Mask)
		r.reply(ctx, ev, UserMessage(ErrPermissionDenied(name)))
		return nil
	}

	cmd := &plugin.Command{
		Event:   ev,
		Name:    name,
		Args:    strings.Fields(argLine),
		ArgLine: argLine,
	}

	if err := r.invoke(ctx, ce, cmd); err != nil {
		observability.RecordHookFailure(ce.Module)
		slog.WarnContext(ctx, "command failed",
			"connection", r.conn.Name(),
			"command", name,
			"module", ce.Module,
			"event_id", ev.ID.String(),
			"error", err)
		r.reply(ctx, ev, UserMessage(err))
	}
	return nil
}

// invoke runs one command handler with panic containment.
func (r *Router) invoke(ctx context.Context, ce bot.CommandEntry, cmd *plugin.Command) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errHookPanic(ce.Module, rec)
		}
	}()
	return ce.Handler(ctx, cmd)
}

func (r *Router) reply(ctx context.Context, ev *plugin.Event, message string) {
	if message == "" {
		return
	}
	if err := ev.Reply(message); err != nil {
		slog.WarnContext(ctx, "command reply failed",
			"connection", r.conn.Name(),
			"error", err)
	}
}

// commandLine extracts the command text from a message: a configured
// sigil prefix, the bot's nick followed by ':' or ',', or any private
// message at all.
func commandLine(cfg *config.Bot, nick string, ev *plugin.Event) (string, bool) {
	text := strings.TrimSpace(ev.Message)
	if text == "" {
		return "", false
	}

	for _, p := range cfg.Prefixes {
		if p != "" && strings.HasPrefix(text, p) && len(text) > len(p) {
			return strings.TrimSpace(text[len(p):]), true
		}
	}

	if nick != "" {
		lower := strings.ToLower(text)
		if strings.HasPrefix(lower, strings.ToLower(nick)) {
			rest := text[len(nick):]
			if len(rest) > 1 && (rest[0] == ':' || rest[0] == ',') {
				return strings.TrimSpace(rest[1:]), true
			}
		}
	}

	if ev.Private() {
		return text, true
	}
	return "", false
}

// splitCommand separates the command name from its argument line. Names
// are matched case-insensitively.
func splitCommand(line string) (name, argLine string) {
	name, argLine, _ = strings.Cut(line, " ")
	return strings.ToLower(name), strings.TrimSpace(argLine)
}
