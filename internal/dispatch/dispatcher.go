// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package dispatch delivers protocol events to hook chains and hosts
// the baseline command routing that keeps a connection usable with zero
// plugins loaded.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/garrulus/garrulus/internal/bot"
	"github.com/garrulus/garrulus/internal/config"
	"github.com/garrulus/garrulus/internal/ident"
	"github.com/garrulus/garrulus/internal/observability"
	"github.com/garrulus/garrulus/pkg/plugin"
)

var tracer = otel.Tracer("garrulus/dispatch")

// Dispatcher walks hook chains for inbound events. It is stateless and
// safe for concurrent use across connections; within one call hooks run
// strictly sequentially.
type Dispatcher struct{}

// NewDispatcher creates a dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Dispatch delivers ev to every hook registered for its type on conn's
// current hook table, in registration order. A failing hook is reported
// and the chain continues; nothing escapes to the caller, so the
// protocol read loop can never be killed by plugin code. Events whose
// sender matches an ignore pattern, or that the bot sent itself, are
// dropped before any hook runs.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *bot.Connection, ev *plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "dispatch failed, event dropped",
				"connection", conn.Name(),
				"type", string(ev.Type),
				"panic", r)
		}
	}()

	if ev.ID.Compare(ulid.ULID{}) == 0 {
		ev.ID = ident.New()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	// One snapshot serves the whole dispatch: the ignore decision and
	// the hook chain always come from the same reload generation.
	snap := conn.Snapshot()

	if d.ignorable(conn, snap.Cfg, ev) {
		observability.RecordIgnored(conn.Name())
		slog.DebugContext(ctx, "event ignored",
			"connection", conn.Name(),
			"mask", ev.Mask,
			"event_id", ev.ID.String())
		return
	}

	observability.RecordDispatch(conn.Name(), string(ev.Type))

	chain := snap.Hooks.Chain(ev.Type)
	if len(chain) == 0 {
		return
	}

	ctx, span := tracer.Start(ctx, "event.dispatch",
		trace.WithAttributes(
			attribute.String("connection.name", conn.Name()),
			attribute.String("event.type", string(ev.Type)),
			attribute.String("event.id", ev.ID.String()),
		),
	)
	defer span.End()

	failures := 0
	for _, entry := range chain {
		if err := d.runHook(ctx, entry, ev); err != nil {
			failures++
			observability.RecordHookFailure(entry.Module)
			slog.WarnContext(ctx, "hook failed",
				"connection", conn.Name(),
				"module", entry.Module,
				"type", string(ev.Type),
				"event_id", ev.ID.String(),
				"error", err)
		}
	}
	if failures > 0 {
		span.SetAttributes(attribute.Int("dispatch.failures", failures))
	}
}

// ignorable reports whether the event should be dropped without running
// any hooks: the bot's own traffic and senders matching an ignore
// pattern.
func (d *Dispatcher) ignorable(conn *bot.Connection, cfg *config.Bot, ev *plugin.Event) bool {
	if ev.Nick != "" && ev.Nick == conn.Nick() {
		return true
	}
	return ev.Mask != "" && cfg.Ignored(ev.Mask)
}

// runHook invokes one hook with panic containment.
func (d *Dispatcher) runHook(ctx context.Context, entry bot.Entry, ev *plugin.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errHookPanic(entry.Module, r)
		}
	}()
	return entry.Hook.OnEvent(ctx, ev)
}
