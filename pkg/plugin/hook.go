// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package plugin

import "context"

// Hook handles one dispatched event. Implementations run sequentially in
// registration order; a returned error (or panic) is reported against the
// owning module and never stops the remaining hooks in the chain.
type Hook interface {
	OnEvent(ctx context.Context, ev *Event) error
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx context.Context, ev *Event) error

// OnEvent calls f.
func (f HookFunc) OnEvent(ctx context.Context, ev *Event) error {
	return f(ctx, ev)
}

// Command is the parsed invocation handed to a command handler. The
// originating event is embedded, so handlers can reply and inspect the
// sender directly.
type Command struct {
	*Event

	// Name is the resolved command name the handler was registered under.
	Name string

	// Args holds the whitespace-split arguments after the command name.
	Args []string

	// ArgLine is the untokenized remainder after the command name.
	ArgLine string
}

// CommandHandler executes one command invocation. Failures are reported
// against the owning module and never reach other handlers.
type CommandHandler func(ctx context.Context, cmd *Command) error
