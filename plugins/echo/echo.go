// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package echo repeats what it is told.
package echo

import (
	"context"

	"github.com/garrulus/garrulus/internal/bot"
	"github.com/garrulus/garrulus/internal/plugin"
	pluginsdk "github.com/garrulus/garrulus/pkg/plugin"
)

func init() {
	plugin.MustRegister(plugin.Spec{
		Name:    "echo",
		Version: "1.0.0",
		Init:    setup,
	})
}

func setup(_ context.Context, _ *bot.Connection, m *bot.Module) error {
	m.Command("echo", "repeat the given text", "echo <text>",
		func(_ context.Context, cmd *pluginsdk.Command) error {
			if cmd.ArgLine == "" {
				return cmd.Reply("echo what?")
			}
			return cmd.Reply(cmd.ArgLine)
		})
	return nil
}
