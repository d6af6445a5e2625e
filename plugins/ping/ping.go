// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package ping answers liveness checks.
package ping

import (
	"context"

	"github.com/garrulus/garrulus/internal/bot"
	"github.com/garrulus/garrulus/internal/plugin"
	pluginsdk "github.com/garrulus/garrulus/pkg/plugin"
)

func init() {
	plugin.MustRegister(plugin.Spec{
		Name:    "ping",
		Version: "1.0.0",
		Init:    setup,
	})
}

func setup(_ context.Context, _ *bot.Connection, m *bot.Module) error {
	m.Command("ping", "check that the bot is alive", "ping",
		func(_ context.Context, cmd *pluginsdk.Command) error {
			return cmd.Reply("pong")
		})
	return nil
}
