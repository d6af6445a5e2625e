// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/garrulus/garrulus/internal/xdg"

	// Compiled-in plugins register themselves on import.
	_ "github.com/garrulus/garrulus/plugins/echo"
	_ "github.com/garrulus/garrulus/plugins/ping"
	_ "github.com/garrulus/garrulus/plugins/quotes"
	_ "github.com/garrulus/garrulus/plugins/seen"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the garrulus CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "garrulus",
		Short: "Garrulus - a pluggable IRC bot",
		Long: `Garrulus is a long-running IRC bot built around hot-reloadable plugins.
Compiled-in Go plugins and sandboxed Lua scripts share one hook runtime
across any number of server connections, and a reload swaps configuration,
plugins, and HTTP routes without dropping a connection.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "garrulus.yaml", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewCheckConfigCmd())
	cmd.AddCommand(NewGenSchemaCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// resolveConfigPath returns the configuration file path to use. An
// explicit --config wins; otherwise a garrulus.yaml in the working
// directory is preferred over one in the XDG config directory.
func resolveConfigPath(cmd *cobra.Command) string {
	if cmd.Flags().Changed("config") {
		return configFile
	}
	if _, err := os.Stat(configFile); err == nil {
		return configFile
	}
	if fallback := xdg.ConfigFile(); fallback != "" {
		if _, err := os.Stat(fallback); err == nil {
			return fallback
		}
	}
	return configFile
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("garrulus %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
