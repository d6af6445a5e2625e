// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/garrulus/garrulus/internal/config"
	"github.com/garrulus/garrulus/internal/plugin"
	"github.com/garrulus/garrulus/internal/plugin/lua"
)

// NewCheckConfigCmd creates the check-config subcommand.
func NewCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file",
		Long: `Validate the configuration file against the generated JSON Schema and
the semantic rules: unique bot names, required fields, compilable
hostmask patterns. Plugin names that resolve to nothing are reported
but not fatal.`,
		RunE: runCheckConfig,
	}
}

func runCheckConfig(cmd *cobra.Command, _ []string) error {
	configPath := resolveConfigPath(cmd)
	data, err := os.ReadFile(configPath)
	if err != nil {
		return oops.Code(config.CodeReadFailed).With("path", configPath).Wrap(err)
	}
	if err := config.ValidateSchema(data); err != nil {
		return oops.Code(config.CodeInvalidConfig).With("path", configPath).Wrap(err)
	}

	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return err
	}

	known := knownPlugins(cfg.ScriptDir)
	cmd.Printf("%s: OK (%d bots)\n", configPath, len(cfg.Bots))
	for _, b := range cfg.Bots {
		cmd.Printf("  %s: %s nick=%s plugins=%d\n",
			b.Name, b.Server.Addr, b.Nick, len(b.Plugins))
		for _, name := range b.Plugins {
			if !known[name] {
				cmd.Printf("    warning: plugin %q is not compiled in and no script provides it\n", name)
			}
		}
	}
	return nil
}

// knownPlugins collects every resolvable plugin name: compiled-in
// registrations plus scripts discovered under scriptDir.
func knownPlugins(scriptDir string) map[string]bool {
	known := make(map[string]bool)
	for _, name := range plugin.Names() {
		known[name] = true
	}
	if scriptDir != "" {
		if specs, err := lua.Discover(scriptDir); err == nil {
			for _, s := range specs {
				known[s.Name] = true
			}
		}
	}
	return known
}
