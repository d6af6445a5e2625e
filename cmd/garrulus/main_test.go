// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	subcommands := []string{"serve", "check-config", "gen-schema", "version"}
	for _, sub := range subcommands {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "config flag with space",
			args:     []string{"--config", "/path/to/config.yaml", "--help"},
			wantFlag: "/path/to/config.yaml",
		},
		{
			name:     "config flag with equals",
			args:     []string{"--config=/etc/garrulus.yaml", "--help"},
			wantFlag: "/etc/garrulus.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Reset global
			configFile = ""

			cmd := NewRootCmd()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestRootCommand_ConfigFlagDefault(t *testing.T) {
	configFile = ""

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "garrulus.yaml", configFile)
}

func TestResolveConfigPath(t *testing.T) {
	newParsedRoot := func(t *testing.T, args ...string) *cobra.Command {
		t.Helper()
		configFile = ""
		cmd := NewRootCmd()
		require.NoError(t, cmd.ParseFlags(args))
		return cmd
	}

	t.Run("explicit flag wins", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		cmd := newParsedRoot(t, "--config", "/explicit/path.yaml")
		assert.Equal(t, "/explicit/path.yaml", resolveConfigPath(cmd))
	})

	t.Run("working directory beats XDG", func(t *testing.T) {
		xdgDir := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", xdgDir)
		writeDefaultConfig(t, filepath.Join(xdgDir, "garrulus"))

		workDir := t.TempDir()
		writeDefaultConfig(t, workDir)
		t.Chdir(workDir)

		cmd := newParsedRoot(t)
		assert.Equal(t, "garrulus.yaml", resolveConfigPath(cmd))
	})

	t.Run("falls back to XDG config dir", func(t *testing.T) {
		xdgDir := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", xdgDir)
		fallback := writeDefaultConfig(t, filepath.Join(xdgDir, "garrulus"))
		t.Chdir(t.TempDir())

		cmd := newParsedRoot(t)
		assert.Equal(t, fallback, resolveConfigPath(cmd))
	})

	t.Run("keeps default when nothing exists", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		t.Chdir(t.TempDir())

		cmd := newParsedRoot(t)
		assert.Equal(t, "garrulus.yaml", resolveConfigPath(cmd))
	})
}

// writeDefaultConfig creates dir/garrulus.yaml and returns its path.
func writeDefaultConfig(t *testing.T, dir string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o750))
	path := filepath.Join(dir, "garrulus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bots: []\n"), 0o600))
	return path
}

func TestRootCommand_LongDescription(t *testing.T) {
	cmd := NewRootCmd()

	assert.Equal(t, "garrulus", cmd.Use)
	assert.Contains(t, cmd.Long, "IRC bot", "Long description should say what the program is")
	assert.Contains(t, cmd.Long, "plugins", "Long description should mention plugins")
}

func TestRootCommand_VersionFlag(t *testing.T) {
	cmd := NewRootCmd()
	cmd.Version = "test-version"
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "test-version")
}

func TestVersionCommand(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "garrulus dev (commit: unknown")
}
