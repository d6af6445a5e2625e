// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garrulus/garrulus/internal/config"
	"github.com/garrulus/garrulus/pkg/errutil"
)

func TestServe_MissingConfig(t *testing.T) {
	_, err := runRoot(t, "serve", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, config.CodeReadFailed)
}

func TestServe_NoBots(t *testing.T) {
	path := writeConfig(t, "bots: []\n")

	_, err := runRoot(t, "serve", "--config", path)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, config.CodeInvalidConfig)
}

func TestServe_StartsReloadsAndStops(t *testing.T) {
	// A silent stand-in for an IRC server: accept and discard.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, acceptErr := ln.Accept()
			if acceptErr != nil {
				return
			}
			go func() { _, _ = io.Copy(io.Discard, c) }()
		}
	}()

	// Keep SIGHUP from terminating the test binary even if it lands
	// before serve registers its own handler.
	guard := make(chan os.Signal, 1)
	signal.Notify(guard, syscall.SIGHUP)
	t.Cleanup(func() { signal.Stop(guard) })

	path := writeConfig(t, fmt.Sprintf(`
log_level: error
http_addr: "127.0.0.1:0"
metrics_addr: "127.0.0.1:0"
bots:
  - name: testnet
    server:
      addr: %q
    nick: garrulus
    plugins: [ping]
`, ln.Addr().String()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"serve", "--config", path})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	// Let startup settle, poke a reload, then stop.
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))
	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after context cancellation")
	}
	assert.Contains(t, buf.String(), "Garrulus started")
}
