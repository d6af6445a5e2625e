// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package reload

import (
	"context"
	"log/slog"
	"time"

	"github.com/knadh/koanf/providers/file"
	"github.com/samber/oops"

	"github.com/garrulus/garrulus/pkg/errutil"
)

// Editors write config files in bursts; wait for them to settle.
const debounceDuration = 100 * time.Millisecond

// WatchConfig reloads everything whenever the configuration file
// changes, debounced. Watching stops when ctx is canceled.
func (c *Coordinator) WatchConfig(ctx context.Context, path string) error {
	provider := file.Provider(path)
	err := provider.Watch(func(_ any, watchErr error) {
		if ctx.Err() != nil {
			return
		}
		if watchErr != nil {
			slog.Warn("config watch error",
				"path", path,
				"error", watchErr)
			return
		}
		c.scheduleReload(ctx)
	})
	if err != nil {
		return oops.With("path", path).Hint("failed to watch config file").Wrap(err)
	}

	go func() {
		<-ctx.Done()
		if uerr := provider.Unwatch(); uerr != nil {
			slog.Debug("config unwatch failed", "path", path, "error", uerr)
		}
	}()

	slog.Info("watching configuration file", "path", path)
	return nil
}

func (c *Coordinator) scheduleReload(ctx context.Context) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(debounceDuration, func() {
		if ctx.Err() != nil {
			return
		}
		slog.Info("configuration changed, reloading")
		start := time.Now()
		if err := c.ReloadAll(ctx); err != nil {
			errutil.LogErrorCtx(ctx, err, "automatic reload failed")
			return
		}
		slog.Info("automatic reload complete",
			"duration", time.Since(start).Round(time.Millisecond).String())
	})
}
