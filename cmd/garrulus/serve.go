// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/garrulus/garrulus/internal/auth"
	"github.com/garrulus/garrulus/internal/bot"
	"github.com/garrulus/garrulus/internal/config"
	"github.com/garrulus/garrulus/internal/dispatch"
	"github.com/garrulus/garrulus/internal/irc"
	"github.com/garrulus/garrulus/internal/logging"
	"github.com/garrulus/garrulus/internal/observability"
	"github.com/garrulus/garrulus/internal/plugin"
	"github.com/garrulus/garrulus/internal/plugin/lua"
	"github.com/garrulus/garrulus/internal/reload"
	"github.com/garrulus/garrulus/internal/web"
	"github.com/garrulus/garrulus/pkg/errutil"
)

// shutdownTimeout bounds how long the HTTP servers get to drain.
const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot",
		Long: `Connect every configured bot to its IRC server, load plugins, and
serve plugin HTTP routes. SIGHUP reloads configuration, plugins, and
routes without dropping connections.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}

	// Overrides layered over the config file; an unset flag leaves the
	// file value alone.
	cmd.Flags().String("log-format", "", "override log_format (json or text)")
	cmd.Flags().String("log-level", "", "override log_level")
	cmd.Flags().String("http-addr", "", "override http_addr for plugin routes")
	cmd.Flags().String("metrics-addr", "", "override metrics_addr")
	cmd.Flags().String("script-dir", "", "override script_dir for Lua plugins")
	cmd.Flags().Bool("watch-config", false, "override watch_config")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	configPath := resolveConfigPath(cmd)
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}
	if len(cfg.Bots) == 0 {
		return oops.Code(config.CodeInvalidConfig).
			With("path", configPath).
			Errorf("no bots configured")
	}

	logging.SetDefault("garrulus", version, cfg.LogFormat, cfg.LogLevel)
	slog.Info("starting garrulus",
		"version", version,
		"config", configPath,
		"bots", len(cfg.Bots))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	authz := auth.New()
	defer authz.Stop()

	builtins := dispatch.NewBuiltins(authz)
	registry := bot.NewRegistry()
	for _, bc := range cfg.Bots {
		if err := registry.Add(bot.NewConnection(bc, bot.WithBaseline(builtins.Baseline))); err != nil {
			return err
		}
	}

	if err := registerScripts(ctx, cfg.ScriptDir); err != nil {
		return err
	}

	loader := plugin.NewLoader()
	webServer := web.NewServer(cfg.HTTPAddr)

	source := &config.FileSource{Path: configPath, Flags: cmd.Flags()}
	opts := []reload.Option{reload.WithWebServer(webServer)}
	if cfg.ScriptDir != "" {
		dir := cfg.ScriptDir
		opts = append(opts, reload.WithRefresh(func(ctx context.Context) error {
			return registerScripts(ctx, dir)
		}))
	}
	coordinator := reload.NewCoordinator(registry, loader, source, opts...)
	builtins.SetReloader(coordinator)

	// Initial population. Plugin failures are logged and skipped, same
	// as during a reload.
	for _, conn := range registry.All() {
		loaded := loader.LoadAll(ctx, conn)
		slog.Info("connection prepared",
			"connection", conn.Name(),
			"plugins_loaded", loaded,
			"plugins_configured", len(conn.Config().Plugins))
	}
	webServer.Install(web.Collect(registry))

	webErrChan, err := webServer.Start()
	if err != nil {
		return err
	}
	go monitorServerErrors(ctx, cancel, webErrChan, "web")
	slog.Info("route server started", "addr", webServer.Addr())

	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		// Everything is wired by this point, so the process is ready as
		// soon as the listener is up.
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool { return true })
		obsErrChan, err := obsServer.Start()
		if err != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if stopErr := webServer.Stop(stopCtx); stopErr != nil {
				slog.Warn("failed to stop route server during cleanup", "error", stopErr)
			}
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	dispatcher := dispatch.NewDispatcher()
	var wg sync.WaitGroup
	for _, conn := range registry.All() {
		client := irc.NewClient(conn, dispatcher)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if runErr := client.Run(ctx); runErr != nil {
				errutil.LogErrorCtx(ctx, runErr, "connection terminated")
			}
		}()
	}

	if cfg.WatchConfig {
		if err := coordinator.WatchConfig(ctx, configPath); err != nil {
			errutil.LogErrorCtx(ctx, err, "config watch unavailable, reload via SIGHUP still works")
		}
	}

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	cmd.Println("Garrulus started")
	slog.Info("garrulus ready",
		"connections", registry.Len(),
		"http_addr", webServer.Addr(),
		"plugins", plugin.Names())

	// Wait for shutdown, reloading on SIGHUP.
loop:
	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, reloading")
				go func() {
					if reloadErr := coordinator.ReloadAll(ctx); reloadErr != nil {
						errutil.LogErrorCtx(ctx, reloadErr, "reload failed")
					}
				}()
				continue
			}
			slog.Info("received shutdown signal", "signal", sig)
			break loop
		case <-ctx.Done():
			slog.Info("context cancelled, shutting down")
			break loop
		}
	}

	// Graceful shutdown: transports drain first so module cleanups do
	// not race in-flight dispatches.
	slog.Info("shutting down...")
	cancel()
	wg.Wait()

	coordinator.TeardownAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}
	if err := webServer.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping route server", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// registerScripts discovers Lua plugin directories and registers each
// script as an ordinary plugin, replacing any previous registration so
// script edits take effect on the next load.
func registerScripts(ctx context.Context, scriptDir string) error {
	if scriptDir == "" {
		return nil
	}
	specs, err := lua.Discover(scriptDir)
	if err != nil {
		return err
	}
	for _, s := range specs {
		if err := plugin.Register(s); err != nil {
			errutil.LogErrorCtx(ctx, err, "skipping invalid scripted plugin")
		}
	}
	if len(specs) > 0 {
		slog.Info("registered scripted plugins", "dir", scriptDir, "count", len(specs))
	}
	return nil
}

// monitorServerErrors cancels the run context when a server reports a
// fatal error. A closed channel means a graceful stop.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errChan <-chan error, serverName string) {
	select {
	case err, ok := <-errChan:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
