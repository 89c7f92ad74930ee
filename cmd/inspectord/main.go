// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command inspectord runs the inspector as a standalone process, for a
// host framework that would rather shell out to a sidecar than embed the
// sdk package directly.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tombee/mcp-agent-inspector/internal/config"
	"github.com/tombee/mcp-agent-inspector/internal/exporter"
	"github.com/tombee/mcp-agent-inspector/internal/lifecycle"
	"github.com/tombee/mcp-agent-inspector/internal/log"
	"github.com/tombee/mcp-agent-inspector/sdk"
)

// Version information (injected via ldflags at build time).
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// maintenanceInterval is how often the daemon prunes trace files against
// the retention policy. This is independent of any individual export: a
// session that finished hours ago must still eventually be reaped even if
// nothing new is ever exported.
const maintenanceInterval = 10 * time.Minute

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config file (default: XDG config dir)")
		port        = flag.Int("port", 0, "Override configured port")
		tracesDir   = flag.String("traces-dir", "", "Override configured traces directory")
		pidFile     = flag.String("pid-file", "", "PID file path (default: XDG runtime dir)")
		logFile     = flag.String("log-file", "", "Lifecycle event log path (default: XDG state dir)")
		metrics     = flag.Bool("metrics", false, "Mount /metrics with the inspector's own operational metrics")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("inspectord %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *tracesDir != "" {
		cfg.TracesDir = *tracesDir
	}

	pidPath := *pidFile
	if pidPath == "" {
		dir, err := config.ConfigDir()
		if err != nil {
			logger.Error("failed to resolve pid file path", slog.Any("error", err))
			os.Exit(1)
		}
		pidPath = filepath.Join(dir, "inspectord.pid")
	}
	pidMgr := lifecycle.NewPIDFileManager(pidPath)
	if pidMgr.Exists() {
		if existing, readErr := pidMgr.Read(); readErr == nil {
			logger.Error("inspectord already running", slog.Int("pid", existing))
			os.Exit(1)
		}
	}

	lcLogPath := *logFile
	if lcLogPath == "" {
		dir, err := config.ConfigDir()
		if err == nil {
			lcLogPath = filepath.Join(dir, "inspectord.log")
		}
	}
	lcLog := lifecycle.NewLifecycleLogger(lcLogPath)
	_ = lcLog.LogStart(version, os.Args[1:], *configPath)

	if err := os.MkdirAll(cfg.TracesDir, 0o755); err != nil {
		logger.Error("failed to create traces directory", slog.Any("error", err))
		_ = lcLog.LogStartFailure(err)
		os.Exit(1)
	}

	insp, err := sdk.New(cfg, sdk.WithLogger(logger), sdk.WithServiceName("mcp-agent-inspector"))
	if err != nil {
		logger.Error("failed to construct inspector", slog.Any("error", err))
		_ = lcLog.LogStartFailure(err)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		logger.Error("failed to bind gateway address", slog.String("addr", cfg.Addr()), slog.Any("error", err))
		_ = lcLog.LogStartFailure(err)
		os.Exit(1)
	}

	var handler http.Handler = insp.Router()
	if *metrics {
		mux := http.NewServeMux()
		mux.Handle("/", insp.Router())
		mux.Handle("/metrics", insp.MetricsHandler())
		handler = mux
	}
	srv := &http.Server{Handler: handler}

	if err := pidMgr.Create(os.Getpid()); err != nil {
		logger.Error("failed to write pid file", slog.Any("error", err))
		_ = lcLog.LogStartFailure(err)
		os.Exit(1)
	}
	defer func() {
		if err := pidMgr.Remove(); err != nil {
			logger.Warn("failed to remove pid file", slog.Any("error", err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	stopMaintenance := make(chan struct{})
	go runMaintenance(cfg.TracesDir, logger, stopMaintenance)

	started := time.Now()
	logger.Info("inspectord started", slog.String("addr", cfg.Addr()), slog.String("traces_dir", cfg.TracesDir))
	_ = lcLog.LogStartSuccess(os.Getpid(), 1, time.Since(started))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		_ = lcLog.LogStop(os.Getpid(), false)
	case err := <-errCh:
		if err != nil {
			logger.Error("gateway server error", slog.Any("error", err))
			_ = lcLog.LogStartFailure(err)
			os.Exit(1)
		}
	}

	close(stopMaintenance)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	stopStart := time.Now()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown did not complete cleanly", slog.Any("error", err))
	}
	if err := insp.Close(shutdownCtx); err != nil {
		logger.Error("error during inspector shutdown", slog.Any("error", err))
		_ = lcLog.LogStopFailure(os.Getpid(), err)
		os.Exit(1)
	}
	_ = lcLog.LogStopSuccess(os.Getpid(), time.Since(stopStart))
}

// runMaintenance runs exporter.RunMaintenance against the default
// retention policy on a fixed tick until stop is closed.
func runMaintenance(tracesDir string, logger *slog.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	policy := exporter.DefaultRetentionPolicy()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			exporter.RunMaintenance(tracesDir, policy, logger)
		}
	}
}
