package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sysg-dev/sysg/internal/audit"
	"github.com/sysg-dev/sysg/internal/config"
	"github.com/sysg-dev/sysg/internal/control"
	"github.com/sysg-dev/sysg/internal/daemon"
	"github.com/sysg-dev/sysg/internal/metrics"
	"github.com/sysg-dev/sysg/internal/persistence"
	"github.com/sysg-dev/sysg/internal/setup"
	"github.com/sysg-dev/sysg/internal/signals"
	"github.com/sysg-dev/sysg/internal/tracing"
	"github.com/sysg-dev/sysg/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor in the foreground",
	Args:  cobra.NoArgs,
	Run:   runServe,
}

var (
	serveDryRun    bool
	serveLogLevel  string
	serveLogFormat string
)

func init() {
	serveCmd.Flags().BoolVar(&serveDryRun, "dry-run", false, "load and validate configuration, then exit")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "log level: debug|info|warn|error")
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", "text", "log format: text|json")
}

func runServe(cmd *cobra.Command, args []string) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sysg: load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	if serveDryRun {
		fmt.Printf("%s is valid (%d services)\n", cfgPath, len(cfg.Services))
		return
	}

	logger := newLogger(serveLogLevel, serveLogFormat)
	slog.SetDefault(logger)

	stateDir := cfg.Global.StateDir
	if stateDir == "" {
		stateDir, err = setup.GetRuntimeDir()
		if err != nil {
			logger.Error("resolve runtime directory", "error", err)
			os.Exit(1)
		}
	} else {
		stateDir, err = setup.EnsureWritableDir(stateDir)
		if err != nil {
			logger.Error("prepare state directory", "error", err)
			os.Exit(1)
		}
	}

	release, err := persistence.AcquireSupervisorLock(stateDir)
	if err != nil {
		logger.Error("acquire supervisor lock (already running?)", "state_dir", stateDir, "error", err)
		os.Exit(1)
	}
	defer release()

	if err := persistence.WriteConfigHint(stateDir, cfgPath); err != nil {
		logger.Warn("write config hint", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	if isPID1() {
		go signals.ReapZombies(time.Second)
	}

	tp, err := tracing.NewProvider(ctx, tracing.TracerConfig{
		Enabled:     cfg.Global.TracingEnabled,
		Exporter:    cfg.Global.TracingExporter,
		Endpoint:    cfg.Global.TracingOTLPEndpoint,
		SampleRate:  1.0,
		ServiceName: "sysg",
		Version:     version,
	}, logger)
	if err != nil {
		logger.Error("init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	auditLogger := audit.NewLogger(logger, true)
	d := daemon.New(cfg, stateDir, logger, auditLogger)

	var metricsSrv *metrics.Server
	if cfg.Global.MetricsEnabled {
		port, err := portOf(cfg.Global.MetricsAddr)
		if err != nil {
			logger.Error("parse metrics_addr", "error", err)
			os.Exit(1)
		}
		metricsSrv = metrics.NewServer(port, "/metrics", logger)
		if err := metricsSrv.Start(ctx); err != nil {
			logger.Error("start metrics server", "error", err)
			os.Exit(1)
		}
	}

	controlSrv := control.NewServer(persistence.NewPaths(stateDir).ControlSocket(), d, logger)
	if err := controlSrv.Start(ctx); err != nil {
		logger.Error("start control endpoint", "error", err)
		os.Exit(1)
	}

	if err := d.Start(ctx); err != nil {
		logger.Error("start services", "error", err)
		_ = d.Stop(context.Background())
		os.Exit(1)
	}
	logger.Info("sysg started", "state_dir", stateDir, "services", len(cfg.Services))

	reloadCh := make(chan struct{}, 1)
	cw, err := watcher.New(watcher.Config{
		ConfigPath: cfgPath,
		Logger:     logger,
		Debounce:   time.Second,
		Handler: func() error {
			select {
			case reloadCh <- struct{}{}:
			default:
			}
			return nil
		},
	})
	if err != nil {
		logger.Warn("config watcher disabled", "error", err)
	} else if err := cw.Start(ctx); err != nil {
		logger.Warn("start config watcher", "error", err)
	} else {
		defer cw.Stop()
	}

	waitForShutdownOrReload(ctx, d, &cfgPath, reloadCh, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Global.ShutdownGrace+5*time.Second)
	defer cancel()
	if err := d.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Stop(shutdownCtx)
	}
	_ = controlSrv.Stop()
	logger.Info("sysg stopped")
}

// waitForShutdownOrReload blocks until ctx is cancelled (a terminating
// signal), applying any pending config reload in the meantime. Adapted
// from the teacher's serve.go event loop of the same name.
func waitForShutdownOrReload(ctx context.Context, d *daemon.Daemon, cfgPath *string, reloadCh <-chan struct{}, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-reloadCh:
			newCfg, err := config.Load(*cfgPath)
			if err != nil {
				logger.Error("config reload: reload config", "error", err)
				continue
			}
			if err := d.ReloadConfig(ctx, newCfg); err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			logger.Info("config reloaded", "path", *cfgPath)
		}
	}
}

func portOf(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid metrics_addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid metrics_addr port %q: %w", portStr, err)
	}
	return port, nil
}

func isPID1() bool {
	return os.Getpid() == 1
}

func newLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
