// Command scoutd is the host agent daemon: it supervises the eBPF loader
// subprocess, mediates its shared-memory protocol, and maintains an
// encrypted connection to the Spearhead command server.
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
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/k9dev/scout-agent/internal/agent"
	"github.com/k9dev/scout-agent/internal/config"
	"github.com/k9dev/scout-agent/internal/logsink"
	"github.com/k9dev/scout-agent/internal/metrics"
	"github.com/k9dev/scout-agent/internal/rules"
	"github.com/k9dev/scout-agent/internal/shm"
	appversion "github.com/k9dev/scout-agent/internal/version"
)

// shutdownTimeout is the maximum time to wait for the metrics server to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	// 2. Load config.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("scoutd starting",
		slog.String("version", appversion.Version),
		slog.Int("rules_format_version", appversion.RulesFormatVersion),
		slog.String("server_addr", cfg.Server.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	// 4. Create Prometheus metrics collector.
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 5. Load the initial rule set. A malformed rules file is logged and
	// treated as an empty rule set rather than aborting startup: the agent
	// is still useful (heartbeats, reconnection) without rules, and an
	// operator can push a fix via SIGHUP reload without restarting it.
	initialRules, err := loadRules(cfg.Rules.Path)
	if err != nil {
		logger.Error("failed to load initial rules, starting with an empty rule set",
			slog.String("error", err.Error()))
		initialRules = nil
	}
	logger.Info("loaded rules", slog.Int("count", len(initialRules)))

	// 6. Build the agent.
	sink := logsink.NewSlogSink(logger, "agent")
	a := agent.New(*cfg, sink, collector, nil)
	a.SetRules(initialRules)

	// 7. Run.
	if err := runDaemon(cfg, a, collector, reg, sink, logger, *configPath, logLevel); err != nil {
		logger.Error("scoutd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("scoutd stopped")
	return 0
}

// runDaemon sets up and runs the loader supervisor, loader shared-memory
// handshake, agent control loop, and metrics HTTP server using an errgroup
// with signal-aware context for graceful shutdown.
func runDaemon(
	cfg *config.Config,
	a *agent.Agent,
	collector *metrics.Collector,
	reg *prometheus.Registry,
	sink logsink.Sink,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	var sup *agent.Supervisor
	if cfg.Loader.Enabled {
		sup = agent.NewSupervisor(sink)
		if err := sup.Start(cfg.Loader.Path); err != nil {
			return fmt.Errorf("start loader: %w", err)
		}
		defer stopLoader(sup, logger)

		g.Go(func() error {
			return monitorLoader(gCtx, sup, cfg.Loader.Path, collector, logger)
		})
	}

	abort := make(chan struct{})
	g.Go(func() error {
		<-gCtx.Done()
		close(abort)
		return nil
	})

	shmChan, err := shm.Open(abort)
	if err != nil {
		return fmt.Errorf("open loader shared memory: %w", err)
	}
	defer closeShm(shmChan, logger)
	a.SetShmChannel(shmChan)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	g.Go(func() error {
		return a.Run(gCtx)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, a, logger)
		return nil
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

func stopLoader(sup *agent.Supervisor, logger *slog.Logger) {
	if err := sup.Stop(); err != nil {
		logger.Warn("failed to stop loader cleanly", slog.String("error", err.Error()))
	}
	sup.Wait()
}

// monitorLoader restarts the loader subprocess if it exits before ctx is
// cancelled. On ctx cancellation it actively stops the loader and waits for
// it to exit before returning -- sup.Wait() alone never unblocks on a
// shutdown signal, since nothing else asks the loader to exit.
func monitorLoader(ctx context.Context, sup *agent.Supervisor, path string, collector *metrics.Collector, logger *slog.Logger) error {
	for {
		exited := make(chan struct{})
		go func() {
			sup.Wait()
			close(exited)
		}()

		select {
		case <-ctx.Done():
			if err := sup.Stop(); err != nil {
				logger.Warn("failed to stop loader during shutdown", slog.String("error", err.Error()))
			}
			<-exited
			return nil
		case <-exited:
		}

		logger.Warn("loader subprocess exited unexpectedly, restarting")
		collector.LoaderRestarts.Inc()

		if err := sup.Start(path); err != nil {
			return fmt.Errorf("restart loader: %w", err)
		}
	}
}

func closeShm(c *shm.Channel, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("failed to close loader shared memory", slog.String("error", err.Error()))
	}
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured interval. If the watchdog is not configured, it exits
// immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level + rule set
// -------------------------------------------------------------------------

func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	a *agent.Agent,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, a, logger)
		}
	}
}

// reloadConfig loads a fresh configuration from the given path, updates
// the dynamic log level, and reloads the rule set from disk. Errors during
// reload are logged but do not stop the daemon -- the previous
// configuration and rules remain in effect.
func reloadConfig(configPath string, logLevel *slog.LevelVar, a *agent.Agent, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	rs, err := loadRules(newCfg.Rules.Path)
	if err != nil {
		logger.Error("failed to reload rules, keeping current rule set",
			slog.String("error", err.Error()))
		return
	}

	a.SetRules(rs)
	logger.Info("rule set reloaded", slog.Int("count", len(rs)))
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Server / Config / Rules Setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func loadRules(path string) ([]rules.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}

	rs, err := rules.LoadRulesFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return rs, nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
