// Package main is the entry point of the rosterguard authorization service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/rosterguard/internal/api"
	"github.com/vyrodovalexey/rosterguard/internal/authz"
	"github.com/vyrodovalexey/rosterguard/internal/config"
	"github.com/vyrodovalexey/rosterguard/internal/guard"
	"github.com/vyrodovalexey/rosterguard/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	address     string
	watch       bool
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, flags, logger); err != nil {
		logger.Error("rosterguard stopped with error", observability.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("ROSTERGUARD_CONFIG_PATH", ""),
		"Path to configuration file (defaults apply when empty)")
	logLevel := flag.String("log-level", getEnvOrDefault("ROSTERGUARD_LOG_LEVEL", ""),
		"Log level override (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("ROSTERGUARD_LOG_FORMAT", ""),
		"Log format override (json, console)")
	address := flag.String("address", getEnvOrDefault("ROSTERGUARD_ADDRESS", ""),
		"Listen address override")
	watch := flag.Bool("watch", getEnvBool("ROSTERGUARD_WATCH_CONFIG", true),
		"Reload rate limits and tenant roles when the configuration file changes")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		address:     *address,
		watch:       *watch,
		showVersion: *showVersion,
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("rosterguard version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// loadConfig loads the configuration file, if any, and applies flag
// overrides.
func loadConfig(flags cliFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if flags.configPath != "" {
		var err error
		if cfg, err = config.Load(flags.configPath); err != nil {
			return nil, err
		}
	}
	applyOverrides(cfg, flags)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config, flags cliFlags) {
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	if flags.address != "" {
		cfg.Server.Address = flags.address
	}
}

// run starts the service and blocks until a shutdown signal arrives.
func run(cfg *config.Config, flags cliFlags, logger observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting rosterguard",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)

	tracer, err := observability.NewTracer(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	metrics := observability.NewRegistry()
	svc, err := guard.New(ctx, cfg,
		guard.WithLogger(logger),
		guard.WithRegisterer(metrics.Registerer()),
		guard.WithTracer(tracer.Named(authz.TracerName)),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(svc,
		api.WithLogger(logger.With(observability.String("component", "http"))),
		api.WithTracer(tracer.Named(api.TracerName)),
		api.WithMetricsHandler(metrics.Handler()),
	)
	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           server.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	var watcher *config.Watcher
	if flags.watch && flags.configPath != "" {
		watcher = startConfigWatcher(ctx, svc, flags.configPath, logger)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", observability.String("address", cfg.Server.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-serveErr:
	}

	shutdown(cfg, httpServer, watcher, svc, tracer, logger)
	return runErr
}

// startConfigWatcher applies configuration changes to svc.
func startConfigWatcher(ctx context.Context, svc *guard.Service, path string,
	logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
		if err := svc.ApplyConfig(ctx, cfg); err != nil {
			logger.Error("failed to apply configuration", observability.Error(err))
		}
	}, config.WithLogger(logger.With(observability.String("component", "config"))))
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		return nil
	}
	return watcher
}

// shutdown stops accepting requests, then releases the service.
func shutdown(cfg *config.Config, httpServer *http.Server, watcher *config.Watcher,
	svc *guard.Service, tracer *observability.Tracer, logger observability.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop HTTP server gracefully", observability.Error(err))
	}

	if err := svc.Close(); err != nil {
		logger.Error("failed to close service", observability.Error(err))
	}

	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	logger.Info("rosterguard stopped")
}
