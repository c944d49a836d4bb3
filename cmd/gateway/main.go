package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/obot-platform/fleetgate/internal/clock"
	"github.com/obot-platform/fleetgate/internal/config"
	"github.com/obot-platform/fleetgate/internal/database"
	"github.com/obot-platform/fleetgate/internal/fleet"
	"github.com/obot-platform/fleetgate/internal/handler"
	"github.com/obot-platform/fleetgate/internal/health"
	"github.com/obot-platform/fleetgate/internal/instance"
	"github.com/obot-platform/fleetgate/internal/logger"
	"github.com/obot-platform/fleetgate/internal/proxy"
	"github.com/obot-platform/fleetgate/internal/services"
	"github.com/obot-platform/fleetgate/internal/store"
)

func main() {
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	servicesFile := flag.String("services", "", "services file (overrides SERVICES_FILE)")
	port := flag.Int("port", 0, "listen port (overrides PORT)")
	flag.Parse()

	// Load .env file if present
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *servicesFile != "" {
		cfg.ServicesFile = *servicesFile
	}
	if flag.CommandLine.Changed("port") {
		cfg.Port = *port
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			os.Exit(1)
		}
	}

	log, err := logger.New(logger.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Close() }()

	if err := run(cfg, log); err != nil {
		log.Error("Gateway failed", "error", err)
		_ = log.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	// Connect to database
	db, err := database.New(cfg, log)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() { _ = db.Close() }()

	log.Info("Running database migrations...", "driver", cfg.DatabaseDriver)
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// Downstream services
	targets, err := services.Load(cfg.ServicesFile, cfg.IsLocal)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("Services file not found, proxying nothing", "path", cfg.ServicesFile)
	} else if err != nil {
		return err
	}
	registry := services.NewRegistry(targets)
	watcher := services.NewWatcher(cfg.ServicesFile, cfg.IsLocal, log, registry.Replace)
	if err := watcher.Start(); err != nil {
		log.Warn("Services watcher failed to start", "error", err)
	} else {
		defer watcher.Stop()
	}

	// Fleet membership and election
	realClock := clock.Real()
	s := store.New(db.DB, realClock)
	coordinator := fleet.NewCoordinator(s, cfg, realClock, log, config.ForceLeaderFromEnv)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	identity := instance.Resolve(startCtx, cfg, log)
	snap, err := coordinator.Start(startCtx, identity)
	cancelStart()
	if err != nil {
		return fmt.Errorf("join fleet: %w", err)
	}
	log.Info("Joined fleet", "instance_id", snap.SelfID, "leader", snap.AmILeader)

	h := handler.New(cfg, coordinator, s, health.NewChecker(registry, cfg.HealthCheckTimeout, realClock), realClock, log)
	p := proxy.New(registry, log, cfg.ProxyResponseTimeout)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, h, p, log),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Gateway listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("Shutting down gateway...", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			coordinator.Stop(context.Background())
			return fmt.Errorf("serve: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()

	// Leave the fleet first so peers can elect a replacement
	coordinator.Stop(ctx)

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("Gateway stopped")
	return nil
}
