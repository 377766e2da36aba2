package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/server"
	"github.com/raaihank/pii-redactor/internal/store"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.String("health-check", "", "Check the server at this base URL and exit, e.g. http://localhost:8080")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("pii-redactor %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck != "" {
		performHealthCheck(*healthCheck)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run serves until a signal arrives or the server fails. Deferred cleanup
// always runs before main exits.
func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting pii-redactor server",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	// Only the log level is applied on reload; everything else needs a restart
	if configPath != "" {
		err := config.Watch(configPath, func(next *config.Config) {
			if next.Logging.Level == log.Level().String() {
				return
			}
			if err := log.SetLevel(next.Logging.Level); err != nil {
				log.Warn("Ignoring invalid log level from reloaded config", zap.Error(err))
				return
			}
			log.Info("Log level changed", zap.String("level", next.Logging.Level))
		}, func(err error) {
			log.Warn("Ignoring invalid config change", zap.Error(err))
		})
		if err != nil {
			log.Warn("Config hot reload disabled", zap.Error(err))
		}
	}

	var records server.RecordFinder
	if cfg.Store.Enabled {
		recordStore, err := store.NewStore(&store.Config{
			DatabaseURL:     cfg.Store.DatabaseURL,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		}, log.WithComponent("store").Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize record store: %w", err)
		}
		defer recordStore.Close()
		records = recordStore
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(cfg, log, records)

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
			return err
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
		}
		cancel()

		log.Info("Server shutdown complete")
	}
	return nil
}

// performHealthCheck performs a health check against a running server
func performHealthCheck(baseURL string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
}
