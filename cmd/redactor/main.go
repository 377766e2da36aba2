package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/cache"
	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/etl"
	"github.com/raaihank/pii-redactor/internal/logger"
	"github.com/raaihank/pii-redactor/internal/privacy"
	"github.com/raaihank/pii-redactor/internal/store"
)

const version = "0.1.0"

// errUsage reports missing arguments after the usage text has been printed
var errUsage = errors.New("no input file given")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// run is the whole CLI. Deferred cleanup always runs before main exits.
func run(args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("redactor", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var (
		configPath = flags.String("config", "", "Configuration file path")
		inputFile  = flags.String("input", "", "Input dataset file (CSV, Parquet, or JSON lines)")
		outputFile = flags.String("output", "", "Output file (default: redacted_output_<input>.csv next to the input)")
		batchSize  = flags.Int("batch-size", 0, "Records per batch (default from config)")
		workers    = flags.Int("workers", 0, "Number of redaction goroutines (default from config)")
		useCache   = flags.Bool("use-cache", false, "Reuse and update redactions cached in Redis")
		useStore   = flags.Bool("use-store", false, "Persist redacted records to PostgreSQL")
		clearCache = flags.Bool("clear-cache", false, "Remove cached redactions and exit")
		showStats  = flags.Bool("stats", false, "Show cache and store statistics and exit")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *inputFile == "" && flags.NArg() > 0 {
		*inputFile = flags.Arg(0)
	}

	if *inputFile == "" && !*showStats && !*clearCache {
		fmt.Fprintf(stderr, "Usage: redactor [options] [input]\n")
		fmt.Fprintf(stderr, "\nOptions:\n")
		flags.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  redactor iscp_pii_dataset.csv\n")
		fmt.Fprintf(stderr, "  redactor --input dataset.parquet --output redacted.parquet --workers 8\n")
		fmt.Fprintf(stderr, "  redactor --input dataset.csv --use-cache --use-store\n")
		fmt.Fprintf(stderr, "  redactor --stats --use-cache --use-store\n")
		return errUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting PII redaction pipeline",
		zap.String("version", version),
		zap.String("config", *configPath))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	services, err := initializeServices(cfg, *useCache || cfg.Cache.Enabled, *useStore || cfg.Store.Enabled, log)
	if err != nil {
		return err
	}
	defer services.cleanup()

	switch {
	case *showStats:
		return showServiceStats(ctx, services, stdout)
	case *clearCache:
		if services.resultCache == nil {
			return errors.New("result cache is not enabled; pass --use-cache")
		}
		if err := services.resultCache.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		return nil
	}

	pipelineConfig := &etl.Config{
		BatchSize:      cfg.Pipeline.BatchSize,
		WorkerCount:    cfg.Pipeline.WorkerCount,
		ProgressReport: cfg.Pipeline.ProgressReport,
		Timeout:        cfg.Pipeline.Timeout,
		OutputFormat:   etl.FileFormat(cfg.Output.Format),
	}
	if *batchSize > 0 {
		pipelineConfig.BatchSize = *batchSize
	}
	if *workers > 0 {
		pipelineConfig.WorkerCount = *workers
	}

	output := *outputFile
	if output == "" {
		output = cfg.Output.Path
	}
	if output == "" {
		output = etl.DefaultOutputPath(*inputFile)
	}

	if err := processDataset(ctx, services, pipelineConfig, *inputFile, output, log, stdout); err != nil {
		log.Error("Redaction failed", zap.Error(err))
		return err
	}
	return nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
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
	return logger.New(loggerConfig)
}

// services holds the optional backing services of a run
type services struct {
	resultCache *cache.ResultCache
	recordStore *store.Store
}

func (s *services) cleanup() {
	if s.resultCache != nil {
		s.resultCache.Close()
	}
	if s.recordStore != nil {
		s.recordStore.Close()
	}
}

// initializeServices connects to Redis and PostgreSQL when requested
func initializeServices(cfg *config.Config, withCache, withStore bool, log *logger.Logger) (*services, error) {
	s := &services{}

	if withCache {
		log.Info("Initializing result cache...")
		resultCache, err := cache.NewResultCache(&cache.Config{
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log.WithComponent("cache").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize result cache: %w", err)
		}
		s.resultCache = resultCache
	}

	if withStore {
		log.Info("Initializing record store...")
		recordStore, err := store.NewStore(&store.Config{
			DatabaseURL:     cfg.Store.DatabaseURL,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		}, log.WithComponent("store").Logger)
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to initialize record store: %w", err)
		}
		s.recordStore = recordStore
	}

	return s, nil
}

// processDataset redacts inputFile into outputFile
func processDataset(ctx context.Context, s *services, pipelineConfig *etl.Config, inputFile, outputFile string, log *logger.Logger, stdout io.Writer) error {
	if _, err := os.Stat(inputFile); err != nil {
		return fmt.Errorf("input file is not readable: %w", err)
	}

	// nil interfaces, not typed nil pointers, disable the optional stages
	var resultCache etl.ResultCache
	if s.resultCache != nil {
		resultCache = s.resultCache
	}
	var sink etl.Sink
	if s.recordStore != nil {
		sink = s.recordStore
	}

	detector := privacy.New(log.WithComponent("privacy"))
	pipeline := etl.NewPipeline(detector, resultCache, sink, pipelineConfig, log.WithComponent("etl").Logger)

	result, err := pipeline.ProcessFile(ctx, inputFile, outputFile)
	if err != nil {
		return err
	}

	if len(result.Errors) > 0 {
		log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}

	fmt.Fprintf(stdout, "Redacted %d of %d records (%d with PII, %d malformed skipped) in %v\n",
		result.Redacted, result.TotalRecords, result.WithPII, result.MalformedSkipped, result.Duration)
	fmt.Fprintf(stdout, "Output written to %s\n", outputFile)

	return nil
}

// showServiceStats prints statistics of the enabled backing services
func showServiceStats(ctx context.Context, s *services, stdout io.Writer) error {
	if s.resultCache == nil && s.recordStore == nil {
		return fmt.Errorf("neither cache nor store is enabled; pass --use-cache or --use-store")
	}

	if s.recordStore != nil {
		stats, err := s.recordStore.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to get store stats: %w", err)
		}
		fmt.Fprintf(stdout, "\n=== Redacted Record Store ===\n")
		fmt.Fprintf(stdout, "Total Records:      %d\n", stats.TotalRecords)
		fmt.Fprintf(stdout, "With PII:           %d (%.1f%%)\n", stats.WithPII, percent(stats.WithPII, stats.TotalRecords))
		fmt.Fprintf(stdout, "Without PII:        %d (%.1f%%)\n", stats.WithoutPII, percent(stats.WithoutPII, stats.TotalRecords))
	}

	if s.resultCache != nil {
		stats, err := s.resultCache.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to get cache stats: %w", err)
		}
		fmt.Fprintf(stdout, "\n=== Result Cache ===\n")
		fmt.Fprintf(stdout, "Total Keys:         %d\n", stats.TotalKeys)
		fmt.Fprintf(stdout, "Memory Usage:       %.2f MB\n", float64(stats.MemoryUsage)/1024/1024)
	}

	return nil
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
