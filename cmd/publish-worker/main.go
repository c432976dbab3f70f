// Package main is the entrypoint for the publish worker.
//
// The worker polls the delayed job queue for matured publish jobs, delivers
// each post to the publishing provider, and settles the outcome: flip the
// post to published and clear the job index on success, requeue with backoff
// on retryable failure, terminally fail on provider rejection.
//
// The process runs until SIGINT or SIGTERM, then drains in-flight deliveries
// before exiting.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"

	"postwire/internal/config"
	"postwire/internal/db"
	"postwire/internal/external"
	"postwire/internal/publisher"
	"postwire/internal/queue"
	"postwire/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("publish worker starting",
		"environment", cfg.Environment,
		"concurrency", cfg.Queue.Concurrency,
	)

	// Stop on SIGINT/SIGTERM; the worker drains in-flight jobs before Run
	// returns.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newDBPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	postRepo := db.NewPostRepository(pool)
	indexRepo := db.NewJobIndexRepository(pool)
	jobQueue := queue.New(pool, cfg.Queue, logger)
	pubClient := external.NewPublishClient(cfg.Publisher)

	var metrics publisher.Metrics = publisher.NoopMetrics{}
	if cfg.Observability.MetricsEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Observability.AWSRegion))
		if err != nil {
			return fmt.Errorf("loading AWS SDK config: %w", err)
		}
		cwClient := cloudwatch.NewFromConfig(awsCfg)
		metrics = publisher.NewCloudWatchMetrics(cwClient, cfg.Observability.Namespace, &slogAdapter{logger: logger})
	}

	worker := publisher.NewWorker(jobQueue, postRepo, indexRepo, pubClient, metrics, cfg.Queue, logger)

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker: %w", err)
	}

	logger.Info("publish worker stopped cleanly")
	return nil
}

// newDBPool opens a pgx pool with the configured tuning parameters and
// verifies connectivity before returning.
func newDBPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}
