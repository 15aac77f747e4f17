package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/aiolos-energy/aiolos-access/internal/access"
	"github.com/aiolos-energy/aiolos-access/internal/app"
	"github.com/aiolos-energy/aiolos-access/internal/platform/db"
	"github.com/aiolos-energy/aiolos-access/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	repo := access.NewPostgresRepository(pool)
	permCache := access.NewMemoryCache()
	resolver, err := access.NewResolver(repo, permCache, cfg.CacheTTL, logger, nil)
	if err != nil {
		logger.Error("build resolver", slog.Any("error", err))
		os.Exit(1)
	}
	service := access.NewService(repo, resolver, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Metrics:   jobs.NewMetrics(nil),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGrantsCleanup, Handler: jobs.NewGrantsCleanupHandler(service, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@every 10m", Task: jobs.NewGrantsCleanupTask()},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker")
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
