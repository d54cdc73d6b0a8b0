package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-qms/meridian/internal/app"
	"github.com/meridian-qms/meridian/internal/audit"
	jobmetrics "github.com/meridian-qms/meridian/internal/jobs"
	"github.com/meridian-qms/meridian/internal/observability"
	"github.com/meridian-qms/meridian/internal/platform/db"
	"github.com/meridian-qms/meridian/jobs"
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.ValidateSchema(ctx, pool); err != nil {
		logger.Error("validate schema", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	auditWriter := audit.NewWriter([]byte(cfg.AuditHMACKey), logger, metrics)
	auditRepo := audit.NewRepository(pool)
	sweeper := jobs.NewIntegritySweeper(pool, auditRepo, auditWriter, metrics, logger, cfg.SweepPageSize)

	sweepTask, err := jobs.NewIntegritySweepTask(jobs.IntegritySweepPayload{PageSize: cfg.SweepPageSize})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Metrics:   jobmetrics.NewMetrics(metrics.Registerer()),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskIntegritySweep, Handler: sweeper.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: fmt.Sprintf("@every %s", cfg.SweepInterval), Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
