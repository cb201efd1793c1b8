package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schoolhub/schoolhub/internal/app"
	"github.com/schoolhub/schoolhub/internal/auth"
	jobmetrics "github.com/schoolhub/schoolhub/internal/jobs"
	"github.com/schoolhub/schoolhub/internal/platform/db"
	"github.com/schoolhub/schoolhub/internal/remote"
	"github.com/schoolhub/schoolhub/jobs"
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
	metrics := jobmetrics.NewMetrics(nil)
	if cfg.WorkerMetricsAddr != "" {
		srv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics listener", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	api := remote.New(cfg.APIBaseURL, remote.WithTimeout(cfg.APITimeout))
	logoutJob := jobs.NewLogoutNotifyJob(api, logger, metrics)

	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskLogoutNotify, Handler: logoutJob.Handle},
	}
	var cron []jobs.CronRegistration

	if cfg.PGDSN != "" {
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect database", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool, auth.EventSchema...); err != nil {
			logger.Error("migrate auth events", slog.Any("error", err))
			os.Exit(1)
		}

		pruneJob := jobs.NewPruneAuthEventsJob(pool, logger, metrics)
		pruneTask, err := jobs.NewPruneAuthEventsTask(cfg.AuthEventRetention)
		if err != nil {
			logger.Error("build prune task", slog.Any("error", err))
			os.Exit(1)
		}
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskPruneAuthEvents, Handler: pruneJob.Handle})
		cron = append(cron, jobs.CronRegistration{Spec: "30 3 * * *", Task: pruneTask, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    handlers,
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.Int("handlers", len(handlers)), slog.Int("cron", len(cron)))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
