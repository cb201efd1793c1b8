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

	"github.com/schoolhub/schoolhub/internal/app"
	"github.com/schoolhub/schoolhub/internal/auth"
	"github.com/schoolhub/schoolhub/internal/guard"
	"github.com/schoolhub/schoolhub/internal/observability"
	"github.com/schoolhub/schoolhub/internal/permission"
	"github.com/schoolhub/schoolhub/internal/platform/cache"
	"github.com/schoolhub/schoolhub/internal/platform/db"
	"github.com/schoolhub/schoolhub/internal/remote"
	"github.com/schoolhub/schoolhub/internal/school"
	"github.com/schoolhub/schoolhub/internal/shared"
	"github.com/schoolhub/schoolhub/internal/view"
	"github.com/schoolhub/schoolhub/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	metrics := observability.NewMetrics()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	recorders := []auth.EventRecorder{metrics.SessionRecorder()}
	if cfg.PGDSN != "" {
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool, auth.EventSchema...); err != nil {
			logger.Error("migrate auth events", slog.Any("error", err))
			os.Exit(1)
		}
		recorders = append(recorders, auth.NewPGEventRecorder(pool))
	}

	newClient := func() *remote.Client {
		return remote.New(cfg.APIBaseURL, remote.WithTimeout(cfg.APITimeout))
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	var notifier auth.LogoutNotifier
	var jobHandler *jobs.Handler
	if cfg.LogoutAsync {
		queue := jobs.NewClient(redisOpts, metrics.Jobs())
		defer func() {
			if err := queue.Close(); err != nil {
				logger.Warn("queue close", slog.Any("error", err))
			}
		}()
		notifier = jobs.NewNotifier(queue, auth.NewDirectNotifier(newClient()), logger)

		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	} else {
		jobHandler = jobs.NewHandler(nil, logger)
	}

	sessions := auth.NewManager(auth.ManagerConfig{
		NewClient: newClient,
		StorageFor: func(clientID string) auth.Storage {
			return auth.NewRedisStorage(redisClient, "client:"+clientID, cfg.SessionTTL)
		},
		Recorder:    auth.MultiRecorder(recorders...),
		Notifier:    notifier,
		Logger:      logger,
		RefreshSkew: cfg.RefreshSkew,
	})

	evaluator := permission.NewEvaluator(nil, permission.WithObserver(metrics.ObserveDecision))
	g := guard.New(evaluator, logger)
	templates, err := view.NewEngine(g)
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	clientManager := shared.NewClientManager(redisClient, "schoolhub_client", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		ClientManager: clientManager,
		Sessions:      sessions,
		CSRFManager:   csrfManager,
		Guard:         g,
		AuthHandler:   auth.NewHandler(logger, templates, csrfManager),
		SchoolHandler: school.NewHandler(logger, templates, csrfManager, g, shared.NewIdempotencyStore(redisClient, 24*time.Hour)),
		JobHandler:    jobHandler,
		Metrics:       metrics,
	})

	go sweepSessions(ctx, sessions, cfg.SessionIdle, logger)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("api", cfg.APIBaseURL))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// sweepSessions drops idle in-memory sessions; their blobs stay in Redis
// and are restored on the next request.
func sweepSessions(ctx context.Context, m *auth.Manager, idle time.Duration, logger *slog.Logger) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(idle); n > 0 {
				logger.Debug("swept idle sessions", slog.Int("count", n), slog.Int("held", m.Len()))
			}
		}
	}
}
