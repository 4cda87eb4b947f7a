package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockcontrol/internal/app"
	"github.com/odyssey-erp/stockcontrol/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockcontrol/internal/jobs"
	"github.com/odyssey-erp/stockcontrol/internal/materials"
	"github.com/odyssey-erp/stockcontrol/internal/notify"
	"github.com/odyssey-erp/stockcontrol/internal/platform/cache"
	"github.com/odyssey-erp/stockcontrol/internal/platform/db"
	"github.com/odyssey-erp/stockcontrol/internal/requisition"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
	"github.com/odyssey-erp/stockcontrol/jobs"
)

func main() {
	if app.DetectStartupMode().SkipRuntime(nil, "stockcontrol-worker") {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewServiceLogger(cfg, "stockcontrol-worker")

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	redisOpts := cfg.Redis().Asynq()
	queue := jobs.NewClient(redisOpts, metrics, logger)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger, inventory.ServiceConfig{
		Reorder: queue,
		Logger:  logger,
	})
	requisitionService := requisition.NewService(requisition.NewRepository(pool), requisition.Config{
		DefaultPackSizeLitres: cfg.DefaultPackSizeLitres,
		Materials:             materials.NewRepository(pool),
		Stock:                 inventoryService,
		Audit:                 auditLogger,
		Logger:                logger,
	})
	notifications := notify.NewService(notify.NewRepository(pool), queue, notify.Config{
		FrontendURL: cfg.FrontendURL,
		Logger:      logger,
	})

	reorderJob := &jobs.ReorderCheckJob{Reorder: requisitionService, Logger: logger, Metrics: metrics}
	notifyJob := &jobs.NotificationJob{Sink: notifications, Redis: redisClient, Logger: logger, Metrics: metrics}
	emailJob := &jobs.EmailJob{
		Sender: jobs.SMTPSender{
			Addr: net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
			From: cfg.SMTPFrom,
		},
		Logger:  logger,
		Metrics: metrics,
	}
	cleanupJob := &jobs.IdempotencyCleanupJob{Store: idempotency, Logger: logger, Metrics: metrics}

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(30 * 24 * time.Hour)
	if err != nil {
		return err
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReorderCheck, Handler: reorderJob.Handle},
			{Type: jobs.TaskNotify, Handler: notifyJob.Handle},
			{Type: jobs.TaskTypeSendEmail, Handler: emailJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		return err
	}
	return worker.Run(ctx)
}
