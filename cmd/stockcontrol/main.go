package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockcontrol/internal/api"
	"github.com/odyssey-erp/stockcontrol/internal/audit"
	audithttp "github.com/odyssey-erp/stockcontrol/internal/audit/http"
	"github.com/odyssey-erp/stockcontrol/internal/app"
	"github.com/odyssey-erp/stockcontrol/internal/dispatch"
	"github.com/odyssey-erp/stockcontrol/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockcontrol/internal/jobs"
	"github.com/odyssey-erp/stockcontrol/internal/materials"
	"github.com/odyssey-erp/stockcontrol/internal/notify"
	"github.com/odyssey-erp/stockcontrol/internal/observability"
	"github.com/odyssey-erp/stockcontrol/internal/platform/cache"
	"github.com/odyssey-erp/stockcontrol/internal/platform/db"
	"github.com/odyssey-erp/stockcontrol/internal/requisition"
	"github.com/odyssey-erp/stockcontrol/internal/shared"
	"github.com/odyssey-erp/stockcontrol/internal/signature"
	"github.com/odyssey-erp/stockcontrol/internal/workflow"
	"github.com/odyssey-erp/stockcontrol/jobs"
	"github.com/odyssey-erp/stockcontrol/migrations"
)

func main() {
	if app.DetectStartupMode().SkipRuntime(nil, "stockcontrol") {
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("stockcontrol exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if err := migrations.Up(cfg.PGDSN, logger); err != nil {
			return err
		}
	}
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

	metrics := observability.NewMetrics()
	stockMetrics := metrics.Stock()
	auditLogger := shared.NewAuditLogger(pool)

	redisOpts := cfg.Redis().Asynq()
	queue := jobs.NewClient(redisOpts, jobmetrics.NewMetrics(metrics.Registerer()), logger)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger, inventory.ServiceConfig{
		Reorder: queue,
		Metrics: stockMetrics,
		Logger:  logger,
	})
	materialsRepo := materials.NewRepository(pool)
	requisitionService := requisition.NewService(requisition.NewRepository(pool), requisition.Config{
		DefaultPackSizeLitres: cfg.DefaultPackSizeLitres,
		Materials:             materialsRepo,
		Stock:                 inventoryService,
		Audit:                 auditLogger,
		Metrics:               stockMetrics,
		Logger:                logger,
	})
	dispatchService := dispatch.NewService(dispatch.NewRepository(pool), auditLogger, stockMetrics, logger)
	signatures, err := signature.NewStore(redisClient, signature.Config{
		Dir:     cfg.SignatureDir,
		BaseURL: cfg.SignatureBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	workflowService := workflow.NewService(workflow.NewRepository(pool), workflow.Config{
		Signatures:   signatures,
		Notifier:     jobs.NewAsyncNotifier(queue),
		Requisitions: requisitionService,
		Dispatch:     dispatchService,
		Audit:        auditLogger,
		Metrics:      stockMetrics,
		Logger:       logger,
	})
	notifications := notify.NewService(notify.NewRepository(pool), queue, notify.Config{
		FrontendURL: cfg.FrontendURL,
		Logger:      logger,
	})

	apiHandler := api.NewHandler(api.Services{
		Workflow:      workflowService,
		Inventory:     inventoryService,
		Requisitions:  requisitionService,
		Dispatch:      dispatchService,
		Notifications: notifications,
		Signatures:    signatures,
		Materials:     materialsRepo,
		Audit:         audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(pool))),
	}, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		API:          apiHandler,
		JobHandler:   jobs.NewHandler(inspector, logger),
		Metrics:      metrics,
		SignatureDir: cfg.SignatureDir,
	})
	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
