package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"timesheet/internal/bootstrap"
	"timesheet/internal/config"
	cronpkg "timesheet/internal/cron"
	"timesheet/internal/handler/api"
	"timesheet/internal/integration"
	"timesheet/internal/jira"
	"timesheet/internal/middleware"
	"timesheet/internal/notify"
	"timesheet/internal/overtime"
	"timesheet/internal/queue"
	"timesheet/internal/repository"
	"timesheet/internal/router"
	"timesheet/internal/sheets"
	"timesheet/internal/syncer"
	"timesheet/internal/toggl"
	"timesheet/internal/worker"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if hasArg("--migrate") {
		if err := runMigrate(logger); err != nil {
			logger.Fatal("Database migration failed", zap.Error(err))
		}
		logger.Info("Database migration completed")
		return
	}

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if cfg.Server.Env == "development" {
		if dev, err := zap.NewDevelopment(); err == nil {
			logger = dev
		}
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := bootstrap.Migrate(db); err != nil {
		logger.Fatal("Failed to migrate database schema", zap.Error(err))
	}

	integrationRepo := repository.NewIntegrationRepository(db)
	runRepo := repository.NewRunRepository(db)
	stateRepo := repository.NewSyncStateRepository(db)
	timesheetRepo := repository.NewTimesheetRepository(db)

	// --- Job Queue (Redis with in-memory fallback) ---
	jobQueue, queueErr := queue.NewFromConfig(cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB)
	if queueErr != nil {
		logger.Warn("Redis unavailable for job queue, using in-memory fallback", zap.Error(queueErr))
	}
	defer jobQueue.Close()

	// --- Scheduling ---
	reconciler := cronpkg.NewReconciler(jobQueue, integrationRepo, cfg.Scheduler.ReconcileLimit, logger)
	store := integration.NewStore(cfg.Crypto.Key, integrationRepo, cronpkg.NewHooks(reconciler), logger)
	scheduler := cronpkg.New(cfg.Scheduler, reconciler, jobQueue, logger)

	// --- Handlers ---
	jiraClients := jira.NewRegistry(cfg.Scheduler.JiraCallDelay)
	handlers := worker.Handlers{
		Toggl: syncer.NewTogglHandler(func(apiKey string) syncer.TogglAPI {
			return toggl.NewClient(toggl.DefaultBaseURL, apiKey, nil)
		}, timesheetRepo, stateRepo),
		Jira: syncer.NewJiraHandler(func(c integration.JiraConfig) jira.IssueFinder {
			return jiraClients.ClientFor(c.BaseURL, c.Email, c.APIToken)
		}, timesheetRepo),
		Sheets: syncer.NewSheetsHandler(func(ctx context.Context, serviceAccountJSON []byte) (syncer.SheetWriter, error) {
			client, err := sheets.NewClient(ctx, serviceAccountJSON)
			if err != nil {
				return nil, err
			}
			return client, nil
		}, timesheetRepo),
	}
	notifier := notify.New(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
	pool := worker.NewPool(cfg.Worker, jobQueue, integrationRepo, store, runRepo, handlers, notifier, logger)

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true

	// --- Request Deduper (Redis with in-memory fallback) ---
	deduper, dedupeErr := middleware.NewRequestDeduper(cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB, 24*time.Hour)
	if dedupeErr != nil {
		logger.Warn("Redis unavailable for request dedup, using in-memory fallback", zap.Error(dedupeErr))
	}

	// --- Routes ---
	router.Setup(e, router.Handlers{
		Integrations: api.NewIntegrationHandler(integrationRepo, store, runRepo, reconciler, logger),
		Overtime:     api.NewOvertimeHandler(overtime.NewService(timesheetRepo, cfg.Timesheet.NonWorkingProject), logger),
	}, logger, cfg.API.Key, deduper)

	// --- Cron Scheduler (reconciles before any worker runs) ---
	bootCtx, bootCancel := context.WithTimeout(context.Background(), time.Minute)
	err = scheduler.Start(bootCtx)
	bootCancel()
	if err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// --- Workers ---
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	pool.Start(workerCtx)

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting timesheet server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Stop cron
	ctx := scheduler.Stop()
	<-ctx.Done()

	// Stop workers, letting jobs in flight finish their bookkeeping
	stopWorkers()
	pool.Wait()

	// Stop HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func hasArg(name string) bool {
	for _, arg := range os.Args[1:] {
		if arg == name {
			return true
		}
	}
	return false
}

func runMigrate(logger *zap.Logger) error {
	dbCfg, err := config.LoadDatabaseOnly()
	if err != nil {
		return err
	}
	db, err := config.NewDatabase(dbCfg)
	if err != nil {
		return err
	}
	if err := bootstrap.Migrate(db); err != nil {
		return err
	}
	logger.Info("Schema migration completed")
	return nil
}
