package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"AdRelister/internal/adapter"
	"AdRelister/internal/api"
	"AdRelister/internal/config"
	"AdRelister/internal/infrastructure/archive"
	"AdRelister/internal/infrastructure/kafka"
	"AdRelister/internal/infrastructure/lock"
	"AdRelister/internal/infrastructure/parser"
	"AdRelister/internal/infrastructure/scheduler"
	"AdRelister/internal/infrastructure/scraper"
	"AdRelister/internal/infrastructure/storage"
	"AdRelister/internal/infrastructure/telegram"
	"AdRelister/internal/logging"
	"AdRelister/internal/ports"
	"AdRelister/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	api       *api.Server
	scheduler *usecase.Scheduler
	closers   []func() error
}

// New connects every configured backend. Optional backends stay disabled when their
// address is empty; state falls back to memory without a DSN.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	batches, listings, err := a.openStorage(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	registry := adapter.NewRegistry()
	registry.Register(scraper.NewHTTPAdapter(cfg.Scraper, nil, baseLogger.With("component", "scraper.http")))
	registry.Register(scraper.NewMockAdapter(baseLogger.With("component", "scraper.mock")))
	scraperAdapter, err := registry.Resolve(cfg.Scraper.Adapter)
	if err != nil {
		a.close()
		return nil, err
	}

	deps := usecase.OrchestratorDeps{
		Batches:  batches,
		Listings: listings,
		Adapter:  scraperAdapter,
		Throttle: &usecase.Throttle{Min: cfg.Throttle.MinDelay, Max: cfg.Throttle.MaxDelay},
		Logger:   baseLogger.With("component", "orchestrator"),
	}
	if err := a.attachOptional(ctx, &deps); err != nil {
		a.close()
		return nil, err
	}

	orchestrator := usecase.NewOrchestrator(deps)
	batchService := usecase.NewBatchService(batches, orchestrator, baseLogger.With("component", "batches"))

	source := parser.NewUnitSource(cfg.Articles, nil, baseLogger.With("component", "source"))
	rankingService := usecase.NewRankingService(source, baseLogger.With("component", "ranking"))

	cron := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location(), baseLogger.With("component", "cron"))
	a.scheduler = usecase.NewScheduler(cron, batchService, baseLogger.With("component", "scheduler"))
	a.api = api.NewServer(batchService, rankingService, baseLogger.With("component", "api"))

	baseLogger.Info("application wired",
		"adapter", scraperAdapter.Name(),
		"postgres", cfg.Database.DSN != "",
		"redis_lock", deps.Lock != nil,
		"kafka", deps.Publisher != nil,
		"archive", deps.Archive != nil,
		"telegram", deps.Notifier != nil)
	return a, nil
}

// Handler exposes the HTTP API.
func (a *Application) Handler() http.Handler {
	return a.api
}

// Run starts the scheduler and the HTTP listener and blocks until ctx is done, then shuts
// both down and waits for in-flight runs within the shutdown timeout.
func (a *Application) Run(ctx context.Context) error {
	defer a.close()

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.api,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	timeout := a.cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop", "error", err)
	}
	if err := a.api.Wait(shutdownCtx); err != nil {
		a.logger.Warn("batch runs still in flight at shutdown", "error", err)
	}
	a.logger.Info("application stopped")
	return runErr
}

func (a *Application) openStorage(ctx context.Context) (ports.BatchRepository, ports.ListingRepository, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database dsn, batches are kept in memory")
		repo := storage.NewMemoryRepository()
		return repo, repo, nil
	}

	db, err := storage.OpenPostgres(ctx, a.cfg.Database.DSN, a.cfg.Database.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, db.Close)

	repo := storage.NewPostgresRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, nil, err
	}
	return repo, repo, nil
}

func (a *Application) attachOptional(ctx context.Context, deps *usecase.OrchestratorDeps) error {
	cfg := a.cfg

	if cfg.Redis.Addr != "" {
		redisLock, client, err := lock.NewRedisLock(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		deps.Lock = redisLock
		deps.LockRenewInterval = redisLock.TTL() / 3
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := kafka.NewProgressPublisher(cfg.Kafka)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, publisher.Close)
		deps.Publisher = publisher
	}

	if cfg.Archive.Bucket != "" {
		reports, err := archive.NewS3Archive(ctx, cfg.Archive)
		if err != nil {
			return err
		}
		deps.Archive = reports
	}

	if cfg.Notifications.Telegram.BotToken != "" && cfg.Notifications.Telegram.ChatID != "" {
		deps.Notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}
	return nil
}

func (a *Application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close resource", "error", err)
		}
	}
	a.closers = nil
}
