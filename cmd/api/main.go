package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/opsdesk/ticket-sync/internal/api/http"
	"github.com/opsdesk/ticket-sync/internal/api/http/handlers"
	"github.com/opsdesk/ticket-sync/internal/auth"
	"github.com/opsdesk/ticket-sync/internal/classifier"
	"github.com/opsdesk/ticket-sync/internal/config"
	"github.com/opsdesk/ticket-sync/internal/events"
	"github.com/opsdesk/ticket-sync/internal/inbox"
	"github.com/opsdesk/ticket-sync/internal/lock"
	"github.com/opsdesk/ticket-sync/internal/notify"
	"github.com/opsdesk/ticket-sync/internal/observability"
	"github.com/opsdesk/ticket-sync/internal/persistence"
	"github.com/opsdesk/ticket-sync/internal/remote"
	"github.com/opsdesk/ticket-sync/internal/repository"
	"github.com/opsdesk/ticket-sync/internal/repository/memory"
	"github.com/opsdesk/ticket-sync/internal/service"
	"github.com/opsdesk/ticket-sync/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var store repository.Store
	if pool := pg.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		store = repository.NewPostgresStore(pool)
	} else {
		store = memory.NewStore()
		pg = nil
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var locker lock.Locker = lock.NewLocalLocker()
	if redis.Configured() {
		locker = lock.NewRedisLocker(redis.Client, "locks:")
	}

	if cfg.Remote.BaseURL == "" {
		logger.Warn("remote base url not configured; sync attempts will fail")
	}
	remoteClient := remote.NewClient(cfg.Remote, logger)
	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	predictor := classifier.NewKeywordPredictor()

	authService := service.NewAuthService(cfg.Auth, store, logger)
	syncService := service.NewSyncService(service.SyncDependencies{
		Store:      store,
		Client:     remoteClient,
		Locker:     locker,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
		Config:     cfg.Sync,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo: store.Repos().Tickets,
		Predictor:  predictor,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	notificationService := service.NewNotificationService(dispatcher, notify.NewMailer(cfg.Mail, logger), logger, cfg.Mail, cfg.Sync.NotifyTimeout())
	ingestionService := service.NewIngestionService(service.IngestionDependencies{
		Store:      store,
		Predictor:  predictor,
		Notifier:   notificationService,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	})
	assignmentService := service.NewAssignmentService(store.Repos().Groups, remoteClient, logger)

	syncPool := worker.NewSyncPool(syncService, cfg.Sync.Workers, cfg.Sync.QueueSize, logger)
	syncPool.RegisterHandlers(dispatcher)
	notificationService.RegisterHandlers()
	syncPool.Start(ctx)

	scheduler := worker.NewScheduler(logger)
	mustSchedule(logger, scheduler.Add("sync-sweep", cfg.Sync.SweepSchedule, func(ctx context.Context) error {
		_, err := syncService.SyncDue(ctx, syncPool.Enqueue)
		return err
	}))
	mustSchedule(logger, scheduler.Add("status-poll", cfg.Sync.PollSchedule, func(ctx context.Context) error {
		_, err := syncService.RefreshAll(ctx)
		return err
	}))
	if cfg.Inbox.Enabled {
		poller := inbox.NewPoller(inbox.IMAPDialer(cfg.Inbox), ingestionService, authService, inbox.PollerOptions{
			Mailbox:    cfg.Inbox.Mailbox,
			ChannelKey: cfg.Inbox.ChannelKey,
			BatchSize:  cfg.Inbox.BatchSize,
		}, logger)
		mustSchedule(logger, scheduler.Add("inbox-poll", cfg.Inbox.Schedule, func(ctx context.Context) error {
			_, err := poller.Poll(ctx)
			return err
		}))
	}
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Start(ctx)
	}()

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), store.Repos().Users)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, metrics),
		Users:          handlers.NewUsersHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService, syncService),
		StaffTickets:   handlers.NewStaffTicketsHandler(syncService, assignmentService),
		Inbound:        handlers.NewInboundHandler(ingestionService, authService, cfg.App.InboundToken),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	<-schedulerDone
	syncPool.Wait()
}

func mustSchedule(logger *zap.Logger, err error) {
	if err != nil {
		logger.Fatal("failed to schedule job", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
