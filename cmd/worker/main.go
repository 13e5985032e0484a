// The worker is the feed-polling process: it loads guild subscriptions from
// Postgres, drives the polling schedules, delivers new articles to channel
// webhooks, and coordinates with sibling shards over websockets.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/synzen/Discord.RSS/internal/coordinator"
	"github.com/synzen/Discord.RSS/internal/domain/entity"
	controlHTTP "github.com/synzen/Discord.RSS/internal/handler/http/control"
	feedsHTTP "github.com/synzen/Discord.RSS/internal/handler/http/feeds"
	pgRepo "github.com/synzen/Discord.RSS/internal/infra/adapter/persistence/postgres"
	"github.com/synzen/Discord.RSS/internal/infra/db"
	"github.com/synzen/Discord.RSS/internal/infra/fetcher"
	"github.com/synzen/Discord.RSS/internal/infra/notifier"
	"github.com/synzen/Discord.RSS/internal/infra/parser"
	workerPkg "github.com/synzen/Discord.RSS/internal/infra/worker"
	"github.com/synzen/Discord.RSS/internal/observability/logging"
	"github.com/synzen/Discord.RSS/internal/resilience/retry"
	"github.com/synzen/Discord.RSS/internal/usecase/deliver"
	"github.com/synzen/Discord.RSS/internal/usecase/entitlement"
	"github.com/synzen/Discord.RSS/internal/usecase/faillink"
	"github.com/synzen/Discord.RSS/internal/usecase/feeds"
	"github.com/synzen/Discord.RSS/internal/usecase/poll"
)

func main() {
	logger := initLogger()

	workerMetrics := workerPkg.NewWorkerMetrics()
	workerMetrics.MustRegister()
	workerMetrics.RecordStart()

	cfg, err := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	if err != nil {
		logger.Error("failed to load worker configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker configuration loaded",
		slog.Int("shard_id", cfg.ShardID),
		slog.String("coordinator_role", cfg.CoordinatorRole),
		slog.Duration("default_refresh_interval", cfg.DefaultRefreshInterval),
		slog.Int("cycle_concurrency", cfg.CycleConcurrency),
		slog.Int("failure_threshold", cfg.FailureThreshold),
		slog.Duration("grace_window", cfg.GraceWindow),
		slog.Int("health_port", cfg.HealthPort))
	workerMetrics.RecordShard(cfg.ShardID, cfg.CoordinatorRole)
	logger = logging.WithShard(logger, cfg.ShardID)

	database := initDatabase(logger)
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	guildRepo := pgRepo.NewGuildRepo(database)
	vipRepo := pgRepo.NewVipRepo(database)
	failRepo := pgRepo.NewFailedLinkRepo(database)

	// Delivery destination: Discord webhooks when a directory is
	// configured, otherwise a no-op sink.
	directory, err := workerPkg.LoadWebhookDirectory(cfg.WebhooksPath)
	if err != nil {
		logger.Error("failed to load webhook directory", slog.Any("error", err))
		os.Exit(1)
	}

	var dest deliver.Destination
	var textSender notifier.TextSender
	if len(directory) > 0 {
		discord := notifier.NewDiscordDestination(notifier.DiscordConfig{}, directory, logger)
		dest = discord
		textSender = discord
		logger.Info("delivery destination initialized",
			slog.String("type", "discord"),
			slog.Int("channels", len(directory)))
	} else {
		dest = notifier.NewNoopDestination(logger)
		logger.Info("delivery destination initialized", slog.String("type", "noop"))
	}

	deliverSvc := deliver.NewService(dest, logger,
		cfg.DeliveryMaxConcurrent, float64(cfg.DeliveryPerSecond), cfg.DeliveryBurst)

	// Shards without a webhook directory cannot deliver suspension alerts
	// themselves; they forward the alert to shards that can.
	var alerter faillink.Alerter
	var forwarder *forwardingAlerter
	if textSender != nil {
		alerter = notifier.NewLinkAlerter(guildRepo, textSender, logger)
	} else {
		forwarder = &forwardingAlerter{logger: logger}
		alerter = forwarder
	}

	tracker := faillink.New(faillink.Config{
		FailureThreshold: cfg.FailureThreshold,
		GraceWindow:      cfg.GraceWindow,
	}, logger, failRepo, alerter)
	if err := tracker.Load(ctx); err != nil {
		logger.Warn("failed to load failed-link state, starting empty", slog.Any("error", err))
	}

	vipCache := entitlement.NewCache(vipRepo, logger)
	if err := vipCache.Refresh(ctx); err != nil {
		logger.Warn("initial entitlement refresh failed, starting empty", slog.Any("error", err))
	}

	var solver fetcher.ChallengeSolver
	if cfg.SolverURL != "" {
		solver = fetcher.NewHTTPSolver(cfg.SolverURL)
		logger.Info("challenge solver configured", slog.String("url", cfg.SolverURL))
	}
	fetchClient := fetcher.New(logger, solver)
	feedParser := parser.New()

	schedules, err := workerPkg.LoadSchedules(cfg.SchedulesPath)
	if err != nil {
		logger.Error("failed to load schedule definitions", slog.Any("error", err))
		os.Exit(1)
	}

	manager, err := poll.NewManager(poll.Deps{
		Fetcher:      fetchClient,
		Parser:       feedParser,
		Tracker:      tracker,
		Deliverer:    deliverSvc,
		Entitlements: vipCache,
		Guilds:       guildRepo,
		Logger:       logger,
	}, cfg.DefaultRefreshInterval, cfg.VipRefreshInterval, cfg.CycleConcurrency, schedules)
	if err != nil {
		logger.Error("failed to build schedule manager", slog.Any("error", err))
		os.Exit(1)
	}

	coord, hub, runTransport := setupCoordinator(cfg, manager, tracker, vipCache, guildRepo, logger)
	coord.OnKill = cancel
	if textSender != nil {
		coord.OnAlert = alerter.Alert
	}
	if forwarder != nil {
		forwarder.broadcast = func(ctx context.Context, url, message string) {
			coord.Broadcast(ctx, coordinator.KindFailedLinksAlert,
				coordinator.AlertPayload{URL: url, Message: message})
		}
	}
	tracker.OnUniformize(func(records []*entity.FailedLinkRecord) {
		coord.Broadcast(context.Background(), coordinator.KindFailedLinksUniformize,
			coordinator.FailedLinksPayload{Records: records})
	})

	feedsSvc := feeds.NewService(guildRepo, fetchClient, feedParser, vipCache,
		coord, manager, cfg.DefaultMaxFeeds, logger)

	startMetricsServer(ctx, logger, func(mux *http.ServeMux) {
		feedsHTTP.Register(mux, feedsSvc, guildRepo)
		controlHTTP.Register(mux, coord)
		if hub != nil {
			mux.Handle("/coordinator", hub)
		}
	})

	healthServer := workerPkg.NewHealthServer(fmt.Sprintf(":%d", cfg.HealthPort), manager.State, logger)
	go func() {
		if err := healthServer.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()

	ready := func() {
		healthServer.SetReady(true)
		workerMetrics.RecordReady()
		logger.Info("worker ready",
			slog.Int("shard_id", cfg.ShardID),
			slog.Int("schedules", len(manager.Schedules())))
	}

	// Client shards start on the hub's startInit command, one shard at a
	// time; hub and standalone processes start themselves. The callback is
	// wired before the transport connects so an immediate start command is
	// not missed.
	if cfg.CoordinatorRole == workerPkg.RoleClient {
		coord.OnStarted = ready
		logger.Info("waiting for start command from hub")
	} else {
		if err := manager.Start(ctx); err != nil {
			logger.Error("failed to start schedule manager", slog.Any("error", err))
			os.Exit(1)
		}
		ready()
	}

	if runTransport != nil {
		go runTransport(ctx)
	}

	go refreshEntitlements(ctx, cfg.EntitlementRefreshInterval, vipCache, coord, logger)

	waitForShutdown(ctx, logger)

	healthServer.SetReady(false)
	manager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := deliverSvc.Shutdown(shutdownCtx); err != nil {
		logger.Error("delivery shutdown incomplete", slog.Any("error", err))
	}

	cancel()
	logger.Info("worker stopped")
}

// initLogger initializes the structured logger and installs it as the
// process default.
func initLogger() *slog.Logger {
	logger := logging.NewLogger()
	slog.SetDefault(logger)
	return logger
}

// initDatabase opens the database connection and applies migrations. The
// database may still be starting up, so connection failures are retried
// with backoff.
func initDatabase(logger *slog.Logger) *sql.DB {
	connectRetry := retry.Config{
		MaxAttempts:    10,
		InitialDelay:   time.Second,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}

	var database *sql.DB
	err := retry.WithBackoff(context.Background(), connectRetry, func() error {
		var openErr error
		database, openErr = db.Open(logger)
		return openErr
	})
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}

	if err := retry.WithBackoff(context.Background(), retry.StoreConfig(), func() error {
		return db.MigrateUp(database)
	}); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}
	return database
}

// setupCoordinator builds the coordinator for the configured role. It
// returns the coordinator, the hub handler to mount when this process is
// the hub (nil otherwise), and a transport loop to run in the background
// (nil unless the role is client).
func setupCoordinator(
	cfg *workerPkg.WorkerConfig,
	manager *poll.Manager,
	tracker *faillink.Tracker,
	vipCache *entitlement.Cache,
	guilds coordinator.GuildStore,
	logger *slog.Logger,
) (*coordinator.Coordinator, *coordinator.Hub, func(context.Context)) {
	switch cfg.CoordinatorRole {
	case workerPkg.RoleHub:
		hub := coordinator.NewHub(logger)
		coord := coordinator.New(cfg.ShardID, hub, manager, tracker, vipCache, guilds, logger)
		hub.Local = coord.Handle
		hub.OnConnect = func(shardID int) {
			coord.EnqueueShardInit(context.Background(), shardID)
		}
		return coord, hub, nil

	case workerPkg.RoleClient:
		var coord *coordinator.Coordinator
		client := coordinator.NewClient(cfg.CoordinatorURL, cfg.ShardID,
			func(ctx context.Context, env coordinator.Envelope) {
				coord.Handle(ctx, env)
			}, logger)
		coord = coordinator.New(cfg.ShardID, client, manager, tracker, vipCache, guilds, logger)
		run := func(ctx context.Context) {
			if err := client.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("coordinator client stopped", slog.Any("error", err))
			}
		}
		return coord, nil, run

	default:
		loopback := coordinator.NewLoopback()
		coord := coordinator.New(cfg.ShardID, loopback, manager, tracker, vipCache, guilds, logger)
		loopback.Join(coord)
		return coord, nil, nil
	}
}

// refreshEntitlements periodically re-reads the paid-tier cache and fans
// the fresh snapshot out to sibling shards.
func refreshEntitlements(ctx context.Context, interval time.Duration, vipCache *entitlement.Cache, coord *coordinator.Coordinator, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := vipCache.Refresh(ctx); err != nil {
				logger.Warn("entitlement refresh failed, keeping previous snapshot",
					slog.Any("error", err))
				continue
			}
			users, servers := vipCache.Snapshot()
			coord.Broadcast(ctx, coordinator.KindEntitlementsUniformize,
				coordinator.EntitlementsPayload{Users: users, Servers: servers})
			bl := vipCache.BlacklistSnapshot()
			coord.Broadcast(ctx, coordinator.KindBlacklistUniformize,
				coordinator.BlacklistPayload{Guilds: bl.Guilds, Users: bl.Users})
		}
	}
}

// forwardingAlerter relays link suspension alerts over the coordinator so a
// shard holding the channel's webhook can deliver them. The broadcast hook is
// bound once the coordinator exists.
type forwardingAlerter struct {
	logger    *slog.Logger
	broadcast func(ctx context.Context, url, message string)
}

func (a *forwardingAlerter) Alert(ctx context.Context, url, message string) {
	if a.broadcast == nil {
		a.logger.Warn("dropping link alert, coordinator not ready", slog.String("url", url))
		return
	}
	a.broadcast(ctx, url, message)
}

// waitForShutdown blocks until a termination signal arrives or the root
// context is cancelled by a kill message.
func waitForShutdown(ctx context.Context, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("shutdown requested by coordinator")
	}
}
