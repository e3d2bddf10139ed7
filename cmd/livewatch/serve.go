package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/pscheid92/livewatch/internal/adapter/discord"
	"github.com/pscheid92/livewatch/internal/adapter/httpserver"
	"github.com/pscheid92/livewatch/internal/adapter/metrics"
	"github.com/pscheid92/livewatch/internal/adapter/redis"
	"github.com/pscheid92/livewatch/internal/adapter/twitch"
	"github.com/pscheid92/livewatch/internal/app"
	"github.com/pscheid92/livewatch/internal/broadcast"
	"github.com/pscheid92/livewatch/internal/platform/config"
	"github.com/pscheid92/livewatch/internal/platform/logging"
)

const (
	categoryMemoryTTL     = time.Hour
	categoryEvictInterval = 10 * time.Minute
	bootstrapTimeout      = 2 * time.Minute
	shutdownTimeout       = 15 * time.Second
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and event tracking",
		Long: `Run the dashboard, the admin UI and the EventSub webhook receiver.

Configuration is read from the environment (and a .env file if present).
See DEFAULT_ADMIN_USERNAME, STATE_FILE, DATABASE_URL, REDIS_URL,
WEBHOOK_CALLBACK_URL and EVENTSUB_SECRET.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "eventsub", cfg.EventSubEnabled())

	clock := clockwork.NewRealClock()
	reg := metrics.NewRegistry()
	trackerMetrics := metrics.NewTrackerMetrics(reg)
	breakerMetrics := metrics.NewBreakerMetrics(reg)

	store, healthChecks, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var l2 goredis.Cmdable
	if cfg.RedisURL != "" {
		rdb, err := redis.NewClient(ctx, cfg.RedisURL,
			redis.NewCircuitBreakerHook(breakerMetrics),
			redis.NewMetricsHook(metrics.NewRedisMetrics(reg)),
		)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() { _ = rdb.Close() }()

		l2 = rdb
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	helix := twitch.NewHelixResolver(clock)
	categories := redis.NewCategoryCache(clock, helix, l2, categoryMemoryTTL, metrics.NewCacheMetrics(reg))
	stopEviction := categories.StartEvictionTimer(categoryEvictInterval)
	defer stopEviction()

	hub := broadcast.NewHub(clock, cfg.MaxWebSocketConnections, metrics.NewWebSocketMetrics(reg))
	defer hub.Stop()

	dispatcher := discord.NewDispatcher(clock, cfg.NotifyTimeout, cfg.NotifyQueueSize,
		discord.WithMetrics(metrics.NewNotifyMetrics(reg)),
		discord.WithBreakerMetrics(breakerMetrics),
	)

	tracker, err := app.NewTracker(ctx, store, categories, hub, dispatcher, clock, trackerMetrics)
	if err != nil {
		return err
	}
	queue := app.NewEventQueue(tracker, cfg.EventQueueSize, trackerMetrics)

	subs := app.NewSubscriptions(twitch.NewEventSubConnector(cfg.WebhookCallbackURL, cfg.EventSubSecret), tracker)
	admin := app.NewAdmin(tracker, subs, helix, helix, helix, dispatcher)

	var webhookHandler http.Handler
	if cfg.EventSubEnabled() {
		webhookHandler = http.HandlerFunc(twitch.NewWebhookHandler(cfg.EventSubSecret, queue).HandleEventSub)
	} else {
		slog.Warn("WEBHOOK_CALLBACK_URL not set, live status will not be tracked")
	}

	srv, err := httpserver.NewServer(cfg, clock, admin, tracker, subs, hub, webhookHandler, reg, healthChecks)
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// The webhook route must be up before EventSub verifies the conduit shard.
	go func() {
		bootCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
		defer cancel()
		admin.Bootstrap(bootCtx)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received, cleaning up")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
	if err := queue.Stop(shutdownCtx); err != nil {
		slog.Error("Event queue did not drain", "error", err)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		slog.Error("Notification queue did not drain", "error", err)
	}
	if err := subs.Wait(shutdownCtx); err != nil {
		slog.Error("Pending unsubscribes did not finish", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}
