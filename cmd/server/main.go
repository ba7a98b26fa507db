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

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"

	"github.com/zyro/backend/internal/broker"
	"github.com/zyro/backend/internal/config"
	"github.com/zyro/backend/internal/database"
	"github.com/zyro/backend/internal/db"
	"github.com/zyro/backend/internal/logging"
	"github.com/zyro/backend/internal/realtime"
	"github.com/zyro/backend/internal/router"
	"github.com/zyro/backend/internal/services"
	sentryscrub "github.com/zyro/backend/internal/sentry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Initialize structured logging (reads LOGGING_LEVEL env var)
	logging.Initialize()

	// Load configuration
	cfg := config.Load()

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:                   cfg.SentryDSN,
			Environment:           cfg.SentryEnvironment,
			BeforeSend:            sentryscrub.ScrubEvent,
			BeforeSendTransaction: sentryscrub.ScrubTransaction,
		})
		if err != nil {
			slog.Error("failed to initialize sentry", slog.Any("error", err))
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database
	sqlDB, err := database.New(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(sqlDB); err != nil {
		slog.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize queries
	queries := db.New(sqlDB)

	if _, err := services.SeedAdmin(context.Background(), queries, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName); err != nil {
		slog.Error("failed to seed admin account", slog.Any("error", err))
		os.Exit(1)
	}

	// Realtime: Redis when configured so every instance shares one bus,
	// otherwise an in-process broker for single-instance deployments.
	var b broker.Broker
	if cfg.RedisURL != "" {
		rb, err := broker.NewRedis(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", slog.Any("error", err))
			os.Exit(1)
		}
		b = rb
		slog.Info("realtime broker: redis")
	} else {
		b = broker.NewMemory(0)
		slog.Info("realtime broker: in-process")
	}

	manager := realtime.NewManager(b, realtime.NewRegistry(), realtime.Options{
		PollInterval:     cfg.RealtimePollInterval,
		SendTimeout:      cfg.RealtimeSendTimeout,
		SubscribeTimeout: cfg.RealtimeSubscribeTimeout,
	})
	publisher := realtime.NewPublisher(b, realtime.PublisherOptions{
		Timeout:   cfg.RealtimePublishTimeout,
		QueueSize: cfg.RealtimePublishQueue,
	})

	// Create router
	rt := router.New(cfg, router.Deps{
		Queries:   queries,
		Broker:    b,
		Rooms:     manager,
		Publisher: publisher,
	})

	var handler http.Handler = rt
	if cfg.SentryDSN != "" {
		handler = sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle(handler)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		slog.Info("starting server", slog.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Websockets are hijacked, so http.Server.Shutdown does not track them.
	if err := rt.Shutdown(shutdownCtx); err != nil {
		slog.Warn("websocket shutdown incomplete", slog.Any("error", err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", slog.Any("error", err))
	}
	publisher.Close()
	manager.Close()
	if err := b.Close(); err != nil {
		slog.Warn("failed to close broker", slog.Any("error", err))
	}
	slog.Info("server stopped")
}
