package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/rostersync/rostersync/internal/adapters/sqlite"
	"github.com/rostersync/rostersync/internal/app/services"
	"github.com/rostersync/rostersync/internal/backoff"
	"github.com/rostersync/rostersync/internal/config"
	"github.com/rostersync/rostersync/internal/db"
	federationapi "github.com/rostersync/rostersync/internal/federation"
	"github.com/rostersync/rostersync/internal/observability"
	"github.com/rostersync/rostersync/internal/scheduler"
	"github.com/rostersync/rostersync/internal/server"
	"github.com/rostersync/rostersync/internal/server/routes"
	"github.com/rostersync/rostersync/internal/vault"
	"github.com/rostersync/rostersync/internal/webhooks/federation"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := slog.New(observability.WrapSlogHandler(
		slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOpenTelemetry(ctx, log, observability.OpenTelemetryConfig{
		Enabled:           cfg.Observability.Enabled,
		OTLPEndpoint:      cfg.Observability.OTLPEndpoint,
		OTLPTraceHeaders:  cfg.Observability.OTLPTraceHeaders,
		OTLPMetricHeaders: cfg.Observability.OTLPMetricHeaders,
		ServiceName:       cfg.Observability.ServiceName,
		ServiceVer:        cfg.Observability.ServiceVer,
		SamplingRatio:     cfg.Observability.SamplingRatio,
		MetricsConsole:    cfg.Observability.MetricsConsole,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "error", err)
		}
	}()

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Error("database close failed", "error", err)
		}
	}()

	credentialVault, err := vault.New(cfg.Vault.Key)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	connectorStore := sqlite.NewConnectorStore(database)
	sessionStore := sqlite.NewSessionStore(database)
	historyStore := sqlite.NewHistoryStore(database)
	rosterStore := sqlite.NewRosterStore(database)

	apiClient := federationapi.NewClient(connectorStore, connectorStore, credentialVault, log, federationapi.ClientOptions{
		Retry: backoff.Policy{
			MaxAttempts: cfg.Sync.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay(),
			MaxDelay:    cfg.RetryMaxDelay(),
		},
		RateLimit: cfg.Sync.RequestRPS,
		RateBurst: cfg.Sync.RequestBurst,
	})
	fetcher := federationapi.NewFetcher(apiClient, log)
	mapper := federationapi.NewMapper()

	healthService := services.NewHealthService(connectorStore, log)
	orchestrator := services.NewOrchestrator(
		connectorStore, sessionStore, historyStore,
		fetcher, mapper, rosterStore, healthService, log,
		services.OrchestratorOptions{RunBudget: cfg.SyncRunBudget()},
	)
	connectorService := services.NewConnectorService(connectorStore, credentialVault, fetcher, log)
	recoveryService := services.NewRecoveryService(connectorStore, healthService, orchestrator, log)
	analyticsService := services.NewAnalyticsService(historyStore)
	webhookHandler := federation.NewHandler(connectorStore, orchestrator, rosterStore, log)

	srv := server.New(log)
	srv.RegisterRouter(routes.NewConnectorRoutes(connectorService))
	srv.RegisterRouter(routes.NewSyncRoutes(orchestrator, recoveryService, sessionStore))
	srv.RegisterRouter(routes.NewAnalyticsRoutes(analyticsService, database))
	srv.RegisterRouter(routes.NewWebhookRoutes(webhookHandler))

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(connectorStore, orchestrator, log)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(fmt.Sprintf(":%d", cfg.Server.Port))
	}()
	log.Info("server started", "port", cfg.Server.Port, "environment", cfg.Environment)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
