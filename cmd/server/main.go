// Codetutor - AI tutoring gateway for coding practice editors.
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

	"github.com/ashureev/codetutor/internal/api"
	"github.com/ashureev/codetutor/internal/config"
	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/hint"
	"github.com/ashureev/codetutor/internal/identity"
	"github.com/ashureev/codetutor/internal/middleware"
	"github.com/ashureev/codetutor/internal/orchestrator"
	"github.com/ashureev/codetutor/internal/provider"
	"github.com/ashureev/codetutor/internal/ratelimit"
	"github.com/ashureev/codetutor/internal/retry"
	"github.com/ashureev/codetutor/internal/sanitize"
	"github.com/ashureev/codetutor/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

var errProviderNotConfigured = errors.New("provider not configured")

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "audit", cfg.Audit.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithRedactor(sanitize.NewRedactor(cfg.Provider.APIKey)),
	}

	// Audit log (optional).
	var (
		history api.History
		auditDB api.Pinger
	)
	if cfg.Audit.Enabled {
		repo, err := store.NewSQLite(cfg.Audit.DBPath)
		if err != nil {
			slog.Error("Failed to initialize audit database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				slog.Error("Failed to close audit database", "error", closeErr)
			}
		}()
		if err := repo.Ping(ctx); err != nil {
			slog.Error("Audit database health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Audit database connected", "path", cfg.Audit.DBPath)

		recorder := store.NewAsyncRecorder(repo, 0, logger)
		defer recorder.Close(5 * time.Second)

		opts = append(opts, orchestrator.WithAudit(recorder))
		history, auditDB = repo, repo
		store.StartRetentionWorker(ctx, repo, cfg.Audit.Retention, cfg.Audit.PurgeInterval)
	}

	// Completion provider (optional; requests fail with an authentication
	// error until one is configured).
	var (
		completer      provider.Completer = provider.Unconfigured{}
		providerHealth api.Pinger         = api.PingFunc(func(context.Context) error { return errProviderNotConfigured })
	)
	if cfg.Provider.Addr != "" {
		slog.Info("Connecting to completion provider via gRPC", "address", cfg.Provider.Addr)
		client, err := provider.NewGRPC(provider.GRPCConfig{
			Address:        cfg.Provider.Addr,
			Name:           cfg.Provider.Name,
			Credential:     cfg.Provider.APIKey,
			ConnectTimeout: cfg.Provider.ConnectTimeout,
			RequestTimeout: cfg.Provider.Timeout,
		}, logger)
		if err != nil {
			slog.Warn("Failed to connect to completion provider, requests will fail", "error", err)
		} else {
			defer client.Close()
			completer = client
			providerHealth = api.PingFunc(client.Health)
		}
	} else {
		slog.Info("Completion provider disabled (PROVIDER_GRPC_ADDR not set)")
	}

	orch := orchestrator.New(orchestratorConfig(cfg), completer, opts...)
	defer orch.Close()

	handler := api.NewHandler(orch, history, cfg.MaxRequestBodySize)
	healthHandler := api.NewHealthHandler(5*time.Second, map[string]api.Pinger{
		"provider": providerHealth,
		"audit":    auditDB,
	})
	wsHandler := api.NewWebSocketHandler(orch, cfg.AllowedOrigins, cfg.MaxRequestBodySize)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware)

	healthHandler.RegisterHealth(r)
	handler.RegisterRoutes(r)
	r.Get("/ws/assist", wsHandler.ServeHTTP)

	// Provider calls plus retries can take well over a minute, so there is
	// no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// orchestratorConfig maps application configuration onto orchestrator options.
func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	t := cfg.Tutor
	budgets := make(map[domain.RequestClass]ratelimit.Budget, len(t.RateLimits))
	for _, class := range domain.Classes() {
		if n, ok := t.RateLimits[class.String()]; ok {
			budgets[class] = ratelimit.Budget{Limit: n, Window: t.RateWindow}
		}
	}

	return orchestrator.Config{
		Hint: hint.StoreConfig{
			MaxLevel:             t.MaxHintLevel,
			SessionTTL:           t.SessionTTL,
			MaxSessionsPerSource: t.MaxSessionsPerSource,
		},
		Retry: retry.Config{
			MaxRetries: t.MaxRetries,
			BaseDelay:  t.RetryBaseDelay,
			MaxDelay:   t.RetryMaxDelay,
			MaxJitter:  t.RetryMaxJitter,
		},
		RateBudgets:      budgets,
		DefaultBudget:    ratelimit.Budget{Limit: t.RateLimits[config.DefaultBudgetKey], Window: t.RateWindow},
		ContextCacheSize: t.ContextCacheSize,
		ContextCacheTTL:  t.ContextCacheTTL,
		Limits: orchestrator.Limits{
			MaxCodeLength:        t.MaxCodeLength,
			MaxTitleLength:       t.MaxTitleLength,
			MaxDescriptionLength: t.MaxDescriptionLength,
			AllowedLanguages:     t.AllowedLanguages,
		},
		QueueSize:     t.QueueSize,
		SweepInterval: t.SweepInterval,
	}
}
