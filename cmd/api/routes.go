package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/autonest/backend/internal/auth"
	"github.com/autonest/backend/internal/cache"
	"github.com/autonest/backend/internal/config"
	"github.com/autonest/backend/internal/dashboard"
	"github.com/autonest/backend/internal/execution"
	"github.com/autonest/backend/internal/handlers"
	"github.com/autonest/backend/internal/ledger"
	"github.com/autonest/backend/internal/metrics"
	"github.com/autonest/backend/internal/middleware"
	"github.com/autonest/backend/internal/payment"
	"github.com/autonest/backend/internal/registry"
	"github.com/autonest/backend/internal/repository"
	"github.com/autonest/backend/internal/router"
	"github.com/autonest/backend/internal/runlog"
	"github.com/autonest/backend/internal/services"
)

// buildHandler wires repositories, services and handlers into the API.
// rdb may be nil, which turns rate limiting off.
func buildHandler(cfg *config.Config, pool *pgxpool.Pool, rdb *cache.Redis, m *metrics.Metrics, logger *slog.Logger) (http.Handler, error) {
	accountRepo := repository.NewAccountRepo(pool)
	creditRepo := repository.NewCreditRepo(pool)
	runLogRepo := repository.NewRunLogRepo(pool)
	suggestionRepo := repository.NewSuggestionRepo(pool)

	runs := runlog.NewLogger(runLogRepo, m, logger)

	gateway := payment.NewClient(payment.Config{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		Environment:  cfg.PayPal.Environment,
		BaseURL:      cfg.PayPal.BaseURL,
		Currency:     cfg.PayPal.Currency,
		Timeout:      cfg.PayPal.Timeout,
	}, m, logger)
	ledgerSvc := ledger.NewService(pool, accountRepo, creditRepo, gateway, runs, m, logger)

	validator, err := execution.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("load tool schemas: %w", err)
	}
	caller := execution.NewCaller(cfg.Tools.Timeout, m, logger)
	adapter := execution.NewAdapter(caller, validator, registry.Endpoints(cfg.Tools), logger)
	catalog := registry.NewCatalog(cfg.Tools)
	runner := services.NewRunner(ledgerSvc, runs, logger)

	authSvc := auth.NewService(accountRepo, cfg.Auth, cfg.DefaultCredits)

	// A nil *redis.Client must not reach the limiter as a non-nil interface.
	var scripter redis.Scripter
	if client := rdb.Client(); client != nil {
		scripter = client
	}

	api := router.New(router.Deps{
		Auth:      authSvc,
		RateLimit: middleware.RateLimit(cfg.RateLimit, scripter, logger),
		Payments:  handlers.NewPaymentHandler(ledgerSvc, logger),
		Tools:     handlers.NewToolHandler(adapter, runner, catalog, cfg.Tools.MaxUploadBytes, logger),
		Registry:  registry.NewHandler(catalog, logger),
		Dashboard: dashboard.NewHandler(accountRepo, creditRepo, runLogRepo, suggestionRepo, ledgerSvc, logger),
		Metrics:   m,
		Health:    pool.Ping,
		Logger:    logger,
	})

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
	}).Handler(api), nil
}
