package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"speaking-exam-subscription/internal/config"
	"speaking-exam-subscription/internal/domain/model"
	"speaking-exam-subscription/internal/domain/ports/adapter"
	payAdapters "speaking-exam-subscription/internal/infra/adapters/payment"
	pg "speaking-exam-subscription/internal/infra/db/postgres"
	"speaking-exam-subscription/internal/infra/logging"
	"speaking-exam-subscription/internal/infra/metrics"
	red "speaking-exam-subscription/internal/infra/redis"
	"speaking-exam-subscription/internal/infra/sched"
	"speaking-exam-subscription/internal/infra/web"
	"speaking-exam-subscription/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop payment gateways)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	tokenCache := red.NewTokenCache(redisClient)

	// ---- Repositories ----
	txManager := pg.NewTxManager(pool)
	userRepo := pg.NewUserRepo(pool)
	txnRepo := pg.NewTransactionRepo(pool)
	usageRepo := pg.NewUsageRepo(pool)
	planRepo := pg.NewPlanRepoCacheDecorator(pg.NewPlanRepo(pool), redisClient)

	// ---- Payment gateways ----
	gateways := map[model.Provider]adapter.PaymentGateway{}
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] noop payment gateways in use")
		for _, p := range []model.Provider{model.ProviderClick, model.ProviderPayme, model.ProviderGooglePlay} {
			gateways[p] = &payAdapters.NoopGateway{Provider: p}
		}
	} else {
		click, err := payAdapters.NewClickGateway(cfg.Providers.Click)
		if err != nil {
			logger.Fatal().Err(err).Msg("click gateway")
		}
		payme, err := payAdapters.NewPaymeGateway(cfg.Providers.Payme)
		if err != nil {
			logger.Fatal().Err(err).Msg("payme gateway")
		}
		tokens, err := payAdapters.NewGoogleTokenSource(cfg.Providers.GooglePlay, tokenCache)
		if err != nil {
			logger.Fatal().Err(err).Msg("google token source")
		}
		play, err := payAdapters.NewGooglePlayGateway(cfg.Providers.GooglePlay, tokens)
		if err != nil {
			logger.Fatal().Err(err).Msg("google play gateway")
		}
		gateways[click.Name()] = click
		gateways[payme.Name()] = payme
		gateways[play.Name()] = play
	}

	// ---- Use cases ----
	entitlementUC := usecase.NewEntitlementUseCase(userRepo, logger)
	paymentUC := usecase.NewPaymentUseCase(txnRepo, planRepo, entitlementUC, gateways, txManager, logger)
	quotaUC := usecase.NewQuotaUseCase(usageRepo, entitlementUC, usecase.QuotaLimits{
		FullExamsPerDay:    cfg.Quota.FreeFullExamsPerDay,
		PartPracticePerDay: cfg.Quota.FreePartPracticePerDay,
	}, logger)
	clickHookUC := usecase.NewClickWebhookUseCase(txnRepo, planRepo, entitlementUC, txManager, cfg.Providers.Click.SecretKey, logger)
	playHookUC := usecase.NewGooglePlayWebhookUseCase(paymentUC, entitlementUC, userRepo, planRepo, logger)

	// ---- HTTP server ----
	auth := web.NewAuthManager(cfg.Auth.JWTSecret)
	srv := web.NewServer(paymentUC, quotaUC, entitlementUC, clickHookUC, playHookUC, auth, rateLimiter, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server")
		}
	}()

	// ---- Payment reconciler ----
	reconciler := sched.NewPaymentReconciler(
		paymentUC, txnRepo,
		cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, cfg.Reconciler.FailAfter,
		logger,
	)
	go reconciler.Start(ctx)

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
