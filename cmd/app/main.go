// File: cmd/app/main.go
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

	"pixwave/internal/config"
	gen "pixwave/internal/infra/adapters/generation"
	pg "pixwave/internal/infra/db/postgres"
	"pixwave/internal/infra/logging"
	"pixwave/internal/infra/metrics"
	red "pixwave/internal/infra/redis"
	"pixwave/internal/infra/web"
	"pixwave/internal/infra/worker"
	"pixwave/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Runtime.Dev {
		log.Printf("[DEV MODE] Enabled")
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	// ---- Redis (optional; only backs the enqueue rate limiter) ----
	var limiter web.RateLimiter
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer redisClient.Close()
		limiter = red.NewRateLimiter(redisClient)
	} else {
		logger.Warn().Msg("redis not configured; enqueue rate limiting disabled")
	}

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	userRepo := pg.NewPostgresUserRepo(pool)
	requestRepo := pg.NewGenerationRequestRepo(pool, tm)

	// ---- Backend adapter ----
	backend, err := gen.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Timeout.Std())
	if err != nil {
		log.Fatalf("backend adapter: %v", err)
	}
	logger.Info().Str("base_url", cfg.Backend.BaseURL).Msg("generation backend configured")

	// ---- Worker ----
	proc := worker.NewQueueProcessor(requestRepo, userRepo, backend, tm, cfg.Queue.PollInterval.Std(), logger)
	proc.Start(ctx)
	defer proc.Stop()

	// ---- Use cases ----
	ledger := usecase.NewCreditLedger(userRepo, cfg.Credits, logger)
	genUC := usecase.NewGenerationUseCase(requestRepo, userRepo, ledger, proc, cfg.Queue.AssumedSecondsPerItem, logger)
	statsUC := usecase.NewStatsUseCase(userRepo, requestRepo, logger)

	// ---- HTTP servers ----
	srv := web.NewServer(genUC, ledger, statsUC, limiter, cfg.Queue.EnqueueRateLimit, cfg.Queue.EnqueueRateWindow.Std(), cfg.Admin.APIKey, logger)

	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Web.Port),
		Handler: srv.Router(),
	}
	adminServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler: srv.AdminRouter(),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Int("port", cfg.Web.Port).Msg("api server listening")
		errCh <- apiServer.ListenAndServe()
	}()
	go func() {
		logger.Info().Int("port", cfg.Admin.Port).Msg("admin server listening")
		errCh <- adminServer.ListenAndServe()
	}()

	// ---- Shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server stopped")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = adminServer.Shutdown(shutdownCtx)
	proc.Stop()
}
