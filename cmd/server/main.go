package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"CampaignPulse/internal/api"
	"CampaignPulse/internal/config"
	"CampaignPulse/internal/db"
	"CampaignPulse/internal/dispatch"
	"CampaignPulse/internal/email"
	"CampaignPulse/internal/identity"
	"CampaignPulse/internal/metrics"
	"CampaignPulse/internal/quota"
	"CampaignPulse/internal/webhook"
)

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ------------------------------------------------
	// Database
	// ------------------------------------------------
	store, err := db.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	// ------------------------------------------------
	// Redis (rate-limit windows)
	// ------------------------------------------------
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("invalid redis url", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Delivery Provider
	// ------------------------------------------------
	var provider email.Provider
	switch cfg.Provider {
	case config.ProviderSMTP:
		provider = &email.SMTPProvider{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
		}
	default:
		provider = email.NewSendGrid(cfg.SendGridAPIKey, cfg.SendGridBaseURL, cfg.ProviderTimeout)
	}
	logger.Info("delivery provider selected", zap.String("provider", cfg.Provider))

	// ------------------------------------------------
	// Quota + Rate Governor
	// ------------------------------------------------
	governor := &quota.Governor{
		Limiter:    quota.NewRedisWindow(rdb),
		Usage:      store,
		RateMax:    cfg.SendRateLimitMax,
		RateWindow: cfg.SendRateLimitWindow,
		Log:        logger,
	}

	// ------------------------------------------------
	// Dispatch Engine
	// ------------------------------------------------
	engine := &dispatch.Engine{
		Provider: provider,
		Gate:     governor,
		Identity: &identity.Resolver{
			Domains:      store,
			SharedDomain: cfg.SharedSendingDomain,
			Log:          logger,
		},
		Store:      store,
		Limiter:    rate.NewLimiter(rate.Limit(cfg.ProviderRateLimit), cfg.ProviderRateLimit),
		BatchSize:  cfg.BatchSize,
		MaxRetries: cfg.RetryAttempts,
		BaseDelay:  cfg.RetryBaseDelay,
		Log:        logger,
	}

	// ------------------------------------------------
	// Webhook Ingestion
	// ------------------------------------------------
	verifier, err := webhook.NewVerifier(cfg.WebhookPublicKey, logger)
	if err != nil {
		logger.Fatal("invalid webhook public key", zap.Error(err))
	}

	processor := &webhook.Processor{
		Store:   store,
		Workers: cfg.WebhookWorkers,
		Log:     logger,
	}

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Sender:   engine,
		Accounts: store,
		Verifier: verifier,
		Events:   processor,
		DB:       store,

		AllowedOrigins: cfg.CORSAllowedOrigins,
		MaxCSVRows:     cfg.MaxCSVRows,
		Log:            logger,
	}

	apiServer := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           apiHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	// In-flight sends detach from the request context, so give them room
	// to finish their current batch.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}
