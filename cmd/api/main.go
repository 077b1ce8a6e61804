package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aksara/backend/internal/auth"
	"aksara/backend/internal/config"
	"aksara/backend/internal/conversation"
	"aksara/backend/internal/db"
	"aksara/backend/internal/document"
	"aksara/backend/internal/gemini"
	"aksara/backend/internal/httpapi"
	"aksara/backend/internal/logging"
	"aksara/backend/internal/metrics"
	"aksara/backend/internal/openaicompat"
	"aksara/backend/internal/provider"
	"aksara/backend/internal/ratelimit"
	"aksara/backend/internal/relay"
	"aksara/backend/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New(logging.Config{})
		bootLogger.Fatal().Err(err).Msg("load config")
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api stopped")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	database, err := db.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(ctx, database); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(registry)

	objectStore, err := storage.New(ctx, cfg)
	if err != nil {
		return err
	}
	if objectStore != nil {
		logger.Info().Str("backend", objectStore.Backend()).Msg("document archive enabled")
	}

	upstreamHTTP := newUpstreamClient(cfg.UpstreamTimeout)
	relayService := relay.NewService(relay.Options{
		Gemini: gemini.NewClient(upstreamHTTP),
		Chat: openaicompat.NewClient(upstreamHTTP, openaicompat.Attribution{
			SiteURL: cfg.OpenRouterSiteURL,
			AppName: cfg.OpenRouterAppName,
		}),
		Credentials: provider.Credentials{
			GeminiAPIKey:      cfg.GeminiAPIKey,
			GeminiBaseURL:     cfg.GeminiBaseURL,
			GeminiModel:       cfg.GeminiModel,
			DeepSeekAPIKey:    cfg.DeepSeekAPIKey,
			DeepSeekBaseURL:   cfg.DeepSeekBaseURL,
			DeepSeekModel:     cfg.DeepSeekModel,
			OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
			OpenRouterBaseURL: cfg.OpenRouterBaseURL,
		},
		DefaultModel: cfg.DefaultModel,
		Metrics:      appMetrics,
		Logger:       logger.With().Str("component", "relay").Logger(),
	})

	deps := httpapi.Deps{
		Config:        cfg,
		Relay:         relayService,
		Conversations: conversation.NewStore(database),
		Documents: document.NewExtractor(document.Options{
			Store:         objectStore,
			StoragePrefix: cfg.StoragePrefix,
			MaxBytes:      cfg.MaxUploadBytes,
			Metrics:       appMetrics,
			Logger:        logger.With().Str("component", "document").Logger(),
		}),
		Verifier: auth.NewGoogleVerifier(cfg.GoogleClientID),
		Metrics:  appMetrics,
		Gatherer: registry,
		Logger:   logger,
	}

	if cfg.RateLimitEnabled() {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(ratelimit.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Limit:    cfg.RateLimitPerMinute,
			Window:   time.Minute,
		})
		if err != nil {
			return err
		}
		defer limiter.Close()
		if err := limiter.Ping(ctx); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("rate limiter redis unreachable, requests will not be limited until it recovers")
		}
		deps.Limiter = limiter
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
		return nil
	})

	return group.Wait()
}

// newUpstreamClient bounds the wait for upstream response headers only, so a
// healthy stream may run longer than timeout.
func newUpstreamClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}
