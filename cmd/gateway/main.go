// Package main implements the finvault API gateway: the authentication
// boundary that verifies API keys, exchanges them for short-lived internal
// credentials and proxies requests to the platform services.
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

	"github.com/finvault/gateway/internal/auth"
	"github.com/finvault/gateway/internal/cache"
	"github.com/finvault/gateway/internal/config"
	"github.com/finvault/gateway/internal/identity"
	"github.com/finvault/gateway/internal/logging"
	"github.com/finvault/gateway/internal/metrics"
	"github.com/finvault/gateway/internal/middleware"
	"github.com/finvault/gateway/internal/storage"
	"github.com/finvault/gateway/internal/storage/memory"
	"github.com/finvault/gateway/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config/gateway.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New("gateway", cfg.Logging.Level, cfg.Logging.Format)
	m := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("key store unavailable")
	}

	limiter := auth.NewRateLimiter()
	authenticator := auth.NewAuthenticator(store, limiter, logger)
	issuer := auth.NewIssuer(store, logger, cfg.Auth.DefaultRateLimitPerMinute, cfg.Auth.DefaultDailyQuota)
	minter := middleware.NewTokenMinter([]byte(cfg.Auth.TokenSecret), cfg.Auth.TokenIssuer, cfg.Auth.TokenTTL.Std())

	fallback := openFallbackCache(ctx, cfg, logger)
	verifiers := buildVerifiers(cfg, fallback, logger, m)

	stop := make(chan struct{})
	limiter.StartCleanup(10*time.Minute, stop)

	srv := newServer(cfg, serverDeps{
		logger:        logger,
		metrics:       m,
		authenticator: authenticator,
		issuer:        issuer,
		minter:        minter,
		verifiers:     verifiers,
	})

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	close(stop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown incomplete")
	}
}

func openStore(ctx context.Context, cfg *config.Config) (storage.KeyStore, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg.Storage.PostgresDSN)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func openFallbackCache(ctx context.Context, cfg *config.Config, logger *logging.Logger) *cache.FallbackCache {
	var remote cache.RemoteCache
	if cfg.Redis.Enabled {
		redisCache, err := cache.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			// The distributed tier is an availability optimization; the
			// gateway still runs on the local tier alone.
			logger.WithError(err).Warn("redis unavailable, fallback cache is local only")
		} else {
			remote = redisCache
		}
	}
	return cache.NewFallbackCache(cache.NewLocalCache(), remote, logger)
}

func buildVerifiers(cfg *config.Config, fallback *cache.FallbackCache, logger *logging.Logger, m *metrics.Metrics) map[string]*identity.ResilientVerifier {
	resilient := identity.ResilientConfig{
		MaxRetries:        cfg.Resilience.MaxRetries,
		InitialBackoff:    cfg.Resilience.InitialBackoff.Std(),
		MaxBackoff:        cfg.Resilience.MaxBackoff.Std(),
		BackoffMultiplier: cfg.Resilience.BackoffMultiplier,
		Jitter:            cfg.Resilience.Jitter,
		CallTimeout:       cfg.Resilience.CallTimeout.Std(),
		CacheTTL:          cfg.Resilience.CacheTTL.Std(),
		Breaker: identity.BreakerConfig{
			TripThreshold:   cfg.Resilience.TripThreshold,
			TrackingPeriod:  cfg.Resilience.TrackingPeriod.Std(),
			ResetInterval:   cfg.Resilience.ResetInterval.Std(),
			ActiveThreshold: cfg.Resilience.ActiveThreshold,
		},
	}

	verifiers := make(map[string]*identity.ResilientVerifier)
	if cfg.Providers.Google.Enabled {
		v := identity.NewGoogleVerifier(cfg.Providers.Google.Timeout.Std())
		verifiers[v.Name()] = identity.NewResilientVerifier(v, fallback, resilient, logger, m)
	}
	if cfg.Providers.Facebook.Enabled {
		v := identity.NewFacebookVerifier(cfg.Providers.Facebook.AppToken, cfg.Providers.Facebook.Timeout.Std())
		verifiers[v.Name()] = identity.NewResilientVerifier(v, fallback, resilient, logger, m)
	}
	return verifiers
}
