package main

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/finvault/gateway/internal/auth"
	"github.com/finvault/gateway/internal/config"
	"github.com/finvault/gateway/internal/identity"
	"github.com/finvault/gateway/internal/logging"
	"github.com/finvault/gateway/internal/metrics"
	"github.com/finvault/gateway/internal/middleware"
)

type serverDeps struct {
	logger        *logging.Logger
	metrics       *metrics.Metrics
	authenticator *auth.Authenticator
	issuer        *auth.Issuer
	minter        *middleware.TokenMinter
	verifiers     map[string]*identity.ResilientVerifier
}

func newServer(cfg *config.Config, deps serverDeps) *http.Server {
	router := mux.NewRouter()

	tracing := middleware.NewTracing(deps.logger)
	cors := middleware.NewCORS(cfg.Gateway.AllowedOrigins)
	exchange := middleware.NewExchange(deps.authenticator, deps.minter, middleware.ExchangeConfig{
		PathPrefixes:   cfg.Gateway.PathPrefixes,
		ExcludedPaths:  cfg.Gateway.ExcludedPaths,
		AuthTimeout:    cfg.Gateway.AuthTimeout.Std(),
		ProductionMode: cfg.Gateway.ProductionMode,
	}, deps.logger, deps.metrics)

	router.Use(tracing.Handler, cors.Handler, middleware.Metrics(deps.metrics), exchange.Handler)

	router.HandleFunc("/health", healthHandler()).Methods(http.MethodGet)
	router.Handle("/metrics", deps.metrics.Handler()).Methods(http.MethodGet)

	// Social login is unauthenticated; throttle it by client IP.
	ipLimiter := middleware.NewIPLimiter(cfg.EdgeLimit.RequestsPerSecond, cfg.EdgeLimit.Burst, deps.logger)
	router.Handle("/auth/social/{provider}",
		ipLimiter.Handler(socialLoginHandler(deps.verifiers, deps.logger))).Methods(http.MethodPost)

	// Key administration requires a key carrying the admin scope; the
	// exchange middleware has already verified it by the time these run.
	adminScope := cfg.Auth.AdminScope
	router.Handle("/admin/keys", requireScope(adminScope, createKeyHandler(deps.issuer))).Methods(http.MethodPost)
	router.Handle("/admin/keys", requireScope(adminScope, listKeysHandler(deps.issuer))).Methods(http.MethodGet)
	router.Handle("/admin/keys/{id}", requireScope(adminScope, revokeKeyHandler(deps.issuer))).Methods(http.MethodDelete)

	// Everything under the exchange prefixes is proxied downstream with the
	// minted internal credential attached.
	if cfg.Upstream.URL != "" {
		proxy, err := newProxy(cfg.Upstream.URL, deps.logger)
		if err != nil {
			deps.logger.WithError(err).Fatal("invalid upstream url")
		}
		router.PathPrefix("/api/").Handler(proxy)
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}
}
