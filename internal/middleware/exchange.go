package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/finvault/gateway/internal/auth"
	"github.com/finvault/gateway/internal/errors"
	"github.com/finvault/gateway/internal/httputil"
	"github.com/finvault/gateway/internal/logging"
	"github.com/finvault/gateway/internal/metrics"
)

// APIKeyHeader is the primary inbound API key header.
const APIKeyHeader = "X-API-Key"

// apiKeyQueryParam is the query-string fallback for clients that cannot set
// headers.
const apiKeyQueryParam = "api_key"

// ExchangeConfig configures the gateway exchange middleware.
type ExchangeConfig struct {
	// PathPrefixes are the route prefixes subject to exchange. Empty means
	// every path.
	PathPrefixes []string
	// ExcludedPaths are exact paths never subject to exchange
	// (health, metrics, swagger).
	ExcludedPaths []string
	// AuthTimeout bounds key verification. A timeout fails closed.
	AuthTimeout time.Duration
	// ProductionMode strips rejection reasons from responses.
	ProductionMode bool
}

// Exchange verifies inbound API keys and swaps them for short-lived
// internal bearer credentials before the request reaches the proxy. Invalid
// keys short-circuit with 401, exhausted quotas with 429, and verification
// that cannot finish inside AuthTimeout with 503 — downstream services are
// never invoked on a failed exchange.
type Exchange struct {
	authenticator *auth.Authenticator
	minter        *TokenMinter
	config        ExchangeConfig
	logger        *logging.Logger
	metrics       *metrics.Metrics
}

// NewExchange creates the exchange middleware.
func NewExchange(authenticator *auth.Authenticator, minter *TokenMinter, config ExchangeConfig, logger *logging.Logger, m *metrics.Metrics) *Exchange {
	if config.AuthTimeout <= 0 {
		config.AuthTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Exchange{
		authenticator: authenticator,
		minter:        minter,
		config:        config,
		logger:        logger,
		metrics:       m,
	}
}

// Handler returns the middleware handler.
func (e *Exchange) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !e.subject(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		rawKey := ExtractAPIKey(r)
		if rawKey == "" {
			e.record("invalid")
			httputil.Unauthorized(w, "missing API key")
			return
		}

		verification, err := e.verifyWithTimeout(r.Context(), rawKey, clientIP(r))
		if err != nil {
			e.reject(w, r, err)
			return
		}

		token, err := e.minter.Mint(verification.SubjectID, verification.KeyID, verification.Scopes)
		if err != nil {
			e.record("error")
			e.logger.WithContext(r.Context()).WithError(err).Error("exchange token minting failed")
			httputil.InternalError(w)
			return
		}

		e.record("success")

		// Strip the inbound credential before anything is forwarded.
		r.Header.Del(APIKeyHeader)
		r.Header.Del("Authorization")
		if q := r.URL.Query(); q.Has(apiKeyQueryParam) {
			q.Del(apiKeyQueryParam)
			r.URL.RawQuery = q.Encode()
		}
		r.Header.Set(InternalAuthHeader, "Bearer "+token)

		ctx := logging.WithUserID(r.Context(), verification.SubjectID)
		ctx = WithScopes(ctx, verification.Scopes)
		ctx = WithKeyID(ctx, verification.KeyID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verifyWithTimeout runs key verification under the configured deadline.
// The edge fails closed: a deadline miss is a denial, not an allow.
func (e *Exchange) verifyWithTimeout(ctx context.Context, rawKey, requestIP string) (auth.Verification, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.AuthTimeout)
	defer cancel()

	type result struct {
		v   auth.Verification
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := e.authenticator.Verify(ctx, rawKey, requestIP)
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		return auth.Verification{}, errors.AuthenticationTimeout(e.config.AuthTimeout)
	}
}

func (e *Exchange) reject(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		e.record("error")
		httputil.InternalError(w)
		return
	}

	switch se.Code {
	case errors.CodeRateLimitExceeded:
		e.record("rate_limited")
		retryAfter := 1
		if v, ok := se.Details["retryAfter"].(float64); ok {
			retryAfter = int(v) + 1
		}
		httputil.TooManyRequests(w, r, se, retryAfter)
	case errors.CodeAuthenticationTimeout:
		e.record("timeout")
		httputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, nil)
	default:
		e.record("invalid")
		details := se.Details
		if e.config.ProductionMode {
			// Reasons would let a caller distinguish a revoked key from an
			// unknown one.
			details = nil
		}
		httputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, details)
	}
}

func (e *Exchange) record(result string) {
	if e.metrics != nil {
		e.metrics.RecordVerification(result)
	}
}

// subject reports whether path goes through the exchange.
func (e *Exchange) subject(path string) bool {
	for _, excluded := range e.config.ExcludedPaths {
		if path == excluded {
			return false
		}
	}
	if len(e.config.PathPrefixes) == 0 {
		return true
	}
	for _, prefix := range e.config.PathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ExtractAPIKey pulls the raw key from the request: X-API-Key first, then
// Authorization (ApiKey or Bearer scheme), then the api_key query fallback.
func ExtractAPIKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && (parts[0] == "ApiKey" || parts[0] == "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get(apiKeyQueryParam)
}

// clientIP returns the remote address without the port, preferring
// X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	return strings.Trim(host, "[]")
}
