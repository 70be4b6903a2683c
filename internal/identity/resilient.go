package identity

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/finvault/gateway/internal/cache"
	domain "github.com/finvault/gateway/internal/domain/identity"
	"github.com/finvault/gateway/internal/errors"
	"github.com/finvault/gateway/internal/logging"
	"github.com/finvault/gateway/internal/metrics"
)

// ResilientConfig configures retry, timeout and fallback behavior around a
// provider verifier.
type ResilientConfig struct {
	// MaxRetries is the number of retry attempts after the first call.
	// Transient failures only; provider rejections are never retried.
	MaxRetries int
	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration
	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration
	// BackoffMultiplier is the exponential growth factor.
	BackoffMultiplier float64
	// Jitter adds randomness to each delay (0.0 to 1.0).
	Jitter float64
	// CallTimeout bounds each individual provider call.
	CallTimeout time.Duration
	// CacheTTL is how long verified results stay servable from fallback.
	CacheTTL time.Duration
	// Breaker configures the circuit breaker guarding the provider.
	Breaker BreakerConfig
}

// DefaultResilientConfig returns sensible defaults.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		CallTimeout:       5 * time.Second,
		CacheTTL:          time.Hour,
		Breaker:           DefaultBreakerConfig(),
	}
}

// ResilientVerifier wraps one provider verifier with a circuit breaker,
// bounded retries and the two-tier fallback cache. One instance exists per
// provider and owns that provider's circuit state; all concurrent callers
// share it.
type ResilientVerifier struct {
	verifier Verifier
	breaker  *CircuitBreaker
	cache    *cache.FallbackCache
	config   ResilientConfig
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewResilientVerifier composes the resilience pipeline over verifier.
// fallback may not be nil; m may be nil to disable instrumentation.
func NewResilientVerifier(verifier Verifier, fallback *cache.FallbackCache, config ResilientConfig, logger *logging.Logger, m *metrics.Metrics) *ResilientVerifier {
	if logger == nil {
		logger = logging.Default()
	}

	rv := &ResilientVerifier{
		verifier: verifier,
		cache:    fallback,
		config:   config,
		logger:   logger,
		metrics:  m,
	}

	breakerCfg := config.Breaker
	userHook := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(from, to CircuitState) {
		logger.WithFields(map[string]interface{}{
			"provider": verifier.Name(),
			"from":     from.String(),
			"to":       to.String(),
		}).Warn("circuit state changed")
		if m != nil {
			m.RecordCircuitTransition(verifier.Name(), from.String(), to.String())
		}
		if userHook != nil {
			userHook(from, to)
		}
	}
	rv.breaker = NewCircuitBreaker(breakerCfg)
	return rv
}

// Provider returns the wrapped provider's name.
func (rv *ResilientVerifier) Provider() string { return rv.verifier.Name() }

// CircuitState returns the current breaker state.
func (rv *ResilientVerifier) CircuitState() CircuitState { return rv.breaker.State() }

// VerifyToken verifies token through the resilience pipeline. A nil result
// with an error means verification failed hard: either the provider rejected
// the token, or it was unreachable and no fallback entry existed. Identities
// are never invented.
func (rv *ResilientVerifier) VerifyToken(ctx context.Context, token string) (*domain.UserInfo, error) {
	fingerprint := domain.Fingerprint(token)

	if err := rv.breaker.Allow(); err != nil {
		// Open circuit: no provider call, straight to fallback.
		return rv.fallback(ctx, fingerprint, errors.CircuitOpen(rv.verifier.Name()))
	}

	user, err := rv.callWithRetry(ctx, token)
	if err == nil {
		rv.breaker.RecordSuccess()
		rv.cache.Put(ctx, rv.verifier.Name(), fingerprint, user, rv.config.CacheTTL)
		if rv.metrics != nil {
			rv.metrics.RecordTokenVerification(rv.verifier.Name(), "verified")
		}
		return &user, nil
	}

	if se := errors.GetServiceError(err); se != nil && se.Code == errors.CodeProviderRejected {
		// The provider answered: the dependency is healthy, the token is
		// not. Terminal; no fallback, no breaker failure.
		rv.breaker.RecordSuccess()
		if rv.metrics != nil {
			rv.metrics.RecordTokenVerification(rv.verifier.Name(), "rejected")
		}
		return nil, err
	}

	rv.breaker.RecordFailure()
	rv.logger.WithContext(ctx).WithError(err).WithField("provider", rv.verifier.Name()).
		Warn("provider verification failed")
	return rv.fallback(ctx, fingerprint, err)
}

// callWithRetry attempts the provider call with exponential backoff and
// jitter. Only transient failures are retried; caller cancellation aborts
// the loop immediately.
func (rv *ResilientVerifier) callWithRetry(ctx context.Context, token string) (domain.UserInfo, error) {
	var lastErr error

	for attempt := 0; attempt <= rv.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.UserInfo{}, errors.ProviderUnavailable(rv.verifier.Name(), ctx.Err())
			case <-time.After(rv.backoff(attempt)):
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if rv.config.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, rv.config.CallTimeout)
		}
		user, err := rv.verifier.VerifyToken(callCtx, token)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return user, nil
		}
		lastErr = err

		if se := errors.GetServiceError(err); se != nil && se.Code == errors.CodeProviderRejected {
			return domain.UserInfo{}, err
		}
		if ctx.Err() != nil {
			return domain.UserInfo{}, errors.ProviderUnavailable(rv.verifier.Name(), ctx.Err())
		}
	}

	return domain.UserInfo{}, lastErr
}

func (rv *ResilientVerifier) backoff(attempt int) time.Duration {
	d := float64(rv.config.InitialBackoff) * math.Pow(rv.config.BackoffMultiplier, float64(attempt-1))
	if d > float64(rv.config.MaxBackoff) {
		d = float64(rv.config.MaxBackoff)
	}
	if rv.config.Jitter > 0 {
		d += d * rv.config.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

// fallback serves the last-known-good result for the token, tagged degraded.
// A miss propagates cause as the hard failure.
func (rv *ResilientVerifier) fallback(ctx context.Context, fingerprint string, cause error) (*domain.UserInfo, error) {
	entry, ok := rv.cache.Get(ctx, rv.verifier.Name(), fingerprint)
	if !ok {
		if rv.metrics != nil {
			rv.metrics.RecordCacheLookup("miss")
			rv.metrics.RecordTokenVerification(rv.verifier.Name(), "failed")
		}
		if se := errors.GetServiceError(cause); se != nil {
			return nil, se
		}
		return nil, errors.CacheMiss(rv.verifier.Name())
	}

	if rv.metrics != nil {
		rv.metrics.RecordCacheLookup("hit")
		rv.metrics.RecordTokenVerification(rv.verifier.Name(), "degraded")
	}

	user := entry.User
	user.Degraded = true
	rv.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"provider": rv.verifier.Name(),
		"subject":  user.Subject,
	}).Warn("serving degraded identity from fallback cache")
	return &user, nil
}
