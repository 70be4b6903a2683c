// Package auth implements API key verification: hash lookup, activity and
// expiry checks, IP whitelisting, rate limiting and usage accounting.
package auth

import (
	"context"
	"time"

	"github.com/finvault/gateway/internal/domain/apikey"
	"github.com/finvault/gateway/internal/errors"
	"github.com/finvault/gateway/internal/logging"
	"github.com/finvault/gateway/internal/storage"
)

// Verification is the successful outcome of an API key check.
type Verification struct {
	KeyID     string
	SubjectID string
	Scopes    []string
}

// Authenticator validates presented API keys against the key store.
type Authenticator struct {
	store   storage.KeyStore
	limiter *RateLimiter
	logger  *logging.Logger

	now func() time.Time
}

// NewAuthenticator creates an authenticator over the given store and limiter.
func NewAuthenticator(store storage.KeyStore, limiter *RateLimiter, logger *logging.Logger) *Authenticator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Authenticator{
		store:   store,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
}

// Verify checks rawKey from requestIP and returns the key's subject and
// scopes. Every rejection before the rate limit check surfaces as the same
// opaque InvalidAPIKey error; the internal reason is logged, never returned.
// Rejected calls do not touch usage counters.
func (a *Authenticator) Verify(ctx context.Context, rawKey, requestIP string) (Verification, error) {
	hash := apikey.HashKey(rawKey)

	key, err := a.store.GetKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.logger.LogSecurityEvent(ctx, "api_key_rejected", map[string]interface{}{
				"reason": "not_found",
				"ip":     requestIP,
			})
			return Verification{}, errors.InvalidAPIKey("not_found")
		}
		return Verification{}, errors.Internal("key lookup failed", err)
	}

	// The store already matched on hash; compare again in constant time so
	// the accept path never depends on a plain string comparison.
	if !apikey.HashEqual(hash, key.KeyHash) {
		return Verification{}, errors.InvalidAPIKey("hash_mismatch")
	}

	if !key.IsActive {
		a.rejected(ctx, key, requestIP, "inactive")
		return Verification{}, errors.InvalidAPIKey("inactive")
	}
	if key.Expired(a.now()) {
		a.rejected(ctx, key, requestIP, "expired")
		return Verification{}, errors.InvalidAPIKey("expired")
	}
	if !key.IPAllowed(requestIP) {
		a.rejected(ctx, key, requestIP, "ip_not_allowed")
		return Verification{}, errors.InvalidAPIKey("ip_not_allowed")
	}

	if err := a.limiter.CheckAndIncrement(key.ID, key.RateLimitPerMinute, key.DailyQuota); err != nil {
		a.logger.LogSecurityEvent(ctx, "rate_limit_exceeded", map[string]interface{}{
			"key_id": key.ID,
			"prefix": key.KeyPrefix,
		})
		return Verification{}, err
	}

	// Usage accounting is best effort: a store hiccup here must not turn an
	// already-accepted request into a denial.
	if err := a.store.TouchKey(ctx, key.ID, a.now().UTC()); err != nil {
		a.logger.WithContext(ctx).WithError(err).WithField("key_id", key.ID).
			Warn("usage counter update failed")
	}

	return Verification{
		KeyID:     key.ID,
		SubjectID: key.OwnerID,
		Scopes:    key.Scopes,
	}, nil
}

func (a *Authenticator) rejected(ctx context.Context, key apikey.Key, requestIP, reason string) {
	a.logger.LogSecurityEvent(ctx, "api_key_rejected", map[string]interface{}{
		"key_id": key.ID,
		"prefix": key.KeyPrefix,
		"reason": reason,
		"ip":     requestIP,
	})
}
