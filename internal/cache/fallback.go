// Package cache implements the two-tier fallback store of last-known-good
// identity verification results: a fast in-process tier backed by a slower
// distributed tier.
package cache

import (
	"context"
	"time"

	domain "github.com/finvault/gateway/internal/domain/identity"
	"github.com/finvault/gateway/internal/logging"
)

// RemoteCache is the distributed tier. A nil RemoteCache leaves the fallback
// cache running on the local tier alone.
type RemoteCache interface {
	Get(ctx context.Context, key string) (domain.CachedVerification, bool, error)
	Put(ctx context.Context, key string, entry domain.CachedVerification, ttl time.Duration) error
}

// FallbackCache stores the last verified identity per (provider, token
// fingerprint). Reads try the local tier first, then the remote tier,
// promoting remote hits into the local tier; writes go to both. Remote
// faults degrade to a miss, never to a failure.
type FallbackCache struct {
	local  *LocalCache
	remote RemoteCache
	logger *logging.Logger

	now func() time.Time
}

// NewFallbackCache creates a cache over the given tiers. remote may be nil.
func NewFallbackCache(local *LocalCache, remote RemoteCache, logger *logging.Logger) *FallbackCache {
	if local == nil {
		local = NewLocalCache()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackCache{
		local:  local,
		remote: remote,
		logger: logger,
		now:    time.Now,
	}
}

func cacheKey(provider, fingerprint string) string {
	return "authcache:" + provider + ":" + fingerprint
}

// Get returns the cached verification for (provider, fingerprint), or
// ok=false. Entries past their TTL are never served regardless of which
// tier still holds them.
func (f *FallbackCache) Get(ctx context.Context, provider, fingerprint string) (domain.CachedVerification, bool) {
	key := cacheKey(provider, fingerprint)

	if entry, ok := f.local.Get(key); ok {
		return entry, true
	}

	if f.remote == nil {
		return domain.CachedVerification{}, false
	}

	entry, ok, err := f.remote.Get(ctx, key)
	if err != nil {
		f.logger.WithContext(ctx).WithError(err).WithField("provider", provider).
			Warn("remote cache read failed")
		return domain.CachedVerification{}, false
	}
	if !ok || entry.Expired(f.now()) {
		return domain.CachedVerification{}, false
	}

	f.local.Put(key, entry)
	return entry, true
}

// Put writes the verification to both tiers with the given TTL.
func (f *FallbackCache) Put(ctx context.Context, provider, fingerprint string, user domain.UserInfo, ttl time.Duration) {
	entry := domain.CachedVerification{
		User:     user,
		CachedAt: f.now().UTC(),
		TTL:      ttl,
		Degraded: user.Degraded,
	}
	key := cacheKey(provider, fingerprint)

	f.local.Put(key, entry)

	if f.remote == nil {
		return
	}
	if err := f.remote.Put(ctx, key, entry, ttl); err != nil {
		f.logger.WithContext(ctx).WithError(err).WithField("provider", provider).
			Warn("remote cache write failed")
	}
}
