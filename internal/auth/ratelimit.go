package auth

import (
	"sync"
	"time"

	"github.com/finvault/gateway/internal/domain/apikey"
	"github.com/finvault/gateway/internal/errors"
)

// RateLimiter tracks per-key minute windows and daily quotas. Contention is
// per key: each key owns its own counters and lock, the outer map lock is
// held only to find them.
type RateLimiter struct {
	mu      sync.RWMutex
	entries map[string]*limitEntry

	now func() time.Time
}

type limitEntry struct {
	mu     sync.Mutex
	window apikey.RateLimitWindow
	daily  apikey.DailyQuota
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*limitEntry),
		now:     time.Now,
	}
}

func (rl *RateLimiter) entry(keyID string) *limitEntry {
	rl.mu.RLock()
	e, ok := rl.entries[keyID]
	rl.mu.RUnlock()
	if ok {
		return e
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if e, ok = rl.entries[keyID]; ok {
		return e
	}
	e = &limitEntry{
		window: apikey.RateLimitWindow{KeyID: keyID},
		daily:  apikey.DailyQuota{KeyID: keyID},
	}
	rl.entries[keyID] = e
	return e
}

// CheckAndIncrement verifies the key is inside both its minute limit and its
// daily quota, and counts the request. Check and increment happen under one
// lock so concurrent callers cannot race past the limit. A zero limit
// disables that dimension.
func (rl *RateLimiter) CheckAndIncrement(keyID string, perMinute, daily int64) error {
	now := rl.now().UTC()
	minuteStart := now.Truncate(time.Minute)
	dayStart := now.Truncate(24 * time.Hour)

	e := rl.entry(keyID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.window.WindowStart.Equal(minuteStart) {
		e.window.WindowStart = minuteStart
		e.window.Count = 0
	}
	if !e.daily.Day.Equal(dayStart) {
		e.daily.Day = dayStart
		e.daily.Count = 0
	}

	if perMinute > 0 && e.window.Count >= perMinute {
		retryAfter := minuteStart.Add(time.Minute).Sub(now)
		return errors.RateLimitExceeded(e.window.Count, perMinute, retryAfter)
	}
	if daily > 0 && e.daily.Count >= daily {
		retryAfter := dayStart.Add(24 * time.Hour).Sub(now)
		return errors.RateLimitExceeded(e.daily.Count, daily, retryAfter)
	}

	e.window.Count++
	e.daily.Count++
	return nil
}

// Usage returns the current minute-window and daily counts for a key.
func (rl *RateLimiter) Usage(keyID string) (minute, daily int64) {
	rl.mu.RLock()
	e, ok := rl.entries[keyID]
	rl.mu.RUnlock()
	if !ok {
		return 0, 0
	}

	now := rl.now().UTC()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.window.WindowStart.Equal(now.Truncate(time.Minute)) {
		minute = e.window.Count
	}
	if e.daily.Day.Equal(now.Truncate(24 * time.Hour)) {
		daily = e.daily.Count
	}
	return minute, daily
}

// Cleanup drops entries whose daily bucket is older than the previous UTC
// day. Should be called periodically.
func (rl *RateLimiter) Cleanup() {
	cutoff := rl.now().UTC().Truncate(24 * time.Hour).Add(-24 * time.Hour)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for keyID, e := range rl.entries {
		e.mu.Lock()
		stale := e.daily.Day.Before(cutoff)
		e.mu.Unlock()
		if stale {
			delete(rl.entries, keyID)
		}
	}
}

// StartCleanup runs Cleanup on the given interval until stop is closed.
func (rl *RateLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-stop:
				return
			}
		}
	}()
}
