package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/finvault/gateway/internal/domain/identity"
	"github.com/finvault/gateway/internal/logging"
)

// fakeRemote is an in-memory RemoteCache whose reads and writes can be
// forced to fail.
type fakeRemote struct {
	entries map[string]domain.CachedVerification
	getErr  error
	putErr  error
	gets    int
	puts    int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{entries: make(map[string]domain.CachedVerification)}
}

func (r *fakeRemote) Get(ctx context.Context, key string) (domain.CachedVerification, bool, error) {
	r.gets++
	if r.getErr != nil {
		return domain.CachedVerification{}, false, r.getErr
	}
	entry, ok := r.entries[key]
	return entry, ok, nil
}

func (r *fakeRemote) Put(ctx context.Context, key string, entry domain.CachedVerification, ttl time.Duration) error {
	r.puts++
	if r.putErr != nil {
		return r.putErr
	}
	r.entries[key] = entry
	return nil
}

func testFallback(remote RemoteCache) *FallbackCache {
	return NewFallbackCache(NewLocalCache(), remote, logging.New("test", "error", "json"))
}

func testUser(subject string) domain.UserInfo {
	return domain.UserInfo{Provider: "google", Subject: subject, Email: subject + "@example.com"}
}

func TestFallbackPutThenGet(t *testing.T) {
	f := testFallback(nil)
	ctx := context.Background()

	f.Put(ctx, "google", "fp-1", testUser("user-1"), time.Hour)

	entry, ok := f.Get(ctx, "google", "fp-1")
	if !ok {
		t.Fatal("stored entry not found")
	}
	if entry.User.Subject != "user-1" {
		t.Errorf("subject = %q, want user-1", entry.User.Subject)
	}
	if entry.TTL != time.Hour {
		t.Errorf("ttl = %v, want 1h", entry.TTL)
	}
}

func TestFallbackMiss(t *testing.T) {
	f := testFallback(nil)

	if _, ok := f.Get(context.Background(), "google", "absent"); ok {
		t.Error("missing fingerprint reported as hit")
	}
}

func TestFallbackKeysSeparateProviders(t *testing.T) {
	f := testFallback(nil)
	ctx := context.Background()

	f.Put(ctx, "google", "fp-1", testUser("google-user"), time.Hour)
	f.Put(ctx, "facebook", "fp-1", testUser("facebook-user"), time.Hour)

	entry, ok := f.Get(ctx, "google", "fp-1")
	if !ok || entry.User.Subject != "google-user" {
		t.Errorf("google entry = %+v ok=%v", entry, ok)
	}
	entry, ok = f.Get(ctx, "facebook", "fp-1")
	if !ok || entry.User.Subject != "facebook-user" {
		t.Errorf("facebook entry = %+v ok=%v", entry, ok)
	}
}

func TestFallbackLocalExpiry(t *testing.T) {
	f := testFallback(nil)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }
	f.local.now = func() time.Time { return now }

	f.Put(ctx, "google", "fp-1", testUser("user-1"), time.Hour)

	now = now.Add(59 * time.Minute)
	if _, ok := f.Get(ctx, "google", "fp-1"); !ok {
		t.Error("entry expired before its TTL")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := f.Get(ctx, "google", "fp-1"); ok {
		t.Error("entry served past its TTL")
	}
	if f.local.Len() != 0 {
		t.Errorf("expired entry not dropped, local len = %d", f.local.Len())
	}
}

func TestFallbackWritesBothTiers(t *testing.T) {
	remote := newFakeRemote()
	f := testFallback(remote)

	f.Put(context.Background(), "google", "fp-1", testUser("user-1"), time.Hour)

	if remote.puts != 1 {
		t.Errorf("remote puts = %d, want 1", remote.puts)
	}
	if f.local.Len() != 1 {
		t.Errorf("local len = %d, want 1", f.local.Len())
	}
}

func TestFallbackPromotesRemoteHit(t *testing.T) {
	remote := newFakeRemote()
	f := testFallback(remote)
	ctx := context.Background()

	// Entry exists only in the remote tier, as after a process restart.
	remote.entries[cacheKey("google", "fp-1")] = domain.CachedVerification{
		User:     testUser("user-1"),
		CachedAt: time.Now().UTC(),
		TTL:      time.Hour,
	}

	entry, ok := f.Get(ctx, "google", "fp-1")
	if !ok || entry.User.Subject != "user-1" {
		t.Fatalf("remote entry not served: %+v ok=%v", entry, ok)
	}
	if f.local.Len() != 1 {
		t.Error("remote hit not promoted into the local tier")
	}

	// A second read is served locally.
	before := remote.gets
	if _, ok := f.Get(ctx, "google", "fp-1"); !ok {
		t.Fatal("promoted entry not found")
	}
	if remote.gets != before {
		t.Error("local hit still consulted the remote tier")
	}
}

func TestFallbackExpiredRemoteEntryIsMiss(t *testing.T) {
	remote := newFakeRemote()
	f := testFallback(remote)

	remote.entries[cacheKey("google", "fp-1")] = domain.CachedVerification{
		User:     testUser("user-1"),
		CachedAt: time.Now().Add(-2 * time.Hour).UTC(),
		TTL:      time.Hour,
	}

	if _, ok := f.Get(context.Background(), "google", "fp-1"); ok {
		t.Error("expired remote entry served")
	}
	if f.local.Len() != 0 {
		t.Error("expired remote entry promoted")
	}
}

func TestFallbackRemoteReadFailureIsMiss(t *testing.T) {
	remote := newFakeRemote()
	remote.getErr = errors.New("connection refused")
	f := testFallback(remote)

	if _, ok := f.Get(context.Background(), "google", "fp-1"); ok {
		t.Error("remote failure reported as hit")
	}
}

func TestFallbackRemoteWriteFailureKeepsLocal(t *testing.T) {
	remote := newFakeRemote()
	remote.putErr = errors.New("connection refused")
	f := testFallback(remote)
	ctx := context.Background()

	f.Put(ctx, "google", "fp-1", testUser("user-1"), time.Hour)

	if _, ok := f.Get(ctx, "google", "fp-1"); !ok {
		t.Error("local write lost when remote write failed")
	}
}

func TestFallbackLocalHitSkipsRemote(t *testing.T) {
	remote := newFakeRemote()
	f := testFallback(remote)
	ctx := context.Background()

	f.Put(ctx, "google", "fp-1", testUser("user-1"), time.Hour)

	if _, ok := f.Get(ctx, "google", "fp-1"); !ok {
		t.Fatal("entry not found")
	}
	if remote.gets != 0 {
		t.Errorf("remote consulted %d times on a local hit, want 0", remote.gets)
	}
}
