package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/finvault/gateway/internal/cache"
	domain "github.com/finvault/gateway/internal/domain/identity"
	"github.com/finvault/gateway/internal/errors"
	"github.com/finvault/gateway/internal/logging"
)

// fakeVerifier scripts provider responses and counts calls.
type fakeVerifier struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (domain.UserInfo, error)
}

func (f *fakeVerifier) Name() string { return "fake" }

func (f *fakeVerifier) VerifyToken(ctx context.Context, token string) (domain.UserInfo, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call)
}

func (f *fakeVerifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func alwaysFailing() *fakeVerifier {
	return &fakeVerifier{fn: func(int) (domain.UserInfo, error) {
		return domain.UserInfo{}, errors.ProviderUnavailable("fake", context.DeadlineExceeded)
	}}
}

func testResilientConfig() ResilientConfig {
	cfg := DefaultResilientConfig()
	cfg.MaxRetries = 0
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	cfg.CallTimeout = time.Second
	cfg.Breaker = BreakerConfig{TripThreshold: 5, TrackingPeriod: time.Minute, ResetInterval: 30 * time.Second, ActiveThreshold: 1}
	return cfg
}

func newTestResilient(t *testing.T, verifier Verifier, cfg ResilientConfig) *ResilientVerifier {
	t.Helper()
	logger := logging.New("test", "error", "json")
	fallback := cache.NewFallbackCache(cache.NewLocalCache(), nil, logger)
	return NewResilientVerifier(verifier, fallback, cfg, logger, nil)
}

func TestVerifyTokenSuccess(t *testing.T) {
	fake := &fakeVerifier{fn: func(int) (domain.UserInfo, error) {
		return domain.UserInfo{Provider: "fake", Subject: "user-1", Email: "u@example.com"}, nil
	}}
	rv := newTestResilient(t, fake, testResilientConfig())

	user, err := rv.VerifyToken(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if user.Subject != "user-1" {
		t.Errorf("subject = %q, want user-1", user.Subject)
	}
	if user.Degraded {
		t.Error("fresh verification marked degraded")
	}
	if fake.callCount() != 1 {
		t.Errorf("provider called %d times, want 1", fake.callCount())
	}
}

func TestVerifyTokenRetriesTransientFailures(t *testing.T) {
	fake := &fakeVerifier{fn: func(call int) (domain.UserInfo, error) {
		if call < 3 {
			return domain.UserInfo{}, errors.ProviderUnavailable("fake", context.DeadlineExceeded)
		}
		return domain.UserInfo{Provider: "fake", Subject: "user-1"}, nil
	}}
	cfg := testResilientConfig()
	cfg.MaxRetries = 3
	rv := newTestResilient(t, fake, cfg)

	user, err := rv.VerifyToken(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if user.Subject != "user-1" {
		t.Errorf("subject = %q, want user-1", user.Subject)
	}
	if fake.callCount() != 3 {
		t.Errorf("provider called %d times, want 3", fake.callCount())
	}
	if rv.CircuitState() != CircuitClosed {
		t.Errorf("circuit = %v after eventual success, want closed", rv.CircuitState())
	}
}

func TestVerifyTokenRejectionNotRetried(t *testing.T) {
	fake := &fakeVerifier{fn: func(int) (domain.UserInfo, error) {
		return domain.UserInfo{}, errors.ProviderRejected("fake")
	}}
	cfg := testResilientConfig()
	cfg.MaxRetries = 3
	rv := newTestResilient(t, fake, cfg)

	user, err := rv.VerifyToken(context.Background(), "tok-1")
	if user != nil {
		t.Fatal("rejected token produced an identity")
	}
	se := errors.GetServiceError(err)
	if se == nil || se.Code != errors.CodeProviderRejected {
		t.Fatalf("error = %v, want provider rejection", err)
	}
	if fake.callCount() != 1 {
		t.Errorf("rejection retried: %d calls, want 1", fake.callCount())
	}
	if rv.CircuitState() != CircuitClosed {
		t.Errorf("rejection tripped the circuit: state %v", rv.CircuitState())
	}
}

func TestVerifyTokenRejectionsNeverTripBreaker(t *testing.T) {
	fake := &fakeVerifier{fn: func(int) (domain.UserInfo, error) {
		return domain.UserInfo{}, errors.ProviderRejected("fake")
	}}
	rv := newTestResilient(t, fake, testResilientConfig())

	for i := 0; i < 20; i++ {
		if _, err := rv.VerifyToken(context.Background(), "tok-1"); err == nil {
			t.Fatal("rejection succeeded")
		}
	}
	if rv.CircuitState() != CircuitClosed {
		t.Errorf("circuit = %v after 20 rejections, want closed", rv.CircuitState())
	}
	if fake.callCount() != 20 {
		t.Errorf("provider called %d times, want 20", fake.callCount())
	}
}

func TestCircuitOpensAndShortCircuits(t *testing.T) {
	fake := alwaysFailing()
	rv := newTestResilient(t, fake, testResilientConfig())

	// Five consecutive failures trip the breaker.
	for i := 0; i < 5; i++ {
		if _, err := rv.VerifyToken(context.Background(), "tok-1"); err == nil {
			t.Fatalf("call %d unexpectedly succeeded", i+1)
		}
	}
	if rv.CircuitState() != CircuitOpen {
		t.Fatalf("circuit = %v after 5 failures, want open", rv.CircuitState())
	}

	// The sixth call fails fast without touching the provider.
	before := fake.callCount()
	user, err := rv.VerifyToken(context.Background(), "tok-1")
	if user != nil {
		t.Fatal("open circuit produced an identity with an empty cache")
	}
	se := errors.GetServiceError(err)
	if se == nil || se.Code != errors.CodeCircuitOpen {
		t.Errorf("error = %v, want circuit open", err)
	}
	if fake.callCount() != before {
		t.Errorf("open circuit still called the provider (%d -> %d)", before, fake.callCount())
	}
}

func TestOpenCircuitServesDegradedCacheHit(t *testing.T) {
	fake := &fakeVerifier{fn: func(call int) (domain.UserInfo, error) {
		if call == 1 {
			return domain.UserInfo{Provider: "fake", Subject: "user-1", Email: "u@example.com"}, nil
		}
		return domain.UserInfo{}, errors.ProviderUnavailable("fake", context.DeadlineExceeded)
	}}
	rv := newTestResilient(t, fake, testResilientConfig())

	// Seed the fallback cache with one good verification.
	if _, err := rv.VerifyToken(context.Background(), "tok-1"); err != nil {
		t.Fatalf("seeding verification: %v", err)
	}

	// Trip the breaker with failures for a different token.
	for i := 0; i < 5; i++ {
		rv.VerifyToken(context.Background(), "other-token")
	}
	if rv.CircuitState() != CircuitOpen {
		t.Fatalf("circuit = %v, want open", rv.CircuitState())
	}

	user, err := rv.VerifyToken(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("cached token failed while open: %v", err)
	}
	if user.Subject != "user-1" {
		t.Errorf("subject = %q, want user-1", user.Subject)
	}
	if !user.Degraded {
		t.Error("cache-served identity not marked degraded")
	}
}

func TestProviderFailureFallsBackToCache(t *testing.T) {
	fake := &fakeVerifier{fn: func(call int) (domain.UserInfo, error) {
		if call == 1 {
			return domain.UserInfo{Provider: "fake", Subject: "user-1"}, nil
		}
		return domain.UserInfo{}, errors.ProviderUnavailable("fake", context.DeadlineExceeded)
	}}
	rv := newTestResilient(t, fake, testResilientConfig())

	if _, err := rv.VerifyToken(context.Background(), "tok-1"); err != nil {
		t.Fatalf("seeding verification: %v", err)
	}

	// Circuit still closed, provider now failing: the call goes out, fails,
	// and the cached identity is served degraded.
	user, err := rv.VerifyToken(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if !user.Degraded {
		t.Error("fallback result not marked degraded")
	}
	if fake.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", fake.callCount())
	}
}

func TestProviderFailureWithEmptyCacheFailsHard(t *testing.T) {
	fake := alwaysFailing()
	rv := newTestResilient(t, fake, testResilientConfig())

	user, err := rv.VerifyToken(context.Background(), "tok-1")
	if user != nil {
		t.Fatal("unreachable provider with empty cache produced an identity")
	}
	se := errors.GetServiceError(err)
	if se == nil || se.Code != errors.CodeProviderUnavailable {
		t.Errorf("error = %v, want provider unavailable", err)
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	healthy := false
	var mu sync.Mutex
	fake := &fakeVerifier{}
	fake.fn = func(int) (domain.UserInfo, error) {
		mu.Lock()
		ok := healthy
		mu.Unlock()
		if !ok {
			return domain.UserInfo{}, errors.ProviderUnavailable("fake", context.DeadlineExceeded)
		}
		return domain.UserInfo{Provider: "fake", Subject: "user-1"}, nil
	}
	rv := newTestResilient(t, fake, testResilientConfig())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rv.breaker.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		rv.VerifyToken(context.Background(), "tok-1")
	}
	if rv.CircuitState() != CircuitOpen {
		t.Fatalf("circuit = %v, want open", rv.CircuitState())
	}

	mu.Lock()
	healthy = true
	mu.Unlock()
	now = now.Add(time.Minute)

	user, err := rv.VerifyToken(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if user.Degraded {
		t.Error("fresh trial result marked degraded")
	}
	if rv.CircuitState() != CircuitClosed {
		t.Errorf("circuit = %v after trial success, want closed", rv.CircuitState())
	}
}

func TestCallerCancellationAbortsRetries(t *testing.T) {
	fake := alwaysFailing()
	cfg := testResilientConfig()
	cfg.MaxRetries = 10
	cfg.InitialBackoff = 50 * time.Millisecond
	rv := newTestResilient(t, fake, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if _, err := rv.VerifyToken(ctx, "tok-1"); err == nil {
		t.Fatal("cancelled verification succeeded")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %v, retries not aborted", elapsed)
	}
}
