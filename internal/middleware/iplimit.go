package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/finvault/gateway/internal/httputil"
	"github.com/finvault/gateway/internal/logging"
)

// IPLimiter throttles unauthenticated paths by client IP. Authenticated
// traffic is governed by the per-key limiter instead; this guard only keeps
// anonymous endpoints (login, health probes from the open internet) from
// being hammered.
type IPLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	logger   *logging.Logger
}

// NewIPLimiter allows requestsPerSecond sustained with the given burst per
// client IP.
func NewIPLimiter(requestsPerSecond, burst int, logger *logging.Logger) *IPLimiter {
	if logger == nil {
		logger = logging.Default()
	}
	return &IPLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		logger:   logger,
	}
}

func (l *IPLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

// Handler returns the throttling middleware handler.
func (l *IPLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.limiter(ip).Allow() {
			l.logger.LogSecurityEvent(r.Context(), "ip_rate_limited", map[string]interface{}{
				"ip":   ip,
				"path": r.URL.Path,
			})
			w.Header().Set("Retry-After", "1")
			httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.ErrorResponse{
				Error: httputil.ErrorBody{Code: "RATE_LIMIT_EXCEEDED", Message: "too many requests"},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartCleanup periodically resets the limiter map so long-gone IPs do not
// accumulate.
func (l *IPLimiter) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.mu.Lock()
				if len(l.limiters) > 10000 {
					l.limiters = make(map[string]*rate.Limiter)
				}
				l.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}
