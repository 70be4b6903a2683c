package middleware

import (
	"net/http"
	"time"

	"github.com/finvault/gateway/internal/logging"
)

// Tracing assigns every request a trace ID, propagates it through context
// and logs the request outcome.
type Tracing struct {
	logger *logging.Logger
}

// NewTracing creates the tracing middleware.
func NewTracing(logger *logging.Logger) *Tracing {
	if logger == nil {
		logger = logging.Default()
	}
	return &Tracing{logger: logger}
}

// Handler returns the tracing middleware handler.
func (m *Tracing) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = logging.NewTraceID()
		}

		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-ID", traceID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rw, r.WithContext(ctx))

		m.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rw.statusCode,
			"duration": time.Since(start).String(),
		}).Info("request completed")
	})
}

// responseWriter captures the status code written by downstream handlers.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
