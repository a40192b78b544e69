package httpadapter

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/zakeri-dev/kbpipe/internal/observability/metrics"
)

// isControlPath reports paths exempt from traffic control. Health probes and
// metric scrapes must never be throttled.
func isControlPath(path string) bool {
	return path == "/healthz" || path == "/metrics"
}

func rateLimitMiddleware(next http.Handler, rps float64, burst int, m *metrics.HTTPServerMetrics) http.Handler {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = int(rps)
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isControlPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if !limiter.Allow() {
			if m != nil {
				m.RecordThrottled("api", "rate_limit")
			}
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// backpressureMiddleware bounds concurrent in-flight requests. A request that
// cannot claim a slot within the wait window is rejected with 503 rather than
// queued indefinitely.
func backpressureMiddleware(next http.Handler, maxConcurrent int, wait time.Duration, m *metrics.HTTPServerMetrics) http.Handler {
	if maxConcurrent <= 0 {
		return next
	}
	slots := make(chan struct{}, maxConcurrent)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isControlPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case slots <- struct{}{}:
			defer func() { <-slots }()
			next.ServeHTTP(w, r)
		case <-timer.C:
			if m != nil {
				m.RecordThrottled("api", "backpressure")
			}
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server overloaded, try again later"})
		case <-r.Context().Done():
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "request canceled while waiting for capacity"})
		}
	})
}
