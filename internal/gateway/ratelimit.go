package gateway

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimiter throttles inbound HTTP requests.
// rpm > 0  enables the limiter at that rate; rpm <= 0 disables it.
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(rpm, burst int) *RateLimiter {
	if rpm <= 0 {
		return &RateLimiter{}
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60), burst)}
}

// Enabled reports whether requests are being throttled.
func (rl *RateLimiter) Enabled() bool { return rl.limiter != nil }

// Allow reports whether one more request fits under the limit.
func (rl *RateLimiter) Allow() bool {
	if rl.limiter == nil {
		return true
	}
	return rl.limiter.Allow()
}

// Middleware rejects requests over the limit with 429. Health checks and the
// WebSocket feed are exempt.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" && r.URL.Path != "/ws" && !rl.Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
