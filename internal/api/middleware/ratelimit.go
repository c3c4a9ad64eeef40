package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tommypj/ai-content-saas-backend/internal/api/response"
	"github.com/tommypj/ai-content-saas-backend/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = time.Minute
)

// Counter increments a key that expires after expiry. *cache.RedisCache implements it.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RateLimit provides fixed-window per-principal rate limiting via Redis.
type RateLimit struct {
	counter        Counter
	requestsPerMin int
	now            func() time.Time
}

// NewRateLimit creates a new RateLimit middleware. A nil counter disables limiting.
func NewRateLimit(c Counter, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{counter: c, requestsPerMin: requestsPerMin, now: time.Now}
}

// Limit applies rate limiting based on the principal set by the auth middleware.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := GetPrincipal(r)
		if !ok || rl.counter == nil {
			next.ServeHTTP(w, r)
			return
		}

		now := rl.now()
		window := now.Truncate(rateWindow)
		key := cache.RateLimitKey(principal, window.Unix())
		count, err := rl.counter.IncrWithExpiry(r.Context(), key, rateWindow)
		if err != nil {
			// On Redis error, allow the request (fail open)
			slog.WarnContext(r.Context(), "rate limit check failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.requestsPerMin-int(count), 0)
		reset := window.Add(rateWindow)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			retryAfter := int(reset.Sub(now).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
