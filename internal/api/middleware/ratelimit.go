package middleware

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/Tausifislam01/CloakPost/internal/store"
)

// requestsPerMinute is the per-identity budget for signed requests.
const requestsPerMinute = 120

// RateLimiter throttles signed requests per user id, counted in Redis with
// a one-minute window. Without Redis it is a pass-through.
type RateLimiter struct {
	redis  *store.RedisStore
	logger zerolog.Logger
}

// NewRateLimiter creates a rate limiter. redis may be nil.
func NewRateLimiter(redis *store.RedisStore, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{redis: redis, logger: logger}
}

// Middleware enforces the per-user budget. Unsigned requests pass through;
// the auth middleware decides their fate.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		userID := r.Header.Get(HeaderUser)
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		count, err := l.redis.IncrRequestCount(r.Context(), userID)
		if err != nil {
			// Redis trouble must not take the API down.
			l.logger.Warn().Err(err).Msg("rate limit counter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		remaining := requestsPerMinute - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerMinute))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > requestsPerMinute {
			w.Header().Set("Retry-After", "60")
			jsonError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
