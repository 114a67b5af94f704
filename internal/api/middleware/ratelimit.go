package middleware

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/edvin/hosting/internal/api/response"
)

// RateLimiter enforces per-credential token-bucket budgets. Each named
// bucket (registry-deploy, git-deploy, other) keeps its own limiter per
// key_id, so a caller's git-deploy traffic never steals headroom from its
// registry-deploy budget.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]map[string]*rate.Limiter
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]map[string]*rate.Limiter)}
}

// Limit returns middleware enforcing ratePerMinute requests/minute for
// bucket, keyed by the authenticated identity's key ID. Auth must run
// upstream of this middleware.
func (rl *RateLimiter) Limit(bucket string, ratePerMinute int) func(http.Handler) http.Handler {
	limit := rate.Limit(float64(ratePerMinute) / 60.0)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID := GetIdentity(r.Context()).KeyID
			limiter := rl.limiterFor(bucket, keyID, limit, ratePerMinute)

			if !limiter.Allow() {
				response.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded for "+bucket)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) limiterFor(bucket, keyID string, limit rate.Limit, burst int) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	byKey, ok := rl.limiters[bucket]
	if !ok {
		byKey = make(map[string]*rate.Limiter)
		rl.limiters[bucket] = byKey
	}

	limiter, ok := byKey[keyID]
	if !ok {
		limiter = rate.NewLimiter(limit, burst)
		byKey[keyID] = limiter
	}
	return limiter
}
