package auth

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter tracks one token-bucket limiter per caller key
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewRateLimiter allows requestsPerSecond sustained with the given burst
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (r *RateLimiter) limiter(key string) *rate.Limiter {
	r.mu.RLock()
	l, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok = r.limiters[key]; ok {
		return l
	}
	l = rate.NewLimiter(r.rate, r.burst)
	r.limiters[key] = l
	return l
}

// Allow reports whether a request under key may proceed now
func (r *RateLimiter) Allow(key string) bool {
	return r.limiter(key).Allow()
}

// RateLimitMiddleware limits per token, falling back to the remote address
// for unauthenticated requests. Apply after the auth middleware.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if ac := FromContext(r.Context()); ac != nil && ac.Token != nil {
				key = ac.Token.ID
			}

			if !limiter.Allow(key) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
