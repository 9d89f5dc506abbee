package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterSweepThreshold = 10000

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter allows each client IP a burst of perWindow requests, refilled
// evenly over window.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	window   time.Duration
	now      func() time.Time
}

func NewRateLimiter(perWindow int, window time.Duration) *RateLimiter {
	if perWindow < 1 {
		perWindow = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(window / time.Duration(perWindow)),
		burst:    perWindow,
		window:   window,
		now:      time.Now,
	}
}

// Allow reports whether key may make another request now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if len(rl.visitors) >= limiterSweepThreshold {
		rl.sweep(now)
	}

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// sweep drops visitors idle for a full window; their buckets are full again
// anyway. Callers hold rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for k, v := range rl.visitors {
		if now.Sub(v.lastSeen) >= rl.window {
			delete(rl.visitors, k)
		}
	}
}

func (s *Server) rateLimited(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientInfo(r).IP
		if !s.limiter.Allow(ip) {
			s.logger.Warn(r.Context(), "auth rate limit exceeded", "ip", ip, "route", routeTemplate(r))
			s.metrics.AuthEvent("rate_limit", "rejected")
			w.Header().Set("Retry-After", strconv.Itoa(int(s.limiter.window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, errorBody{
				Error:   "too_many_requests",
				Message: "Too many authentication attempts, please try again later",
			})
			return
		}
		next(w, r)
	})
}
