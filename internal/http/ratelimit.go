package http

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/across/internal/config"
)

// maxLimiterEntries bounds the per-key limiter map; when full, the map is
// reset rather than evicted piecemeal. Resetting briefly refills everyone's
// bucket, which errs on the side of letting requests through.
const maxLimiterEntries = 4096

// RateLimiter enforces per-key requests-per-minute limits. Keys are
// client IPs (unauthenticated routes) or principal IDs.
type RateLimiter struct {
	snapshot func() config.RateLimitsConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewRateLimiter(snapshot func() config.RateLimitsConfig) *RateLimiter {
	return &RateLimiter{
		snapshot: snapshot,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether one more request under key fits within rpm.
func (rl *RateLimiter) Allow(key string, rpm int) bool {
	if rpm <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.limiters) >= maxLimiterEntries {
		rl.limiters = make(map[string]*rate.Limiter)
	}

	lim, ok := rl.limiters[key]
	if !ok || lim.Burst() != rpm {
		lim = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
		rl.limiters[key] = lim
	}
	return lim.Allow()
}

// limit wraps a handler with a named per-minute budget. The budget is
// re-read from config on every request so hot reloads apply.
func (rl *RateLimiter) limit(pick func(config.RateLimitsConfig) int, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limits := rl.snapshot()
		if !limits.Enabled {
			next(w, r)
			return
		}
		rpm := pick(limits)

		key := clientIP(r)
		if p := PrincipalFrom(r.Context()); p != nil && p.AuthType != AuthAdmin {
			key = p.UserID.String()
		}
		// key on the route pattern, not the concrete path, so budgets are
		// per caller per endpoint
		route := r.Pattern
		if route == "" {
			route = r.URL.Path
		}
		key = route + "|" + key

		if !rl.Allow(key, rpm) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":       "RateLimitExceeded",
				"message":     "Too many requests, please retry later",
				"retry_after": 60,
			})
			return
		}
		next(w, r)
	}
}

func loginLimit(l config.RateLimitsConfig) int    { return l.LoginRPM }
func chatLimit(l config.RateLimitsConfig) int     { return l.ChatRPM }
func uploadLimit(l config.RateLimitsConfig) int   { return l.UploadRPM }
func settingsLimit(l config.RateLimitsConfig) int { return l.SettingsRPM }
func keysLimit(l config.RateLimitsConfig) int     { return l.KeysRPM }
