package middleware

import (
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"
)

// RateLimiter counts attempts per key in a sliding window
type RateLimiter struct {
	attempts    map[string][]time.Time
	mutex       sync.Mutex
	maxAttempts int
	window      time.Duration
	now         func() time.Time
	done        chan struct{}
	stopOnce    sync.Once
}

// NewRateLimiter creates a new rate limiter and starts its cleanup loop
func NewRateLimiter(maxAttempts int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		attempts:    make(map[string][]time.Time),
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
		done:        make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Stop ends the cleanup loop
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// recent returns the attempts for key still inside the window. Caller holds the lock.
func (rl *RateLimiter) recent(key string, now time.Time) []time.Time {
	cutoff := now.Add(-rl.window)
	var valid []time.Time
	for _, attempt := range rl.attempts[key] {
		if attempt.After(cutoff) {
			valid = append(valid, attempt)
		}
	}
	if len(valid) == 0 {
		delete(rl.attempts, key)
	} else {
		rl.attempts[key] = valid
	}
	return valid
}

// IsAllowed reports whether key is under the limit without recording an attempt
func (rl *RateLimiter) IsAllowed(key string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	return len(rl.recent(key, rl.now())) < rl.maxAttempts
}

// Allow records an attempt for key if it is under the limit
func (rl *RateLimiter) Allow(key string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	valid := rl.recent(key, now)
	if len(valid) >= rl.maxAttempts {
		return false
	}
	rl.attempts[key] = append(valid, now)
	return true
}

// RecordAttempt records an attempt for key regardless of the limit
func (rl *RateLimiter) RecordAttempt(key string) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.attempts[key] = append(rl.attempts[key], rl.now())
}

// GetTimeUntilAllowed returns the time until key may try again
func (rl *RateLimiter) GetTimeUntilAllowed(key string) time.Duration {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	valid := rl.recent(key, now)
	if len(valid) < rl.maxAttempts {
		return 0
	}

	// The slot frees up when the attempt that pushed the key over the limit ages out
	return valid[len(valid)-rl.maxAttempts].Add(rl.window).Sub(now)
}

// cleanup removes old entries periodically
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mutex.Lock()
			now := rl.now()
			for key := range rl.attempts {
				rl.recent(key, now)
			}
			rl.mutex.Unlock()
		}
	}
}

// KeyFunc picks the identity a request is rate limited by
type KeyFunc func(r *http.Request) string

// ClientIPKey limits by client IP
func ClientIPKey(r *http.Request) string {
	return "ip:" + getClientIP(r)
}

// CallerKey limits by authenticated caller, falling back to client IP
func CallerKey(r *http.Request) string {
	if user := GetUserFromContext(r.Context()); user != nil {
		return "user:" + user.UserID
	}
	return ClientIPKey(r)
}

func writeTooManyRequests(w http.ResponseWriter, wait time.Duration, message string) {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	WriteError(w, http.StatusTooManyRequests, "rate_limited", message)
}

// RateLimit counts every request against the key's limit
func RateLimit(rl *RateLimiter, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if !rl.Allow(k) {
				writeTooManyRequests(w, rl.GetTimeUntilAllowed(k), "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// FailureRateLimit only counts requests the handler rejected with a 4xx, so
// repeated bad scans lock a key out while valid traffic is never throttled
func FailureRateLimit(rl *RateLimiter, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if !rl.IsAllowed(k) {
				writeTooManyRequests(w, rl.GetTimeUntilAllowed(k), "Too many failed attempts. Please try again later.")
				return
			}

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			if wrapped.statusCode >= 400 && wrapped.statusCode < 500 && wrapped.statusCode != http.StatusUnauthorized {
				rl.RecordAttempt(k)
			}
		})
	}
}
