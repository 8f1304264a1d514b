// Token bucket rate limiting per client address.
package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter holds one token bucket per client.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      float64 // tokens per second
	burst     float64
	now       func() time.Time
	lastSweep time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter allows rate requests per second per client with bursts of
// up to burst requests. A non-positive rate disables limiting.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   math.Max(float64(burst), 1),
		now:     time.Now,
	}
}

// Allow takes a token from the client's bucket.
func (rl *RateLimiter) Allow(client string) bool {
	if rl.rate <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)
	b, ok := rl.buckets[client]
	if !ok {
		b = &bucket{tokens: rl.burst, last: now}
		rl.buckets[client] = b
	}
	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.last).Seconds()*rl.rate)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter returns the whole seconds until the client has a token again.
func (rl *RateLimiter) RetryAfter(client string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[client]
	if !ok || rl.rate <= 0 || b.tokens >= 1 {
		return 0
	}
	return int(math.Ceil((1 - b.tokens) / rl.rate))
}

// sweep drops buckets that have refilled completely. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	full := time.Duration(rl.burst / rl.rate * float64(time.Second))
	if now.Sub(rl.lastSweep) < time.Minute {
		return
	}
	rl.lastSweep = now
	for client, b := range rl.buckets {
		if now.Sub(b.last) > full {
			delete(rl.buckets, client)
		}
	}
}

// clientAddr prefers the first X-Forwarded-For hop over the peer address.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware wraps a handler with rate limiting. Returns 429 if exceeded.
func RateLimitMiddleware(rl *RateLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddr(r)
		if !rl.Allow(client) {
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter(client)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
