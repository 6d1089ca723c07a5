// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements an in-memory token-bucket rate limiter with one bucket
// per caller identity and opportunistic eviction of idle buckets. It is
// process-local: a horizontally scaled deployment would need a shared limiter
// to enforce a global budget. Its job here is edge abuse control for the
// consent and thread-creation endpoints, not authorization.
package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc maps a request to the identity that owns its token bucket. The
// returned string must be stable for the duration of the request, e.g.
// "user:u123" or "ip:203.0.113.7".
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys buckets by the caller's user identity when one is
// present and by client IP otherwise. The identity is read the same way the
// handlers resolve it: the Gin context value "userID" first, then the
// X-User-ID header. Prefixes keep the user and IP namespaces disjoint.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get("userID"); ok {
			if s, ok := v.(string); ok && s != "" {
				return "user:" + s
			}
		}
		if s := c.GetHeader("X-User-ID"); s != "" {
			return "user:" + s
		}
		return "ip:" + c.ClientIP()
	}
}

// bucket pairs a limiter with its last-use time so idle entries can be
// evicted.
type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces per-identity token-bucket limits. Buckets are created
// on demand in a mutex-guarded map; entries idle past the TTL are evicted
// during lookups once enough lookups have accumulated. Safe for concurrent
// use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc

	mu      sync.Mutex
	buckets map[string]*bucket
	ttl     time.Duration
	lookups uint64
}

// NewRateLimiter builds a limiter replenishing rps tokens per second with the
// given burst capacity. A burst below 1 is coerced to 1 so a zero-valued
// config cannot lock every caller out by accident.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: make(map[string]*bucket),
		ttl:     10 * time.Minute,
	}
}

// bucketFor returns the limiter for key, creating it if absent. Every 5000
// lookups it sweeps idle entries. The sweep runs before the requested bucket
// is touched so a stale bucket can be evicted even when it is the one being
// fetched.
func (rl *RateLimiter) bucketFor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= 5000 {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.lookups = 0
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.lim
	}

	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[key] = &bucket{lim: lim, lastSeen: now}
	return lim
}

// Handler returns the enforcing middleware. Rejected requests get a 429 with
// the standard error envelope, a Retry-After hint, and a throttle metric
// labelled by key kind.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.keyFn(c)
		if rl.bucketFor(key).Allow() {
			c.Next()
			return
		}

		kind := "ip"
		if strings.HasPrefix(key, "user:") {
			kind = "user"
		}
		markThrottled(kind)

		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
