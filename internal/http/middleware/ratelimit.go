// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the per-household token-bucket limiter. Family members
// share one X-User-ID, so a bucket covers everything a household's devices
// send; requests without an identity are keyed by client IP. Buckets live in
// process memory and idle ones are dropped opportunistically.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// CodeRateLimited is the error code of a 429 answer. It matches the code the
// handlers document for rate limiting.
const CodeRateLimited = "too_many_requests"

// Idle buckets are swept every gcEvery lookups.
const (
	gcEvery   = 5000
	bucketTTL = 10 * time.Minute
)

// keyFunc names the bucket a request draws from.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys by the authenticated "userID", then the X-User-ID
// header the mobile client sends, then the client IP. Keys are prefixed so
// the namespaces never collide.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get("userID"); ok {
			if s, ok := v.(string); ok && s != "" {
				return "user:" + s
			}
		}
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return "user:" + h
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per key. It is safe for concurrent
// use.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	keyFn    keyFunc
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
}

// NewRateLimiter returns a limiter refilling rps tokens per second up to
// burst (at least 1) per key.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      bucketTTL,
	}
}

// getVisitor returns the bucket for key. The idle sweep runs before the
// lookup so a stale bucket is replaced rather than refreshed.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanupN++
	if rl.cleanupN >= gcEvery {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// retryAfter is the whole number of seconds until one token is back, at
// least 1.
func (rl *RateLimiter) retryAfter() string {
	if rl.rps <= 0 || math.IsInf(float64(rl.rps), 1) {
		return "1"
	}
	secs := int(math.Ceil(1 / float64(rl.rps)))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// IsRateBypass reports whether IdempotencyValidator flagged the request as a
// replay. Replays of a recorded dose action never cost a token.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the per-key limit. A refused request gets 429 with the
// API's error envelope, Retry-After and X-RateLimit-Limit.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) || rl.getVisitor(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}

		c.Header("Retry-After", rl.retryAfter())
		c.Header("X-RateLimit-Limit", strconv.FormatFloat(float64(rl.rps), 'f', -1, 64))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       CodeRateLimited,
			"message":    "rate limit exceeded",
		})
	}
}
