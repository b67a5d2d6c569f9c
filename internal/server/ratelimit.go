package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"auction-sessions/utils"
)

var errTooManyRequests = errors.New("rate limit exceeded")

// KeyLimiter applies a token bucket per string key and evicts idle entries.
type KeyLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	mu      sync.Mutex
	byKey   map[string]*limiterEntry
	hits    uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyLimiter creates a key-based limiter; returns nil if args are invalid,
// and a nil limiter allows everything.
func NewKeyLimiter(rps float64, burst int, idleTTL time.Duration) *KeyLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &KeyLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byKey:   make(map[string]*limiterEntry),
	}
}

// Allow reports whether one token can be consumed for the key at now.
func (l *KeyLimiter) Allow(key string, now time.Time) bool {
	if l == nil || key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{
			limiter: rate.NewLimiter(l.limit, l.burst),
		}
		l.byKey[key] = e
	}
	e.lastSeen = now

	l.hits++
	if l.hits%256 == 0 {
		l.evictIdle(now)
	}

	return e.limiter.AllowN(now, 1)
}

func (l *KeyLimiter) evictIdle(now time.Time) {
	for key, e := range l.byKey {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.byKey, key)
		}
	}
}

// RateLimitMiddleware throttles requests per client address.
func RateLimitMiddleware(limiter *KeyLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP(), time.Now()) {
			utils.JSONError(c, http.StatusTooManyRequests, errTooManyRequests, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
