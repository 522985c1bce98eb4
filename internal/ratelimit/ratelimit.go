// Package ratelimit provides token-bucket rate limiting middleware.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the refill rate per key
	RequestsPerMinute int
	// BurstSize allows brief bursts above the limit
	BurstSize int
	// CleanupInterval is how often to drop idle keys
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

// KeyFunc derives the bucket key for a request.
type KeyFunc func(c *gin.Context) string

// Limiter tracks token buckets by key
type Limiter struct {
	cfg      Config
	clock    clockwork.Clock
	mu       sync.Mutex
	clients  map[string]*clientState
	stop     chan struct{}
	stopOnce sync.Once
}

type clientState struct {
	tokens    float64
	lastCheck time.Time
}

// New creates a new rate limiter using the wall clock.
func New(cfg Config) *Limiter {
	return NewWithClock(cfg, clockwork.NewRealClock())
}

// NewWithClock creates a rate limiter with an injected clock.
func NewWithClock(cfg Config, clock clockwork.Clock) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		clock:   clock,
		clients: make(map[string]*clientState),
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *Limiter) cleanup() {
	ticker := l.clock.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			l.mu.Lock()
			cutoff := l.clock.Now().Add(-2 * time.Minute)
			for key, state := range l.clients {
				if state.lastCheck.Before(cutoff) {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Allow reports whether a request for key may proceed. When it may not,
// retryAfter is the time until the next token is available.
func (l *Limiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	perSecond := float64(l.cfg.RequestsPerMinute) / 60.0

	state, exists := l.clients[key]
	if !exists {
		l.clients[key] = &clientState{
			tokens:    float64(l.cfg.BurstSize - 1),
			lastCheck: now,
		}
		return true, 0
	}

	elapsed := now.Sub(state.lastCheck).Seconds()
	state.tokens = math.Min(state.tokens+elapsed*perSecond, float64(l.cfg.BurstSize))
	state.lastCheck = now

	if state.tokens >= 1 {
		state.tokens--
		return true, 0
	}

	missing := 1 - state.tokens
	return false, time.Duration(missing / perSecond * float64(time.Second))
}

// ClientIP keys requests by client address.
func ClientIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// Middleware returns a Gin middleware that rate limits by keyFn.
// A nil keyFn keys by client IP.
func (l *Limiter) Middleware(keyFn KeyFunc) gin.HandlerFunc {
	if keyFn == nil {
		keyFn = ClientIP
	}
	return func(c *gin.Context) {
		allowed, retryAfter := l.Allow(keyFn(c))
		if !allowed {
			secs := int(math.Ceil(retryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please retry later.",
				"retry_after": secs,
			})
			return
		}

		c.Next()
	}
}
