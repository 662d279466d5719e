package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiterConfig sizes the per-client token buckets.
type RateLimiterConfig struct {
	RequestsPerMinute int
	BurstSize         int
	// IdleTTL drops buckets of clients that have been quiet this long.
	IdleTTL time.Duration
}

// TriggerRateLimiterConfig allows a couple of manual passes in a burst and
// about one per ten minutes after that.
func TriggerRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 6,
		BurstSize:         2,
		IdleTTL:           30 * time.Minute,
	}
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// RateLimiter keeps one token bucket per client: the authenticated user when
// there is one, the client IP otherwise.
type RateLimiter struct {
	perSecond float64
	burst     float64
	idleTTL   time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		perSecond: float64(cfg.RequestsPerMinute) / 60,
		burst:     float64(cfg.BurstSize),
		idleTTL:   cfg.IdleTTL,
		buckets:   make(map[string]*bucket),
		stop:      make(chan struct{}),
	}
	if rl.idleTTL > 0 {
		go rl.sweep()
	}
	return rl
}

// Close stops the idle-bucket sweeper.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for id, b := range rl.buckets {
				if now.Sub(b.seen) > rl.idleTTL {
					delete(rl.buckets, id)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Allow spends a token of clientID if one is available.
func (rl *RateLimiter) Allow(clientID string) bool {
	ok, _ := rl.take(clientID, time.Now())
	return ok
}

// take spends a token or reports how long until the next one is available.
func (rl *RateLimiter) take(clientID string, now time.Time) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[clientID]
	if !ok {
		b = &bucket{tokens: rl.burst, seen: now}
		rl.buckets[clientID] = b
	}
	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.seen).Seconds()*rl.perSecond)
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if rl.perSecond <= 0 {
		return false, rl.idleTTL
	}
	return false, time.Duration((1 - b.tokens) / rl.perSecond * float64(time.Second))
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header in whole seconds.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := "ip:" + c.ClientIP()
		if claims, ok := GetUserFromContext(c); ok {
			clientID = "user:" + claims.UserID
		}

		ok, wait := rl.take(clientID, time.Now())
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": secs,
			})
			return
		}
		c.Next()
	}
}
