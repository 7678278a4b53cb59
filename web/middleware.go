package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Federation traffic is bursty: one boosted post fans in likes and
// announces from many servers within seconds, so budgets are tracked per
// remote address rather than globally.
const (
	limiterSweepInterval = 5 * time.Minute
	maxTrackedClients    = 10000
)

// RateLimiter hands out one token bucket per client address.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*rate.Limiter
	rate    rate.Limit
	burst   int
}

// NewRateLimiter builds a limiter refilling r tokens per second with
// burst capacity b.
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*rate.Limiter),
		rate:    r,
		burst:   b,
	}
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, ok := rl.clients[ip]; ok {
		return limiter
	}

	limiter := rate.NewLimiter(rl.rate, rl.burst)
	rl.clients[ip] = limiter
	return limiter
}

// sweep drops all per-client state once the map grows past
// maxTrackedClients. Active clients get a fresh bucket on their next
// request.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		if len(rl.clients) > maxTrackedClients {
			rl.clients = make(map[string]*rate.Limiter)
		}
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware rejects clients that exhaust their token bucket.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	go rl.sweep()

	return func(c *gin.Context) {
		if !rl.getLimiter(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// MaxBytesMiddleware caps the inbound payload size. Oversized activities
// are rejected on Content-Length before the body is read; chunked bodies
// are cut off by MaxBytesReader.
func MaxBytesMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Activity payload too large",
			})
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
