package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// IPRateLimiter manages per-client token buckets keyed by IP address.
type IPRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	r       rate.Limit
	b       int
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a limiter allowing r events per second with burst
// b per client. Idle clients are swept after ten minutes.
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	i := &IPRateLimiter{
		clients: make(map[string]*client),
		r:       r,
		b:       b,
	}
	go i.sweep()
	return i
}

func (i *IPRateLimiter) sweep() {
	for {
		time.Sleep(time.Minute)
		cutoff := time.Now().Add(-10 * time.Minute)
		i.mu.Lock()
		for ip, c := range i.clients {
			if c.lastSeen.Before(cutoff) {
				delete(i.clients, ip)
			}
		}
		i.mu.Unlock()
	}
}

// Allow reports whether the given client may proceed.
func (i *IPRateLimiter) Allow(ip string) bool {
	i.mu.Lock()
	c, exists := i.clients[ip]
	if !exists {
		c = &client{limiter: rate.NewLimiter(i.r, i.b)}
		i.clients[ip] = c
	}
	c.lastSeen = time.Now()
	i.mu.Unlock()
	return c.limiter.Allow()
}

// RateLimitMiddleware creates a Gin middleware for per-IP rate limiting.
func RateLimitMiddleware(limit rate.Limit, burst int) gin.HandlerFunc {
	limiter := NewIPRateLimiter(limit, burst)

	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests",
			})
			return
		}
		c.Next()
	}
}
