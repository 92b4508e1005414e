package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/order-migrator/pkg/response"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitors tracks one limiter per client and route
type visitors struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	byKey map[string]*visitor
}

func (v *visitors) get(key string, now time.Time) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()

	vis, ok := v.byKey[key]
	if !ok {
		vis = &visitor{limiter: rate.NewLimiter(v.limit, v.burst)}
		v.byKey[key] = vis
	}
	vis.lastSeen = now

	// drop clients not seen for a while
	for k, other := range v.byKey {
		if now.Sub(other.lastSeen) > 3*time.Minute {
			delete(v.byKey, k)
		}
	}
	return vis.limiter
}

// RateLimit allows each client perMinute requests per route, with the given burst
func RateLimit(perMinute float64, burst int) gin.HandlerFunc {
	if burst < 1 {
		burst = 1
	}
	v := &visitors{
		limit: rate.Limit(perMinute / 60.0),
		burst: burst,
		byKey: make(map[string]*visitor),
	}

	return func(c *gin.Context) {
		limiter := v.get(c.ClientIP()+":"+c.FullPath(), time.Now())
		if !limiter.Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequestLogger logs every request with the component's logger
func RequestLogger(component string) gin.HandlerFunc {
	logger := log.With().Str("component", component).Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := logger.Debug()
		if c.Writer.Status() >= 500 {
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}
