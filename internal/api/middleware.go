package api

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"signal-core/pkg/logger"
)

const requestIDKey = "RequestID"

// ipLimiters keeps one token bucket per client IP. The set is dropped every
// few minutes so idle clients do not accumulate.
type ipLimiters struct {
	mu      sync.Mutex
	m       map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
	resetAt time.Time
}

func newIPLimiters(rps float64, burst int) *ipLimiters {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 50
	}
	return &ipLimiters{
		m:       make(map[string]*rate.Limiter),
		limit:   rate.Limit(rps),
		burst:   burst,
		resetAt: time.Now().Add(5 * time.Minute),
	}
}

func (l *ipLimiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now := time.Now(); now.After(l.resetAt) {
		l.m = make(map[string]*rate.Limiter)
		l.resetAt = now.Add(5 * time.Minute)
	}
	lim, ok := l.m[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.m[ip] = lim
	}
	return lim
}

// RequestIDMiddleware adds unique request ID for tracking
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// RateLimitMiddleware prevents API abuse with per-IP rate limiting
func RateLimitMiddleware(limiters *ipLimiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiters.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":  "RATE_LIMITED",
				"error": "too many requests, please slow down",
			})
			return
		}
		c.Next()
	}
}

// IPAllowList rejects clients outside allowed. An empty list admits everyone.
func IPAllowList(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(allowed) == 0 || slices.Contains(allowed, c.ClientIP()) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"code":  "IP_NOT_ALLOWED",
			"error": "ip " + c.ClientIP() + " is not allowed",
		})
	}
}

// RequestLogger logs all requests with timing and status.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := log.WithRequestID(c.GetString(requestIDKey)).WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  status,
			"latency": time.Since(start).String(),
			"ip":      c.ClientIP(),
		})
		switch {
		case status >= 500:
			entry.Error("request failed")
		case status >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request")
		}
	}
}
