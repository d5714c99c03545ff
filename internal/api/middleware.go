package api

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mesh-intelligence/journey/pkg/types"
)

const userKey = "userID"

// authenticate requires a valid bearer token and stores its subject.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || s.verifier == nil {
			s.fail(c, types.ErrAuthRequired)
			c.Abort()
			return
		}
		userID, err := s.verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			s.fail(c, err)
			c.Abort()
			return
		}
		c.Set(userKey, userID)
		c.Next()
	}
}

func userOf(c *gin.Context) string {
	return c.GetString(userKey)
}

// observe logs each request and counts it by route and status.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		}
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// rateLimit rejects chat turns beyond the per-user budget.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow(userOf(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

type limiterPool struct {
	mu        sync.Mutex
	m         map[string]*rate.Limiter
	perMinute int
}

func newLimiterPool(perMinute int) *limiterPool {
	return &limiterPool{m: make(map[string]*rate.Limiter), perMinute: perMinute}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(time.Minute/time.Duration(p.perMinute)), p.perMinute)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}
