package middleware

import (
	"net/http"
	"sync"
	"time"

	"texstream/pkg/config"
	"texstream/pkg/ratelimit"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const clientIdleTTL = 10 * time.Minute

// httpRateLimiter keeps one token bucket per client IP and an optional cap
// on requests in flight across all clients.
type httpRateLimiter struct {
	store     *ratelimit.Store
	globalSem chan struct{}

	idleTTL   time.Duration
	pruneMu   sync.Mutex
	lastPrune time.Time
}

func newHTTPRateLimiter(cfg *config.Config, idleTTL time.Duration) *httpRateLimiter {
	l := &httpRateLimiter{
		store: ratelimit.NewStore(
			rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond),
			cfg.RateLimiting.HTTP.Burst,
			idleTTL,
		),
		idleTTL:   idleTTL,
		lastPrune: time.Now(),
	}
	if n := cfg.RateLimiting.HTTP.MaxConcurrent; n > 0 {
		l.globalSem = make(chan struct{}, n)
	}
	return l
}

// maybePrune evicts idle client buckets at most once per idle TTL.
func (l *httpRateLimiter) maybePrune(now time.Time) {
	l.pruneMu.Lock()
	if now.Sub(l.lastPrune) < l.idleTTL {
		l.pruneMu.Unlock()
		return
	}
	l.lastPrune = now
	l.pruneMu.Unlock()

	l.store.Prune()
}

func (l *httpRateLimiter) handle(c *gin.Context) {
	if l.globalSem != nil {
		select {
		case l.globalSem <- struct{}{}:
			defer func() { <-l.globalSem }()
		default:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "too many concurrent requests",
			})
			return
		}
	}

	l.maybePrune(time.Now())

	if !l.store.Allow(ratelimit.ClientIP(c.Request)) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate limit exceeded",
			"retry_after": 1,
		})
		return
	}
	c.Next()
}

// NewHTTPRateLimitMiddleware limits requests per client IP. Buckets of
// clients idle for ten minutes are dropped.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return newHTTPRateLimiter(cfg, clientIdleTTL).handle
}
