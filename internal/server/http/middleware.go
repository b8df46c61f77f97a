package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/beam-me/core/internal/logging"
	"github.com/beam-me/core/internal/observability"
)

// ObservabilityMiddleware wraps each request in a server span and logs it
// once the handler chain has run.
func ObservabilityMiddleware(logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		began := time.Now()
		req := c.Request
		ctx, span := observability.StartSpan(req.Context(), observability.SpanHTTPServer,
			attribute.String("http.method", req.Method))
		defer span.End()
		c.Request = req.WithContext(ctx)

		c.Next()

		route, code := c.FullPath(), c.Writer.Status()
		if route == "" {
			route = req.URL.Path
		}
		span.SetAttributes(attribute.String("http.route", route), attribute.Int("http.status_code", code))
		if code >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(code))
		}
		logger.Debug("%s %s -> %d in %s", req.Method, route, code, time.Since(began).Round(time.Microsecond))
	}
}

// RateLimitConfig bounds requests per client IP.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
	// IdleTTL drops a client's bucket after it has been quiet this long.
	IdleTTL time.Duration
	// MaxClients caps the tracked clients; the least recent is evicted.
	MaxClients int
}

// clientBuckets hands out one token bucket per client key.
type clientBuckets struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	buckets *expirable.LRU[string, *rate.Limiter]
}

func newClientBuckets(cfg RateLimitConfig) *clientBuckets {
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	size := cfg.MaxClients
	if size <= 0 {
		size = 10_000
	}
	return &clientBuckets{
		every:   rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute)),
		burst:   cfg.Burst,
		buckets: expirable.NewLRU[string, *rate.Limiter](size, nil, ttl),
	}
}

func (b *clientBuckets) take(key string) bool {
	b.mu.Lock()
	lim, ok := b.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(b.every, b.burst)
	}
	// Re-adding refreshes the idle deadline.
	b.buckets.Add(key, lim)
	b.mu.Unlock()
	return lim.Allow()
}

// RateLimitMiddleware limits requests per client IP. A zero rate or burst
// disables it.
func RateLimitMiddleware(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerMinute <= 0 || cfg.Burst <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	buckets := newClientBuckets(cfg)
	return func(c *gin.Context) {
		if buckets.take(c.ClientIP()) {
			c.Next()
			return
		}
		c.Header("Retry-After", "60")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, apiErrorResponse{Error: "rate limit exceeded"})
	}
}
