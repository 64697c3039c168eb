package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"akashshare/server/common/infra/cache"
	commonlog "akashshare/server/common/log"
	"akashshare/server/common/transport/httpresp"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter shares a fixed per-minute budget across every instance pointing at the same redis.
type RedisLimiter struct {
	counter *cache.WindowCounter
	limit   int64
}

func NewRedisLimiter(counter *cache.WindowCounter, perMinute int) *RedisLimiter {
	return &RedisLimiter{counter: counter, limit: int64(perMinute)}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := l.counter.Hit(ctx, key)
	if err != nil {
		return false, err
	}
	return n <= l.limit, nil
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory.
type MemoryLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

func NewMemoryLimiter(perMinute int) *MemoryLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &MemoryLimiter{
		visitors: map[string]*visitor{},
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1), nil
}

// Prune drops buckets idle for longer than the idle TTL and returns how many were dropped.
func (l *MemoryLimiter) Prune() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idleTTL {
			delete(l.visitors, key)
			dropped++
		}
	}
	return dropped
}

// RunPruner prunes idle buckets every interval until ctx is done.
func (l *MemoryLimiter) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}

// RateLimit rejects requests over budget with 429. Limiter failures let the request through.
func RateLimit(scope string, l Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := scope + ":" + c.ClientIP()
		ok, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			commonlog.Warnf("event=rate_limit action=allow status=failed scope=%s err=%v", scope, err)
			c.Next()
			return
		}
		if !ok {
			rateLimitedTotal.WithLabelValues(scope).Inc()
			c.Header("Retry-After", strconv.Itoa(60))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, httpresp.NewErrorResponse(httpresp.ErrTooManyRequests))
			return
		}
		c.Next()
	}
}
