package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func Ping(ctx context.Context, c *redis.Client) error {
	return c.Ping(ctx).Err()
}

// WindowCounter counts hits per key inside fixed time windows stored in redis.
type WindowCounter struct {
	client *redis.Client
	prefix string
	window time.Duration
}

func NewWindowCounter(client *redis.Client, prefix string, window time.Duration) *WindowCounter {
	if window <= 0 {
		window = time.Minute
	}
	return &WindowCounter{client: client, prefix: prefix, window: window}
}

// Hit increments the counter for key in the current window and returns the new count.
// The expiry is only set on the first hit so the window does not slide.
func (w *WindowCounter) Hit(ctx context.Context, key string) (int64, error) {
	slot := time.Now().UnixNano() / int64(w.window)
	fullKey := w.prefix + ":" + key + ":" + strconv.FormatInt(slot, 10)

	pipe := w.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, w.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
