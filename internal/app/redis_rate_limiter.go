package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter counts hits in fixed windows aligned to the Unix epoch. Every window has
// its own key, so expiry only has to clean up closed windows.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "rental_finance:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: prefix, now: time.Now}
}

// ConsumeRateLimit records one hit for subject within scope. It returns the hits seen in the
// current window and the seconds until that window closes. A nil limiter never limits.
func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window < time.Second {
		return 0, 0, nil
	}
	scope, subject = strings.TrimSpace(scope), strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}

	key, retryAfter := windowBucket(r.prefix, scope, subject, window, r.now())

	var hits *redis.IntCmd
	if _, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hits = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window+time.Second)
		return nil
	}); err != nil {
		return 0, 0, fmt.Errorf("rate limit %s: %w", scope, err)
	}
	return int(hits.Val()), retryAfter, nil
}

// windowBucket names the counter of the window containing at and returns the whole seconds
// left in that window (at least 1).
func windowBucket(prefix, scope, subject string, window time.Duration, at time.Time) (string, int) {
	index := at.UnixNano() / int64(window)
	closesAt := time.Unix(0, (index+1)*int64(window))

	retryAfter := int(math.Ceil(closesAt.Sub(at).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return fmt.Sprintf("%s:%s:%s:%d", prefix, scope, subject, index), retryAfter
}
