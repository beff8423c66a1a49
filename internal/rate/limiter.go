// Package rate throttles the email-sending auth flows. Abuse of the
// reset, verification and magic-link endpoints is a spam vector, so
// sends are limited per (tenant, email) over a fixed window.
package rate

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	CurrentHits int64
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// RedisLimiter is a fixed window counter (INCR + EXPIRE).
type RedisLimiter struct {
	client *rdb.Client
	prefix string
	max    int64
	window time.Duration
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "authrl:"
	}
	return &RedisLimiter{client: client, prefix: prefix, max: int64(max), window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now().UTC()
	winStart := now.Truncate(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	// set expiry on first hit
	if incr.Val() == 1 {
		_ = l.client.Expire(ctx, redisKey, l.window).Err()
		ttl = l.client.TTL(ctx, redisKey)
	}

	hits := incr.Val()
	remaining := l.max - hits
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:     hits <= l.max,
		Remaining:   remaining,
		CurrentHits: hits,
	}
	if !res.Allowed {
		res.RetryAfter = ttl.Val()
		if res.RetryAfter < 0 {
			res.RetryAfter = time.Duration(math.Ceil(l.window.Seconds())) * time.Second
		}
	}
	return res, nil
}

// LocalLimiter is the in-process fallback for single-node deployments
// and tests.
type LocalLimiter struct {
	mu     sync.Mutex
	hits   map[string]int64
	starts map[string]time.Time
	max    int64
	window time.Duration
}

var _ Limiter = (*LocalLimiter)(nil)

func NewLocalLimiter(max int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		hits:   make(map[string]int64),
		starts: make(map[string]time.Time),
		max:    int64(max),
		window: window,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if start, ok := l.starts[key]; !ok || now.Sub(start) >= l.window {
		l.starts[key] = now
		l.hits[key] = 0
	}
	l.hits[key]++

	hits := l.hits[key]
	remaining := l.max - hits
	if remaining < 0 {
		remaining = 0
	}
	res := Result{Allowed: hits <= l.max, Remaining: remaining, CurrentHits: hits}
	if !res.Allowed {
		res.RetryAfter = l.window - now.Sub(l.starts[key])
	}
	return res, nil
}
