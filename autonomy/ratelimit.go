// Copyright 2025 NexusPM
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package autonomy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"nexuspm/platform/shared/logger"
)

// RateLimiter enforces a per-caller requests-per-minute limit. With Redis it
// uses a sliding window shared across instances; without Redis it falls back
// to a fixed-window in-memory counter. Redis errors fail open so a cache
// outage never blocks traffic.
type RateLimiter struct {
	client *redis.Client
	limit  int
	log    *logger.Logger

	mu      sync.Mutex
	entries map[string]*rateLimitEntry

	now func() time.Time
}

type rateLimitEntry struct {
	count     int
	resetTime time.Time
}

// NewRateLimiter creates a limiter. An empty redisURL, or a Redis that cannot
// be reached at startup, selects the in-memory fallback.
func NewRateLimiter(redisURL string, limitPerMinute int, log *logger.Logger) *RateLimiter {
	l := &RateLimiter{
		limit:   limitPerMinute,
		log:     log,
		entries: make(map[string]*rateLimitEntry),
		now:     time.Now,
	}

	if redisURL == "" {
		return l
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn("", "", "invalid redis url, using in-memory rate limiting", map[string]interface{}{
			"error": err.Error(),
		})
		return l
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("", "", "redis unreachable, using in-memory rate limiting", map[string]interface{}{
			"error": err.Error(),
		})
		_ = client.Close()
		return l
	}

	l.client = client
	return l
}

// Allow reports whether the caller identified by key is within the limit.
// The error is non-nil only when the limit is exceeded.
func (l *RateLimiter) Allow(ctx context.Context, key string) error {
	if l.limit <= 0 {
		return nil
	}
	if l.client == nil {
		return l.allowMemory(key)
	}
	return l.allowRedis(ctx, key)
}

func (l *RateLimiter) allowRedis(ctx context.Context, key string) error {
	now := l.now()
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	pipe := l.client.Pipeline()

	minScore := now.Add(-time.Minute).Unix()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", minScore))
	pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, &redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, redisKey, 2*time.Minute)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		// Fail open on Redis errors.
		l.log.Warn("", "", "rate limit check failed, failing open", map[string]interface{}{
			"key": key, "error": err.Error(),
		})
		return nil
	}

	count := cmds[1].(*redis.IntCmd).Val()
	if count > int64(l.limit) {
		return fmt.Errorf("rate limit exceeded: %d requests/minute (limit: %d)", count, l.limit)
	}

	return nil
}

func (l *RateLimiter) allowMemory(key string) error {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetTime) {
		l.entries[key] = &rateLimitEntry{count: 1, resetTime: now.Add(time.Minute)}
		return nil
	}

	entry.count++
	if entry.count > l.limit {
		return fmt.Errorf("rate limit exceeded: %d requests/minute (limit: %d)", entry.count, l.limit)
	}

	return nil
}

// Close releases the Redis connection if one is held.
func (l *RateLimiter) Close() error {
	if l.client != nil {
		return l.client.Close()
	}
	return nil
}
