package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitConfig controls global and per-caller throttling. A global token
// bucket guards the whole API; a Redis-backed fixed window additionally
// throttles provisioning calls (startWhip/createSession) per caller id,
// since those are the calls that drive stage-pool allocation.
type RateLimitConfig struct {
	GlobalRPS        float64
	GlobalBurst      int
	ProvisionLimit   int
	ProvisionWindow  time.Duration
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisDialTimeout time.Duration
}

type rateLimiter struct {
	global          *tokenBucket
	provisionLimit  int
	provisionWindow time.Duration
	mu              sync.Mutex
	localBuckets    map[string]*ipLimiter
	store           tokenStore
}

type ipLimiter struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

type tokenStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		provisionLimit:  cfg.ProvisionLimit,
		provisionWindow: cfg.ProvisionWindow,
		localBuckets:    make(map[string]*ipLimiter),
	}
	if cfg.GlobalRPS > 0 {
		burst := cfg.GlobalBurst
		if burst <= 0 {
			burst = int(cfg.GlobalRPS)
			if burst < 1 {
				burst = 1
			}
		}
		rl.global = newTokenBucket(cfg.GlobalRPS, burst)
	}
	if rl.provisionWindow <= 0 {
		rl.provisionWindow = time.Minute
	}
	if cfg.RedisAddr != "" && rl.provisionLimit > 0 {
		timeout := cfg.RedisDialTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		rl.store = newRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, timeout)
	}
	return rl
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.Allow()
}

// AllowProvision throttles calls keyed by caller id, falling back to an
// in-process bucket when no Redis-backed store is configured (e.g. a
// single-replica deployment, or tests).
func (r *rateLimiter) AllowProvision(ctx context.Context, callerID string) (bool, time.Duration, error) {
	if r == nil || r.provisionLimit <= 0 {
		return true, 0, nil
	}
	if r.store != nil {
		allowed, retryAfter, err := r.store.Allow(ctx, fmt.Sprintf("ingress:provision:%s", callerID), r.provisionLimit, r.provisionWindow)
		return allowed, retryAfter, err
	}
	if callerID == "" {
		callerID = "unknown"
	}
	r.mu.Lock()
	bucket, exists := r.localBuckets[callerID]
	if !exists {
		rate := float64(r.provisionLimit) / r.provisionWindow.Seconds()
		if rate <= 0 {
			rate = 1 / r.provisionWindow.Seconds()
		}
		bucket = &ipLimiter{bucket: newTokenBucket(rate, r.provisionLimit)}
		r.localBuckets[callerID] = bucket
	}
	bucket.lastSeen = time.Now()
	r.cleanupLocked()
	r.mu.Unlock()

	if bucket.bucket.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}

func (r *rateLimiter) cleanupLocked() {
	if len(r.localBuckets) == 0 {
		return
	}
	cutoff := time.Now().Add(-2 * r.provisionWindow)
	for key, bucket := range r.localBuckets {
		if bucket.lastSeen.Before(cutoff) {
			delete(r.localBuckets, key)
		}
	}
}

type tokenBucket struct {
	mu        sync.Mutex
	rate      float64
	capacity  float64
	tokens    float64
	lastCheck time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{
		rate:      rate,
		capacity:  float64(burst),
		tokens:    float64(burst),
		lastCheck: time.Now(),
	}
}

func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(tb.lastCheck).Seconds()
	tb.lastCheck = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// redisStore implements tokenStore with a fixed-window counter kept in
// Redis, so every ingress API replica shares the same per-caller budget.
// This replaces the teacher's hand-rolled RESP client (internal/server/
// redis_store.go) with the go-redis client the rest of the ecosystem pack
// uses for Redis access.
type redisStore struct {
	client *redis.Client
}

func newRedisStore(addr, password string, db int, timeout time.Duration) *redisStore {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: timeout,
	})
	return &redisStore{client: client}
}

func (s *redisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, err
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if ttl < 0 {
		return false, window, nil
	}
	return false, ttl, nil
}
