package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/cryptoview/gateway/internal/domain"
)

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func newTokenBucket(capacity, refillPerSecond int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: float64(refillPerSecond),
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) tryAcquire(weight int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	w := float64(weight)
	if tb.tokens >= w {
		tb.tokens -= w
		return true
	}
	return false
}

func (tb *tokenBucket) acquire(ctx context.Context, weight int) error {
	for {
		if tb.tryAcquire(weight) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// RateLimiter throttles venue REST calls per endpoint category. Categories
// without a bucket are unlimited.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[domain.EndpointCategory]*tokenBucket
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[domain.EndpointCategory]*tokenBucket)}
}

func (rl *RateLimiter) AddBucket(category domain.EndpointCategory, capacity, refillPerSecond int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.buckets[category] = newTokenBucket(capacity, refillPerSecond)
}

func (rl *RateLimiter) Acquire(ctx context.Context, category domain.EndpointCategory, weight int) error {
	rl.mu.RLock()
	bucket, ok := rl.buckets[category]
	rl.mu.RUnlock()
	if !ok {
		return nil
	}
	return bucket.acquire(ctx, weight)
}

func (rl *RateLimiter) TryAcquire(category domain.EndpointCategory, weight int) bool {
	rl.mu.RLock()
	bucket, ok := rl.buckets[category]
	rl.mu.RUnlock()
	if !ok {
		return true
	}
	return bucket.tryAcquire(weight)
}
