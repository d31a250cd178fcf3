// Package ratelimit gates command invocations per user with a fixed window.
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Decision is the outcome of one check. RetryAfter is set only on denial.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter checks one hit for a user within a scope.
type Limiter interface {
	Check(ctx context.Context, userID int64, scope string) (Decision, error)
}

type bucketKey struct {
	userID int64
	scope  string
}

type bucket struct {
	windowStart time.Time
	tokens      int
}

// MemoryLimiter keeps buckets in process memory. Buckets on one cluster are
// invisible to every other cluster.
type MemoryLimiter struct {
	capacity int
	period   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
}

func NewMemoryLimiter(capacity int, period time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		capacity: capacity,
		period:   period,
		now:      time.Now,
		buckets:  make(map[bucketKey]*bucket),
	}
}

// Check resets the bucket when the window has elapsed, then takes a token.
func (l *MemoryLimiter) Check(_ context.Context, userID int64, scope string) (Decision, error) {
	now := l.now()
	key := bucketKey{userID: userID, scope: scope}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= l.period {
		b = &bucket{windowStart: now, tokens: l.capacity}
		l.buckets[key] = b
	}

	if b.tokens == 0 {
		return Decision{RetryAfter: b.windowStart.Add(l.period).Sub(now)}, nil
	}
	b.tokens--
	return Decision{Allowed: true}, nil
}

// Prune evicts buckets whose window has fully elapsed and returns how many
// were removed.
func (l *MemoryLimiter) Prune() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= l.period {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of live buckets.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// WindowCounter counts hits against a key in a window shared by every cluster.
type WindowCounter interface {
	FixedWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisLimiter keeps buckets in the shared store so every cluster sees the
// same count.
type RedisLimiter struct {
	counter  WindowCounter
	capacity int
	period   time.Duration
}

func NewRedisLimiter(counter WindowCounter, capacity int, period time.Duration) *RedisLimiter {
	return &RedisLimiter{
		counter:  counter,
		capacity: capacity,
		period:   period,
	}
}

func (l *RedisLimiter) Check(ctx context.Context, userID int64, scope string) (Decision, error) {
	count, remaining, err := l.counter.FixedWindow(ctx, scope+":"+strconv.FormatInt(userID, 10), l.period)
	if err != nil {
		return Decision{Allowed: true}, err
	}
	if count > int64(l.capacity) {
		return Decision{RetryAfter: remaining}, nil
	}
	return Decision{Allowed: true}, nil
}
