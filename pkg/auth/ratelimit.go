package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyRequests is returned when a caller exceeds the rate limit.
var ErrTooManyRequests = errors.New("rate limit exceeded")

// RateLimiter checks whether a request identified by an opaque key
// (client address for pre-auth routes, principal id after the gateway)
// should be allowed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) error
}

// InProcessLimiter is a simple fixed-window rate limiter that tracks
// request counts per key in memory. It guards the credential-carrying
// auth routes against brute forcing.
type InProcessLimiter struct {
	rpm      int
	window   time.Duration
	mu       sync.Mutex
	counters map[string]*counter
}

type counter struct {
	count    int
	windowAt time.Time
}

// NewInProcessLimiter creates a rate limiter allowing rpm requests per
// window per key. A window of zero defaults to one minute.
func NewInProcessLimiter(rpm int, window time.Duration) *InProcessLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &InProcessLimiter{
		rpm:      rpm,
		window:   window,
		counters: make(map[string]*counter),
	}
}

// Allow checks if the request is within the rate limit.
func (l *InProcessLimiter) Allow(_ context.Context, key string) error {
	if l.rpm <= 0 {
		return nil // no limit
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	c, ok := l.counters[key]
	if !ok || now.Sub(c.windowAt) >= l.window {
		// Opportunistic sweep keeps the map from accumulating counters
		// for clients that stopped sending requests.
		for k, old := range l.counters {
			if now.Sub(old.windowAt) >= l.window {
				delete(l.counters, k)
			}
		}
		l.counters[key] = &counter{count: 1, windowAt: now}
		return nil
	}

	c.count++
	if c.count > l.rpm {
		return ErrTooManyRequests
	}

	return nil
}
