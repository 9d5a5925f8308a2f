package core

import (
	"sync"
	"time"
)

type tokenWindow struct {
	start time.Time
	count int
}

// RateLimiter is a fixed-window counter per key. Keys are connection ids, so
// one flooding connection cannot starve the others.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]tokenWindow
	now     func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1200
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]tokenWindow),
		now:     time.Now,
	}
}

func (r *RateLimiter) Allow(key string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.buckets[key]
	if b.start.IsZero() || now.Sub(b.start) >= r.window {
		r.buckets[key] = tokenWindow{start: now, count: 1}
		return true
	}
	if b.count >= r.limit {
		return false
	}
	b.count++
	r.buckets[key] = b
	return true
}

// Forget drops the bucket for key once its connection is gone.
func (r *RateLimiter) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, key)
}
