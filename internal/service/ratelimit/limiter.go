package ratelimit

import (
	"sync"
	"time"
)

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// Limiter is a token bucket. Capacity bounds bursts; refill is tokens
// per second. The zero capacity limiter allows nothing.
type Limiter struct {
	mu         sync.Mutex
	now        func() time.Time
	tokens     float64
	capacity   float64
	refillRate float64
	last       time.Time
}

// New creates a full bucket.
func New(capacity, refillPerSec float64, opts ...Option) *Limiter {
	l := &Limiter{
		now:        time.Now,
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillPerSec,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.last = l.now()
	return l
}

// Allow consumes one token if available.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// Tokens returns the current token count, after refill.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	return l.tokens
}

// refill credits elapsed time. Caller holds the lock.
func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.refillRate
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.last = now
}
