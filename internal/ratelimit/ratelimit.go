// Package ratelimit enforces the outbound-message ceiling per fixed time
// window imposed by the messaging channel.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/relayworks/chat-relay/pkg/metrics"
)

// ErrMaxWaitExceeded is returned when a caller has waited longer than the
// configured ceiling without obtaining a slot.
var ErrMaxWaitExceeded = errors.New("rate limit: max wait exceeded")

// Limiter grants permission to perform one outbound send per slot.
type Limiter interface {
	// Acquire blocks until a send slot is free, the context is cancelled,
	// or the maximum total wait elapses.
	Acquire(ctx context.Context) error
}

// WindowLimiter is a fixed-window limiter: a budget of sends per window,
// counters reset when the window elapses. State is process-local; running
// multiple workers multiplies the effective outbound rate.
type WindowLimiter struct {
	limit   int
	window  time.Duration
	maxWait time.Duration

	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// New creates a WindowLimiter allowing limit sends per window, with callers
// waiting at most maxWait in total for a slot.
func New(limit int, window, maxWait time.Duration) *WindowLimiter {
	return &WindowLimiter{
		limit:   limit,
		window:  window,
		maxWait: maxWait,
	}
}

// Acquire implements Limiter. Waiters are served in roughly call order; no
// strict FIFO guarantee is made.
func (l *WindowLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.RateLimitWait.Observe(time.Since(start).Seconds())
	}()

	for {
		ok, wait := l.tryAcquire()
		if ok {
			return nil
		}

		if time.Since(start)+wait > l.maxWait {
			return ErrMaxWaitExceeded
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire consumes a slot if the budget allows, otherwise reports how
// long the caller should wait before checking again.
func (l *WindowLimiter) tryAcquire() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}

	if l.count < l.limit {
		l.count++
		return true, 0
	}

	remaining := l.window - now.Sub(l.windowStart)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	return false, remaining
}
