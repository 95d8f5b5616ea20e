package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAcquireWithinBudget(t *testing.T) {
	l := New(3, time.Second, 5*time.Second)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i+1, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("acquires within budget took too long: %v", elapsed)
	}
}

func TestAcquireBlocksWhenExhausted(t *testing.T) {
	window := 200 * time.Millisecond
	l := New(2, window, 5*time.Second)
	ctx := context.Background()

	windowStart := time.Now()
	l.Acquire(ctx)
	l.Acquire(ctx)

	// Budget exhausted: the next acquire must not complete before the
	// window has elapsed.
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("blocked Acquire failed: %v", err)
	}
	if elapsed := time.Since(windowStart); elapsed < window {
		t.Errorf("third acquire completed after %v, before the %v window elapsed", elapsed, window)
	}
}

func TestAcquireOverFullSecondWindow(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}

	l := New(30, time.Second, 10*time.Second)
	ctx := context.Background()

	windowStart := time.Now()
	for i := 0; i < 30; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i+1, err)
		}
	}

	// The 31st send waits for the next window.
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("31st Acquire failed: %v", err)
	}
	if elapsed := time.Since(windowStart); elapsed < time.Second {
		t.Errorf("31st acquire completed after %v, before the window elapsed", elapsed)
	}
}

func TestAcquireContextCancel(t *testing.T) {
	l := New(1, 10*time.Second, time.Minute)
	l.Acquire(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Acquire did not return after context cancel")
	}
}

func TestAcquireMaxWaitExceeded(t *testing.T) {
	l := New(1, 10*time.Second, 50*time.Millisecond)
	ctx := context.Background()

	l.Acquire(ctx)

	if err := l.Acquire(ctx); err != ErrMaxWaitExceeded {
		t.Errorf("expected ErrMaxWaitExceeded, got %v", err)
	}
}

func TestWindowResets(t *testing.T) {
	window := 100 * time.Millisecond
	l := New(1, window, 5*time.Second)
	ctx := context.Background()

	l.Acquire(ctx)
	time.Sleep(window + 20*time.Millisecond)

	start := time.Now()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after window reset failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("acquire after reset blocked for %v", elapsed)
	}
}
