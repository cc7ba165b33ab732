package mq

import (
	"context"
	"testing"
	"time"
)

func TestTokenLimiterBoundsAcquisitions(t *testing.T) {
	limiter := NewTokenLimiter(2)
	ctx := context.Background()

	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("second acquire: %v", err)
	}

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(blocked); err == nil {
		t.Fatal("third acquire must block until release")
	}

	limiter.Release()
	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestTokenLimiterExtraReleaseIsNoop(t *testing.T) {
	limiter := NewTokenLimiter(1)
	limiter.Release()
	limiter.Release()

	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	blocked, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(blocked); err == nil {
		t.Fatal("capacity must not grow from extra releases")
	}
}

func TestTokenLimiterClampsCapacity(t *testing.T) {
	limiter := NewTokenLimiter(0)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire with clamped capacity: %v", err)
	}
}
