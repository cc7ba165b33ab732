package mq

import "context"

// FetchLimiter bounds how many messages may be in flight at once.
// The consumer acquires a token before fetching and releases it when
// the handler finishes, so queue consumption never outruns the judge
// worker pool.
type FetchLimiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// TokenLimiter is a channel-based FetchLimiter.
type TokenLimiter struct {
	tokens chan struct{}
}

// NewTokenLimiter creates a limiter with the given capacity.
func NewTokenLimiter(capacity int) *TokenLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	return &TokenLimiter{tokens: make(chan struct{}, capacity)}
}

func (l *TokenLimiter) Acquire(ctx context.Context) error {
	select {
	case l.tokens <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *TokenLimiter) Release() {
	select {
	case <-l.tokens:
	default:
	}
}
