package ratelimit

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultBaseDelay is the base of the exponential backoff.
	DefaultBaseDelay = time.Second
	// MaxDelay caps the exponential term of Delay.
	MaxDelay = time.Hour
)

// Backoff computes retry delays and forwards provider rate limits to the
// shared limiter.
type Backoff struct {
	BaseDelay time.Duration

	limiter *TokenLimiter
	jitter  func() time.Duration
}

// NewBackoff creates a Backoff bound to limiter. The limiter's jitter source
// is reused so tests control both.
func NewBackoff(limiter *TokenLimiter, baseDelay time.Duration) *Backoff {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	b := &Backoff{BaseDelay: baseDelay, limiter: limiter, jitter: uniformJitter}
	if limiter != nil && limiter.jitter != nil {
		b.jitter = limiter.jitter
	}
	return b
}

// Delay returns 2^attempt * BaseDelay, saturated at MaxDelay, plus up to
// one second of jitter.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	jitter := uniformJitter
	if b.jitter != nil {
		jitter = b.jitter
	}
	d := MaxDelay
	if b.BaseDelay <= MaxDelay>>uint(attempt) {
		d = b.BaseDelay << uint(attempt)
	}
	return d + jitter()
}

// OnRateLimited pauses every caller on the bound limiter and returns how long
// this caller should sleep: retryAfter when the provider sent one, otherwise
// Delay(attempt).
func (b *Backoff) OnRateLimited(attempt int, retryAfter time.Duration) time.Duration {
	if b.limiter != nil {
		b.limiter.HandleRateLimitError(retryAfter)
	}
	if retryAfter > 0 {
		return retryAfter
	}
	return b.Delay(attempt)
}

func uniformJitter() time.Duration {
	return time.Duration(rand.Int64N(int64(time.Second)))
}
