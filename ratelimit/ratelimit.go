package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors.
var (
	ErrCapacityExhausted = errors.New("capacity exhausted")
	ErrRequestTooLarge   = errors.New("request exceeds effective limit")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

// Defaults.
const (
	DefaultTokensPerMinute = 6000
	DefaultSafetyMargin    = 0.9
	DefaultWindow          = time.Minute
	DefaultPause           = 70 * time.Second
	DefaultMinWait         = 100 * time.Millisecond
)

// Limiter is the token admission contract shared by callers.
type Limiter interface {
	// CheckAvailableCapacity reports whether tokens fit in the window now and,
	// if not, how long to wait before asking again. It does not record usage.
	CheckAvailableCapacity(tokens int) (bool, time.Duration)

	// RecordUsage records tokens as spent at the current time.
	RecordUsage(tokens int)

	// Admit checks and records under one lock hold.
	Admit(tokens int) (bool, time.Duration)

	// HandleRateLimitError pauses all callers. A zero retryAfter selects the
	// default pause.
	HandleRateLimitError(retryAfter time.Duration)

	// Request blocks until tokens are admitted or attempts run out.
	Request(ctx context.Context, tokens, maxRetries int, baseDelay time.Duration) (time.Duration, error)
}

// Config configures a TokenLimiter. Zero values select defaults.
type Config struct {
	// TokensPerMinute is the provider's limit per window.
	TokensPerMinute int

	// SafetyMargin scales the limit down, in (0, 1].
	SafetyMargin float64

	// Window is the sliding window length.
	Window time.Duration

	// DefaultPause is used when a 429 carries no Retry-After.
	DefaultPause time.Duration

	// MinWait floors every non-zero wait hint.
	MinWait time.Duration
}

func (c *Config) setDefaults() {
	if c.TokensPerMinute == 0 {
		c.TokensPerMinute = DefaultTokensPerMinute
	}
	if c.SafetyMargin == 0 {
		c.SafetyMargin = DefaultSafetyMargin
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	if c.DefaultPause == 0 {
		c.DefaultPause = DefaultPause
	}
	if c.MinWait == 0 {
		c.MinWait = DefaultMinWait
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.TokensPerMinute <= 0 {
		return fmt.Errorf("%w: tokens per minute must be positive", ErrInvalidConfig)
	}
	if c.SafetyMargin <= 0 || c.SafetyMargin > 1 {
		return fmt.Errorf("%w: safety margin must be in (0, 1]", ErrInvalidConfig)
	}
	if c.Window <= 0 || c.DefaultPause <= 0 || c.MinWait < 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	}
	if c.EffectiveLimit() < 1 {
		return fmt.Errorf("%w: effective limit is zero", ErrInvalidConfig)
	}
	return nil
}

// EffectiveLimit is floor(TokensPerMinute * SafetyMargin).
func (c Config) EffectiveLimit() int {
	return int(float64(c.TokensPerMinute) * c.SafetyMargin)
}

// UsageRecord is one admitted spend. Records are never modified after they
// are appended.
type UsageRecord struct {
	At     time.Time
	Tokens int
}

// Snapshot describes the limiter at a point in time.
type Snapshot struct {
	EffectiveLimit int
	Used           int
	Remaining      int
	Records        int
	Paused         bool
	PauseUntil     time.Time
}
