package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	bkerrors "github.com/vinayprograms/bookshelf/errors"
	"github.com/vinayprograms/bookshelf/logging"
	"github.com/vinayprograms/bookshelf/metrics"
	"github.com/vinayprograms/bookshelf/telemetry"
)

// TokenLimiter enforces a tokens-per-window budget over a sliding window.
// It is safe for concurrent use.
type TokenLimiter struct {
	cfg       Config
	effective int

	mu         sync.Mutex
	history    []UsageRecord // sorted by At
	paused     bool
	pauseUntil time.Time

	logger  *logging.Logger
	nowFunc func() time.Time                               // for testing
	sleep   func(ctx context.Context, d time.Duration) error // for testing
	jitter  func() time.Duration                           // for testing
}

var _ Limiter = (*TokenLimiter)(nil)

// Option configures a TokenLimiter.
type Option func(*TokenLimiter)

// WithLogger sets the logger used for wait and pause events.
func WithLogger(l *logging.Logger) Option {
	return func(t *TokenLimiter) {
		if l != nil {
			t.logger = l.WithComponent("ratelimit")
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(t *TokenLimiter) { t.nowFunc = now }
}

// WithSleep replaces the blocking sleep used by Request and Wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *TokenLimiter) { t.sleep = sleep }
}

// WithJitter replaces the backoff jitter source.
func WithJitter(jitter func() time.Duration) Option {
	return func(t *TokenLimiter) { t.jitter = jitter }
}

// NewTokenLimiter creates a limiter. Zero config fields take defaults.
func NewTokenLimiter(cfg Config, opts ...Option) (*TokenLimiter, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &TokenLimiter{
		cfg:       cfg,
		effective: cfg.EffectiveLimit(),
		logger:    logging.Nop(),
		nowFunc:   time.Now,
		sleep:     sleepContext,
		jitter:    uniformJitter,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// EffectiveLimit returns the admission ceiling per window.
func (t *TokenLimiter) EffectiveLimit() int {
	return t.effective
}

// Config returns the configuration with defaults applied.
func (t *TokenLimiter) Config() Config {
	return t.cfg
}

// prune drops records that have left the window. Must hold mu.
func (t *TokenLimiter) prune(now time.Time) {
	i := 0
	for i < len(t.history) && now.Sub(t.history[i].At) >= t.cfg.Window {
		i++
	}
	if i > 0 {
		t.history = append(t.history[:0], t.history[i:]...)
	}
}

// used sums tokens in the window. Must hold mu.
func (t *TokenLimiter) used() int {
	sum := 0
	for _, r := range t.history {
		sum += r.Tokens
	}
	return sum
}

// check is the admission decision. Must hold mu.
func (t *TokenLimiter) check(now time.Time, tokens int) (bool, time.Duration) {
	t.prune(now)

	if t.paused {
		if now.Before(t.pauseUntil) {
			return false, t.pauseUntil.Sub(now)
		}
		t.paused = false
		t.pauseUntil = time.Time{}
	}

	used := t.used()
	metrics.LimiterWindowTokens.Set(float64(used))
	if used+tokens <= t.effective {
		return true, 0
	}

	// Walk the oldest records until enough tokens would have aged out.
	toFree := used + tokens - t.effective
	freed := 0
	for _, r := range t.history {
		freed += r.Tokens
		if freed >= toFree {
			return false, t.floor(r.At.Add(t.cfg.Window).Sub(now))
		}
	}
	// Only reachable when tokens alone exceed the effective limit.
	return false, t.cfg.Window
}

func (t *TokenLimiter) floor(wait time.Duration) time.Duration {
	if wait < t.cfg.MinWait {
		return t.cfg.MinWait
	}
	return wait
}

// CheckAvailableCapacity reports whether tokens fit in the window without
// recording them. When they do not, the returned duration is the time until
// enough capacity frees up (or the pause ends).
func (t *TokenLimiter) CheckAvailableCapacity(tokens int) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.check(t.nowFunc(), tokens)
}

// RecordUsage appends a usage record at the current time.
func (t *TokenLimiter) RecordUsage(tokens int) {
	if tokens <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, UsageRecord{At: t.nowFunc(), Tokens: tokens})
}

// Admit checks capacity and, when admitted, records the tokens before
// releasing the lock.
func (t *TokenLimiter) Admit(tokens int) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFunc()
	ok, wait := t.check(now, tokens)
	if !ok {
		metrics.LimiterAdmissionsTotal.WithLabelValues("deferred").Inc()
		return false, wait
	}
	if tokens > 0 {
		t.history = append(t.history, UsageRecord{At: now, Tokens: tokens})
	}
	metrics.LimiterAdmissionsTotal.WithLabelValues("admitted").Inc()
	metrics.LimiterWindowTokens.Set(float64(t.used()))
	return true, 0
}

// Reconcile records the part of actual usage that exceeded the admitted
// estimate. Overestimates are not refunded; they age out with the window.
func (t *TokenLimiter) Reconcile(estimated, actual int) {
	if excess := actual - estimated; excess > 0 {
		t.RecordUsage(excess)
	}
}

// HandleRateLimitError pauses all callers until now+retryAfter, or
// now+DefaultPause when retryAfter is zero. The latest call wins.
func (t *TokenLimiter) HandleRateLimitError(retryAfter time.Duration) {
	pause := retryAfter
	source := "retry_after"
	if pause <= 0 {
		pause = t.cfg.DefaultPause
		source = "default"
	}

	t.mu.Lock()
	t.paused = true
	t.pauseUntil = t.nowFunc().Add(pause)
	t.mu.Unlock()

	metrics.LimiterPausesTotal.WithLabelValues(source).Inc()
	t.logger.RateLimitPause(pause, retryAfter > 0)
}

// Request waits until tokens are admitted and returns the time spent
// waiting. The first wait uses the limiter's hint; later waits are capped by
// exponential backoff. A request larger than the effective limit fails at
// once since it can never be admitted.
func (t *TokenLimiter) Request(ctx context.Context, tokens, maxRetries int, baseDelay time.Duration) (time.Duration, error) {
	if tokens > t.effective {
		metrics.LimiterAdmissionsTotal.WithLabelValues("rejected").Inc()
		return 0, bkerrors.CapacityExhausted(
			fmt.Sprintf("request of %d tokens exceeds effective limit %d", tokens, t.effective),
			bkerrors.WithCause(ErrRequestTooLarge),
			bkerrors.WithMetadata("tokens", fmt.Sprint(tokens)),
		)
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	backoff := &Backoff{BaseDelay: baseDelay, jitter: t.jitter}

	var waited time.Duration
	for attempt := 0; attempt < maxRetries; attempt++ {
		ok, wait := t.Admit(tokens)
		if ok {
			if waited > 0 {
				metrics.LimiterWaitSeconds.Observe(waited.Seconds())
			}
			return waited, nil
		}
		if attempt > 0 {
			if d := backoff.Delay(attempt); d < wait {
				wait = d
			}
		}
		t.logger.CapacityWait(tokens, wait, attempt)
		telemetry.AddEvent(ctx, "capacity_wait",
			attribute.Int("tokens", tokens),
			attribute.Int("attempt", attempt),
			attribute.String("wait", wait.String()),
		)
		if err := t.sleep(ctx, wait); err != nil {
			return waited, bkerrors.Wrap(err, "waiting for capacity")
		}
		waited += wait
	}

	metrics.LimiterAdmissionsTotal.WithLabelValues("rejected").Inc()
	return waited, bkerrors.CapacityExhausted(
		fmt.Sprintf("failed to get capacity for %d tokens after %d attempts", tokens, maxRetries),
		bkerrors.WithCause(ErrCapacityExhausted),
		bkerrors.WithAttempts(maxRetries),
	)
}

// Wait sleeps for d or until ctx ends, using the limiter's sleep function.
func (t *TokenLimiter) Wait(ctx context.Context, d time.Duration) error {
	return t.sleep(ctx, d)
}

// Snapshot returns current usage after pruning.
func (t *TokenLimiter) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.nowFunc()
	t.prune(now)
	used := t.used()
	remaining := t.effective - used
	if remaining < 0 {
		remaining = 0
	}
	paused := t.paused && now.Before(t.pauseUntil)
	s := Snapshot{
		EffectiveLimit: t.effective,
		Used:           used,
		Remaining:      remaining,
		Records:        len(t.history),
		Paused:         paused,
	}
	if paused {
		s.PauseUntil = t.pauseUntil
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
