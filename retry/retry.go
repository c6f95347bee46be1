package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	bkerrors "github.com/vinayprograms/bookshelf/errors"
	"github.com/vinayprograms/bookshelf/llm"
	"github.com/vinayprograms/bookshelf/logging"
	"github.com/vinayprograms/bookshelf/metrics"
	"github.com/vinayprograms/bookshelf/ratelimit"
)

// DefaultAdmissionRetries bounds the admission attempts inside one
// limiter Request.
const DefaultAdmissionRetries = 5

// Policy bounds one retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// OutputAllowance is the completion budget counted at admission. Zero
	// uses the request's MaxTokens.
	OutputAllowance int
}

var (
	// DefaultPolicy is used by structured (JSON) agents.
	DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: ratelimit.DefaultBaseDelay}

	// StreamPolicy is used by the prose agents.
	StreamPolicy = Policy{MaxAttempts: 5, BaseDelay: ratelimit.DefaultBaseDelay}
)

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = ratelimit.DefaultBaseDelay
	}
	return p
}

// Outcome is the result of one attempt.
type Outcome string

const (
	OutcomeSucceeded   Outcome = "succeeded"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeMalformed   Outcome = "malformed"
	OutcomeTransient   Outcome = "transient"
	OutcomeFatal       Outcome = "fatal"
	OutcomeCapacity    Outcome = "capacity_exhausted"
	OutcomeCanceled    Outcome = "canceled"
)

// Attempt records one pass through the loop. It is logged and passed to
// Spec.OnAttempt, never persisted.
type Attempt struct {
	Index           int
	RequestedTokens int
	Outcome         Outcome
	Err             error
}

// Spec describes one agent call.
type Spec[T any] struct {
	// Name labels logs, metrics and errors.
	Name    string
	Request llm.ChatRequest
	Policy  Policy

	// Parse validates the response content. A parse error is treated as
	// malformed output and retried.
	Parse func(content string) (T, error)

	// Fallback builds a degraded payload once malformed output exhausts
	// the attempts. Nil means MALFORMED_RESPONSE is returned instead.
	Fallback func(err error) T

	// Notify receives user-facing waiting and degradation notices.
	Notify func(msg string)

	// OnAttempt observes every finished attempt.
	OnAttempt func(Attempt)
}

// Caller executes Specs against one provider and one shared limiter.
type Caller struct {
	provider         llm.Provider
	limiter          *ratelimit.TokenLimiter
	logger           *logging.Logger
	admissionRetries int
	now              func() time.Time
}

// Option configures a Caller.
type Option func(*Caller)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Caller) {
		if l != nil {
			c.logger = l.WithComponent("retry")
		}
	}
}

// WithAdmissionRetries sets the maxRetries passed to the limiter.
func WithAdmissionRetries(n int) Option {
	return func(c *Caller) {
		if n > 0 {
			c.admissionRetries = n
		}
	}
}

// WithClock replaces the time source used for statistics.
func WithClock(now func() time.Time) Option {
	return func(c *Caller) { c.now = now }
}

// New creates a Caller. The limiter is shared with every other Caller in
// the process.
func New(provider llm.Provider, limiter *ratelimit.TokenLimiter, opts ...Option) *Caller {
	c := &Caller{
		provider:         provider,
		limiter:          limiter,
		logger:           logging.Nop(),
		admissionRetries: DefaultAdmissionRetries,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Provider returns the wrapped provider.
func (c *Caller) Provider() llm.Provider { return c.provider }

// Limiter returns the shared limiter.
func (c *Caller) Limiter() *ratelimit.TokenLimiter { return c.limiter }

// EstimateTokens approximates the cost of req: four characters per prompt
// token plus the output allowance, or MaxTokens when allowance is zero.
func EstimateTokens(req llm.ChatRequest, allowance int) int {
	if allowance <= 0 {
		allowance = req.MaxTokens
	}
	return promptTokens(req) + allowance
}

func promptTokens(req llm.ChatRequest) int {
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	return chars / 4
}

// fitToLimit shrinks the output allowance and MaxTokens of req to the
// headroom the prompt leaves under limit. A prompt that alone exceeds the
// limit is returned unchanged so admission rejects it.
func fitToLimit(req llm.ChatRequest, allowance, limit int) (llm.ChatRequest, int) {
	headroom := limit - promptTokens(req)
	if headroom <= 0 {
		return req, allowance
	}
	if allowance > headroom {
		allowance = headroom
	}
	if req.MaxTokens > headroom {
		req.MaxTokens = headroom
	}
	return req, allowance
}

type invokeFunc func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)

// Call runs spec to completion and returns the summed statistics of every
// provider response together with the parsed payload.
func Call[T any](ctx context.Context, c *Caller, spec Spec[T]) (llm.Statistics, T, error) {
	return run(ctx, c, spec, c.provider.Chat)
}

// partialError marks a stream failure after text was delivered.
type partialError struct{ err error }

func (e *partialError) Error() string { return e.err.Error() }
func (e *partialError) Unwrap() error { return e.err }

func run[T any](ctx context.Context, c *Caller, spec Spec[T], invoke invokeFunc) (llm.Statistics, T, error) {
	var (
		zero    T
		stats   llm.Statistics
		lastErr error
		last    Outcome
	)
	policy := spec.Policy.normalized()
	backoff := ratelimit.NewBackoff(c.limiter, policy.BaseDelay)
	req, allowance := fitToLimit(spec.Request, policy.OutputAllowance, c.limiter.EffectiveLimit())
	estimate := EstimateTokens(req, allowance)
	opts := func(attempts int) []bkerrors.Option {
		return []bkerrors.Option{bkerrors.WithAgent(spec.Name), bkerrors.WithAttempts(attempts)}
	}

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		a := Attempt{Index: attempt, RequestedTokens: estimate}

		if _, err := c.limiter.Request(ctx, estimate, c.admissionRetries, policy.BaseDelay); err != nil {
			a.Outcome, a.Err = OutcomeCapacity, err
			if ctx.Err() != nil {
				a.Outcome = OutcomeCanceled
			}
			c.finish(spec.Name, spec.OnAttempt, a)
			return stats, zero, bkerrors.Wrap(err, spec.Name+": waiting for token capacity", opts(attempt+1)...)
		}

		start := c.now()
		resp, err := invoke(ctx, req)
		if err == nil {
			c.limiter.Reconcile(estimate, resp.Usage.InputTokens+resp.Usage.OutputTokens)
			stats = stats.Add(llm.StatisticsFrom(resp, req.Model, c.now().Sub(start)))

			value, perr := spec.Parse(resp.Content)
			if perr == nil {
				a.Outcome = OutcomeSucceeded
				c.finish(spec.Name, spec.OnAttempt, a)
				return stats, value, nil
			}
			a.Outcome, a.Err = OutcomeMalformed, perr
			c.finish(spec.Name, spec.OnAttempt, a)
			last, lastErr = OutcomeMalformed, perr
			if attempt+1 < policy.MaxAttempts {
				delay := backoff.Delay(attempt)
				c.notify(spec.Notify, fmt.Sprintf("%s: response was not valid, retrying in %s", spec.Name, round(delay)))
				if err := c.limiter.Wait(ctx, delay); err != nil {
					return stats, zero, bkerrors.Wrap(err, spec.Name+": canceled during retry", opts(attempt+1)...)
				}
			}
			continue
		}

		// Usage is unknown; the estimate stays recorded.
		outcome, delay, ferr := classify(ctx, spec.Name, err, backoff, attempt, opts(attempt+1))
		a.Outcome, a.Err = outcome, err
		c.finish(spec.Name, spec.OnAttempt, a)
		if ferr != nil {
			return stats, zero, ferr
		}
		last, lastErr = outcome, err
		if attempt+1 < policy.MaxAttempts {
			if outcome == OutcomeRateLimited {
				c.notify(spec.Notify, fmt.Sprintf("%s: rate limited by provider, waiting %s", spec.Name, round(delay)))
			} else {
				c.notify(spec.Notify, fmt.Sprintf("%s: provider error, retrying in %s", spec.Name, round(delay)))
			}
			if err := c.limiter.Wait(ctx, delay); err != nil {
				return stats, zero, bkerrors.Wrap(err, spec.Name+": canceled during retry", opts(attempt+1)...)
			}
		}
	}

	attempts := policy.MaxAttempts
	switch last {
	case OutcomeMalformed:
		if spec.Fallback != nil {
			c.logger.FallbackUsed(spec.Name, attempts, lastErr)
			metrics.FallbacksTotal.WithLabelValues(spec.Name).Inc()
			c.notify(spec.Notify, fmt.Sprintf("%s: using fallback after %d invalid responses", spec.Name, attempts))
			return stats, spec.Fallback(lastErr), nil
		}
		return stats, zero, bkerrors.MalformedResponse(
			fmt.Sprintf("%s: no valid response after %d attempts", spec.Name, attempts),
			append(opts(attempts), bkerrors.WithCause(lastErr))...)
	case OutcomeRateLimited:
		var retryAfter time.Duration
		if rl, ok := llm.AsRateLimit(lastErr); ok {
			retryAfter = rl.RetryAfter
		}
		return stats, zero, bkerrors.RateLimited(
			fmt.Sprintf("%s: still rate limited after %d attempts", spec.Name, attempts),
			append(opts(attempts), bkerrors.WithCause(lastErr), bkerrors.WithRetryAfter(retryAfter))...)
	default:
		return stats, zero, bkerrors.WrapWithCode(lastErr, bkerrors.ErrCodeUnavailable,
			fmt.Sprintf("%s: provider unavailable after %d attempts", spec.Name, attempts),
			opts(attempts)...)
	}
}

// classify maps a provider error to an outcome. A non-nil error return ends
// the loop immediately; otherwise delay is the wait before the next attempt.
func classify(ctx context.Context, name string, err error, backoff *ratelimit.Backoff, attempt int, opts []bkerrors.Option) (Outcome, time.Duration, error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		cause := err
		if ctx.Err() != nil {
			cause = ctx.Err()
		}
		return OutcomeCanceled, 0, bkerrors.Wrap(cause, name+": canceled", opts...)
	}

	var partial *partialError
	if errors.As(err, &partial) {
		return OutcomeFatal, 0, bkerrors.WrapWithCode(partial.err, codeFor(partial.err),
			name+": stream failed after partial output", append(opts, bkerrors.WithRetryable(false))...)
	}

	if rl, ok := llm.AsRateLimit(err); ok {
		metrics.RetriesTotal.WithLabelValues(name, string(OutcomeRateLimited)).Inc()
		return OutcomeRateLimited, backoff.OnRateLimited(attempt, rl.RetryAfter), nil
	}

	if pe, ok := llm.AsProviderError(err); ok && pe.Retryable() {
		metrics.RetriesTotal.WithLabelValues(name, string(OutcomeTransient)).Inc()
		return OutcomeTransient, backoff.Delay(attempt), nil
	}

	return OutcomeFatal, 0, bkerrors.WrapWithCode(err, codeFor(err), name+": provider request failed", opts...)
}

// codeFor picks the error code for a provider failure that is not retried.
func codeFor(err error) bkerrors.ErrorCode {
	if _, ok := llm.AsRateLimit(err); ok {
		return bkerrors.ErrCodeRateLimit
	}
	pe, ok := llm.AsProviderError(err)
	switch {
	case !ok:
		return bkerrors.ErrCodeProvider
	case pe.Unauthorized():
		return bkerrors.ErrCodeUnauthorized
	case pe.Billing():
		return bkerrors.ErrCodeBilling
	case pe.Retryable():
		return bkerrors.ErrCodeUnavailable
	default:
		return bkerrors.ErrCodeProvider
	}
}

func (c *Caller) finish(name string, observe func(Attempt), a Attempt) {
	switch a.Outcome {
	case OutcomeSucceeded:
		c.logger.Debug("attempt_succeeded", map[string]interface{}{
			"agent":   name,
			"attempt": a.Index,
			"tokens":  a.RequestedTokens,
		})
	case OutcomeMalformed:
		metrics.RetriesTotal.WithLabelValues(name, string(OutcomeMalformed)).Inc()
		c.logger.AttemptFailed(name, a.Index, string(a.Outcome), a.Err)
	default:
		c.logger.AttemptFailed(name, a.Index, string(a.Outcome), a.Err)
	}
	if observe != nil {
		observe(a)
	}
}

func (c *Caller) notify(fn func(string), msg string) {
	if fn != nil {
		fn(msg)
	}
}

func round(d time.Duration) time.Duration {
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(100 * time.Millisecond)
}
