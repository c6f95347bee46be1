// Package ratelimit keeps LLM calls under a provider's tokens-per-minute limit.
//
// A TokenLimiter tracks token usage over a sliding window (one minute by
// default) and only admits a request when the tokens already spent in the
// window plus the request stay under an effective limit, which is the
// provider limit scaled down by a safety margin:
//
//	limiter, err := ratelimit.NewTokenLimiter(ratelimit.Config{
//	    TokensPerMinute: 6000,
//	    SafetyMargin:    0.9, // effective limit 5400
//	})
//
//	// Block until capacity is available, then record the usage.
//	waited, err := limiter.Request(ctx, 1200, 5, time.Second)
//
//	// Non-blocking: check and record atomically.
//	if ok, wait := limiter.Admit(1200); !ok {
//	    // retry after wait
//	}
//
// # Provider rate limits
//
// When a provider answers 429 anyway, HandleRateLimitError pauses every
// caller sharing the limiter until the Retry-After interval (or a 70s
// default) has elapsed:
//
//	backoff := ratelimit.NewBackoff(limiter, time.Second)
//	delay := backoff.OnRateLimited(attempt, retryAfter)
//
// The limiter is process-local. It must be constructed once and shared by
// every caller that talks to the same provider account.
package ratelimit
