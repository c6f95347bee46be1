// Package errors provides the structured error taxonomy used across the
// generation pipeline. Every failure that crosses a package boundary carries
// a code, a category and optional metadata so callers can decide whether to
// retry, degrade or surface it.
//
// # Error Categories
//
//   - Transient: temporary failures where retry may succeed (server errors,
//     malformed structured output)
//   - Permanent: retry will not help (bad input, auth, billing, cancellation)
//   - Resource: the shared token budget is exhausted (rate limits, capacity)
//   - Internal: unexpected errors indicating bugs
//
// # Error Codes
//
//   - CAPACITY_EXHAUSTED: the rate limiter could not admit a request
//   - RATE_LIMITED: the provider kept rejecting with 429
//   - MALFORMED_RESPONSE: structured output never parsed and no fallback exists
//   - PROVIDER_FATAL: any other provider failure
//
// # Usage
//
//	err := errors.CapacityExhausted("no capacity for 1200 tokens",
//	    errors.WithAgent("characters"), errors.WithAttempts(5))
//
//	if errors.Is(err, errors.ErrCodeRateLimit) {
//	    // absorbed by the retry loop, never shown to the user
//	}
//
// Errors marshal to JSON so the CLI can emit machine-readable failures.
package errors
