// Package retry runs LLM requests through the shared token limiter with
// classified retries.
//
// Every generation agent describes its call with a Spec: the request, a
// Policy, a Parse function that validates the output and an optional
// Fallback used when the output never validates. Call drives the attempt
// loop:
//
//   - admission through ratelimit.TokenLimiter.Request; failure is fatal
//   - provider 429: pause the limiter via Backoff.OnRateLimited, wait, retry
//   - malformed output: retry, then Fallback or MALFORMED_RESPONSE
//   - retryable provider errors: exponential backoff, then UNAVAILABLE
//   - auth, billing and other provider errors: returned at once
//   - context cancellation: returned at once
//
// Successful responses reconcile the admission estimate with the provider's
// reported usage.
//
// Stream applies the same loop to streaming requests, delivering llm.Event
// values. A stream is only retried before its first text fragment; a
// failure after prose has been delivered is returned to the caller.
//
// Example:
//
//	caller := retry.New(provider, limiter, retry.WithLogger(logger))
//	stats, title, err := retry.Call(ctx, caller, retry.Spec[string]{
//		Name:    "title",
//		Request: req,
//		Policy:  retry.DefaultPolicy,
//		Parse:   parseTitle,
//	})
package retry
