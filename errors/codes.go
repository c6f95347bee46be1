package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates the shared token budget is exhausted.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors or bugs.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

const (
	// Resource errors
	ErrCodeCapacity  ErrorCode = "CAPACITY_EXHAUSTED" // Limiter could not admit the request
	ErrCodeRateLimit ErrorCode = "RATE_LIMITED"       // Provider rejected with 429

	// Transient errors
	ErrCodeMalformed   ErrorCode = "MALFORMED_RESPONSE" // Structured output failed validation
	ErrCodeTimeout     ErrorCode = "TIMEOUT"            // Deadline exceeded
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"        // Provider 5xx or network failure

	// Permanent errors
	ErrCodeProvider     ErrorCode = "PROVIDER_FATAL" // Non-retryable provider failure
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"  // Bad request or configuration
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"   // Missing or rejected API key
	ErrCodeBilling      ErrorCode = "BILLING"        // Payment or quota problem on the account
	ErrCodeCanceled     ErrorCode = "CANCELED"       // Context canceled

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL"
	ErrCodePanic    ErrorCode = "PANIC"
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeCapacity, ErrCodeRateLimit:
		return CategoryResource
	case ErrCodeMalformed, ErrCodeTimeout, ErrCodeUnavailable:
		return CategoryTransient
	case ErrCodeProvider, ErrCodeInvalidInput, ErrCodeUnauthorized, ErrCodeBilling, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeCapacity:     "rate limiter capacity exhausted",
	ErrCodeRateLimit:    "provider rate limit exceeded",
	ErrCodeMalformed:    "malformed provider response",
	ErrCodeTimeout:      "operation timed out",
	ErrCodeUnavailable:  "provider temporarily unavailable",
	ErrCodeProvider:     "provider request failed",
	ErrCodeInvalidInput: "invalid input provided",
	ErrCodeUnauthorized: "authentication failed",
	ErrCodeBilling:      "billing or quota error",
	ErrCodeCanceled:     "operation canceled",
	ErrCodeInternal:     "internal error",
	ErrCodePanic:        "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
