package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"
)

// Classified is implemented by every structured error in the pipeline.
type Classified interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category for retry/handling decisions.
	Category() ErrorCategory

	// Retryable returns true if the operation may succeed on retry.
	Retryable() bool

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of Classified.
type Error struct {
	details details
	cause   error
}

// details is the serialized form of an Error.
type details struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Retryable *bool             `json:"retryable"` // nil defers to the category
	Timestamp time.Time         `json:"timestamp"`
	Agent     string            `json:"agent,omitempty"`    // generation agent that failed
	Attempts  int               `json:"attempts,omitempty"` // attempts consumed before giving up
}

var (
	_ Classified       = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.details.Message, e.cause)
	}
	return e.details.Message
}

func (e *Error) Code() ErrorCode         { return e.details.Code }
func (e *Error) Category() ErrorCategory { return e.details.Category }
func (e *Error) Unwrap() error           { return e.cause }

// Timestamp returns when the error was created.
func (e *Error) Timestamp() time.Time { return e.details.Timestamp }

// Agent returns the generation agent that produced the error, if set.
func (e *Error) Agent() string { return e.details.Agent }

// Attempts returns how many attempts were consumed, if recorded.
func (e *Error) Attempts() int { return e.details.Attempts }

// Retryable reports the explicit override, or the category default.
func (e *Error) Retryable() bool {
	if e.details.Retryable != nil {
		return *e.details.Retryable
	}
	return e.details.Category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.details.Metadata))
	for k, v := range e.details.Metadata {
		result[k] = v
	}
	return result
}

// MarshalJSON writes the details with the cause flattened to its message
// and retryable resolved.
func (e *Error) MarshalJSON() ([]byte, error) {
	d := e.details
	if e.cause != nil {
		d.Cause = e.cause.Error()
	}
	r := e.Retryable()
	d.Retryable = &r
	return json.Marshal(d)
}

// UnmarshalJSON restores an Error. The cause comes back as a plain error
// carrying the original message.
func (e *Error) UnmarshalJSON(data []byte) error {
	var d details
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	e.details = d
	e.cause = nil
	if d.Cause != "" {
		e.cause = stderrors.New(d.Cause)
		e.details.Cause = ""
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.details.Category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.details.Retryable = &retryable
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.details.Metadata == nil {
			e.details.Metadata = make(map[string]string)
		}
		e.details.Metadata[key] = value
	}
}

// WithAgent records which generation agent failed.
func WithAgent(name string) Option {
	return func(e *Error) {
		e.details.Agent = name
	}
}

// WithAttempts records how many attempts were consumed.
func WithAttempts(n int) Option {
	return func(e *Error) {
		e.details.Attempts = n
	}
}

// WithRetryAfter records a provider-supplied retry-after hint.
func WithRetryAfter(d time.Duration) Option {
	return WithMetadata("retry_after_ms", strconv.FormatInt(d.Milliseconds(), 10))
}

// WithTimestamp sets a custom timestamp.
func WithTimestamp(t time.Time) Option {
	return func(e *Error) {
		e.details.Timestamp = t
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{details: details{
		Code:      code,
		Category:  code.DefaultCategory(),
		Message:   message,
		Timestamp: time.Now(),
	}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// CapacityExhausted creates an error for a request the limiter never admitted.
func CapacityExhausted(message string, opts ...Option) *Error {
	return New(ErrCodeCapacity, message, opts...)
}

// RateLimited creates a provider rate limit error.
func RateLimited(message string, opts ...Option) *Error {
	return New(ErrCodeRateLimit, message, opts...)
}

// MalformedResponse creates an error for structured output that failed validation.
func MalformedResponse(message string, opts ...Option) *Error {
	return New(ErrCodeMalformed, message, opts...)
}

// ProviderFatal creates an error for a provider failure that will not be retried further.
func ProviderFatal(message string, opts ...Option) *Error {
	return New(ErrCodeProvider, message, opts...)
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
