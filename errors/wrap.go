package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap adds context to err and keeps the chain. Classified errors keep
// their code, category and metadata. Context errors become CANCELED or
// TIMEOUT and anything else becomes INTERNAL. Wrap(nil, ...) is nil.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	if ce, ok := outermost(err); ok {
		wrapped := &Error{details: ce.details, cause: err}
		wrapped.details.Message = message
		wrapped.details.Metadata = ce.Metadata()
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	code := ErrCodeInternal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		code = ErrCodeCanceled
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps err under code regardless of what err carries.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

func outermost(err error) (*Error, bool) {
	var ce *Error
	ok := errors.As(err, &ce)
	return ce, ok
}

// AsClassified returns the outermost Classified error in the chain, or nil.
func AsClassified(err error) Classified {
	if ce, ok := outermost(err); ok {
		return ce
	}
	return nil
}

// Is reports whether the outermost classified error has code.
func Is(err error, code ErrorCode) bool {
	ce, ok := outermost(err)
	return ok && ce.Code() == code
}

// IsCategory reports whether the outermost classified error has category.
func IsCategory(err error, category ErrorCategory) bool {
	ce, ok := outermost(err)
	return ok && ce.Category() == category
}

// IsRetryable reports whether err may succeed on retry. Unclassified errors
// are not retryable.
func IsRetryable(err error) bool {
	ce, ok := outermost(err)
	return ok && ce.Retryable()
}

// Code returns the code of the outermost classified error, or "".
func Code(err error) ErrorCode {
	if ce, ok := outermost(err); ok {
		return ce.Code()
	}
	return ""
}

// GetMetadata returns the metadata of the outermost classified error, or
// nil.
func GetMetadata(err error) map[string]string {
	if ce, ok := outermost(err); ok {
		return ce.Metadata()
	}
	return nil
}

// RecoverPanic converts a recovered panic value into a PANIC error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
