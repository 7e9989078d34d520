package server

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// Error types for structured error handling
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeAuth       ErrorType = "authentication"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"

	// Spec load time. Fatal to startup.
	ErrorTypeSpecUnreachable ErrorType = "spec_unreachable"
	ErrorTypeSpecNotJSON     ErrorType = "spec_not_json"
	ErrorTypeSpecInvalid     ErrorType = "spec_invalid"
	ErrorTypeUnsupportedRef  ErrorType = "unsupported_ref"

	// Per call. Reported to the caller, the session continues.
	ErrorTypeMissingArgument ErrorType = "missing_argument"
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
	ErrorTypeTransport       ErrorType = "transport"
	ErrorTypeHTTP            ErrorType = "http"
)

// ServerError represents a structured error with context
type ServerError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  int64     `json:"timestamp"`
	StackTrace string    `json:"stack_trace,omitempty"`

	cause error
}

// Error implements the error interface
func (e *ServerError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *ServerError) Unwrap() error {
	return e.cause
}

// NewError creates a new ServerError
func NewError(errType ErrorType, message string, details string) *ServerError {
	return &ServerError{
		Type:      errType,
		Message:   message,
		Details:   details,
		Timestamp: getCurrentTimestamp(),
	}
}

type requestIDKey struct{}

// WithRequestID stores a request id in ctx for errors created with NewErrorWithContext.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// NewErrorWithContext creates a new ServerError with request context
func NewErrorWithContext(ctx context.Context, errType ErrorType, message string, details string) *ServerError {
	err := NewError(errType, message, details)
	err.RequestID = RequestIDFromContext(ctx)
	return err
}

// WithStackTrace adds stack trace information to the error
func (e *ServerError) WithStackTrace() *ServerError {
	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	e.StackTrace = string(buf[:n])
	return e
}

// LogError logs the error with a level matching its type
func (e *ServerError) LogError(log *zap.Logger) {
	entry := log.With(zap.String("error_type", string(e.Type)))
	if e.RequestID != "" {
		entry = entry.With(zap.String("request_id", e.RequestID))
	}
	switch e.Type {
	case ErrorTypeValidation, ErrorTypeMissingArgument, ErrorTypeInvalidArgument, ErrorTypeNotFound, ErrorTypeHTTP:
		entry.Warn(e.Message, zap.String("details", e.Details))
	default:
		entry.Error(e.Message, zap.String("details", e.Details))
	}
	if e.StackTrace != "" {
		entry.Debug("stack trace", zap.String("stack", e.StackTrace))
	}
}

// Wrap wraps a standard error as a ServerError
func Wrap(err error, errType ErrorType, message string) *ServerError {
	if err == nil {
		return nil
	}

	wrapped := NewError(errType, message, err.Error())
	wrapped.cause = err
	return wrapped
}

// WrapWithContext wraps a standard error as a ServerError with context
func WrapWithContext(ctx context.Context, err error, errType ErrorType, message string) *ServerError {
	if err == nil {
		return nil
	}

	wrapped := NewErrorWithContext(ctx, errType, message, err.Error())
	wrapped.cause = err
	return wrapped
}

// getCurrentTimestamp returns current Unix timestamp
func getCurrentTimestamp() int64 {
	return time.Now().Unix()
}

// TypedError is implemented by errors outside this package that belong to an
// ErrorType, such as upstream failures.
type TypedError interface {
	error
	Type() ErrorType
}

func lookupType(err error) (ErrorType, bool) {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.Type, true
	}
	var typed TypedError
	if errors.As(err, &typed) {
		return typed.Type(), true
	}
	return "", false
}

// IsType checks if the error, or any error it wraps, is a ServerError or a
// TypedError of errType
func IsType(err error, errType ErrorType) bool {
	t, ok := lookupType(err)
	return ok && t == errType
}

// GetType returns the type of the first ServerError or TypedError in the
// chain, otherwise ErrorTypeInternal
func GetType(err error) ErrorType {
	if t, ok := lookupType(err); ok {
		return t
	}
	return ErrorTypeInternal
}
