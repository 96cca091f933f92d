package pairchat

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// Room and store errors
	ErrorInvalidRoom
	ErrorNotFound
	ErrorTransient
	ErrorInvalidMessage
	ErrorSessionClosed

	// Relay protocol errors
	ErrorUnauthorized
	ErrorBadRequest

	// Channel errors
	ErrorConnection
	ErrorDisconnected
	ErrorTimeout
	ErrorInvalidConfig
	ErrorNotConnected
	ErrorSerialization
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorInvalidRoom:
		return "invalid_room"
	case ErrorNotFound:
		return "not_found"
	case ErrorTransient:
		return "transient"
	case ErrorInvalidMessage:
		return "invalid_message"
	case ErrorSessionClosed:
		return "session_closed"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorConnection:
		return "connection_error"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorTimeout:
		return "timeout"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorSerialization:
		return "serialization_error"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ParseErrorCode converts a relay error code string to ErrorCode.
func ParseErrorCode(code string) ErrorCode {
	switch code {
	case "unauthorized":
		return ErrorUnauthorized
	case "bad_request":
		return ErrorBadRequest
	case "invalid_message":
		return ErrorInvalidMessage
	case "not_found":
		return ErrorNotFound
	default:
		return ErrorUnknown
	}
}

// ChatError is a structured error with code and context.
type ChatError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *ChatError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *ChatError) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is a *ChatError with the same code.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is. Only the code is compared.
var (
	ErrInvalidRoom   = NewError(ErrorInvalidRoom, "invalid room")
	ErrNotFound      = NewError(ErrorNotFound, "not found")
	ErrTransient     = NewError(ErrorTransient, "store unavailable")
	ErrSessionClosed = NewError(ErrorSessionClosed, "session closed")
	ErrNotConnected  = NewError(ErrorNotConnected, "not connected")
)

// NewError creates a new ChatError with the given code and message.
func NewError(code ErrorCode, message string) *ChatError {
	return &ChatError{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with a ChatError.
func WrapError(code ErrorCode, message string, err error) *ChatError {
	return &ChatError{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// FromProtocolError converts a relay protocol Error to ChatError.
func FromProtocolError(e *Error) *ChatError {
	if e == nil {
		return nil
	}
	return &ChatError{
		Code:    ParseErrorCode(e.Code),
		Message: e.Msg,
	}
}

// CodeOf returns the ErrorCode carried by err, or ErrorUnknown.
func CodeOf(err error) ErrorCode {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrorUnknown
}

// IsTransient reports whether the operation may be retried.
func IsTransient(err error) bool {
	return err != nil && CodeOf(err) == ErrorTransient
}

// IsNotFound reports whether a room or message does not exist.
func IsNotFound(err error) bool {
	return err != nil && CodeOf(err) == ErrorNotFound
}

// IsInvalidRoom reports whether a room failed membership validation.
func IsInvalidRoom(err error) bool {
	return err != nil && CodeOf(err) == ErrorInvalidRoom
}

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case ErrorConnection, ErrorDisconnected, ErrorTimeout, ErrorNotConnected:
		return true
	default:
		return false
	}
}
