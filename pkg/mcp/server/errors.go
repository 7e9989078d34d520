package server

import (
	"errors"
	"fmt"
)

var (
	// Lookup errors
	ErrToolNotFound     = errors.New("tool not found")
	ErrResourceNotFound = errors.New("resource not found")
	ErrPromptNotFound   = errors.New("prompt not found")

	// Session-related errors
	ErrNotInitialized     = errors.New("session not initialized")
	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrSessionClosed      = errors.New("session closed")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidSessionID   = errors.New("invalid session id")
)

// SessionError reports a problem with an HTTP session id.
type SessionError struct {
	SessionID string
	Cause     error
}

func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return e.Cause.Error()
	}
	return fmt.Sprintf("%v: %s", e.Cause, e.SessionID)
}

func (e *SessionError) Unwrap() error {
	return e.Cause
}

// NewSessionNotFoundError creates an error for an unknown or expired session.
func NewSessionNotFoundError(sessionID string) *SessionError {
	return &SessionError{SessionID: sessionID, Cause: ErrSessionNotFound}
}

// NewInvalidSessionError creates an error for a malformed session id.
func NewInvalidSessionError(sessionID string) *SessionError {
	return &SessionError{SessionID: sessionID, Cause: ErrInvalidSessionID}
}
