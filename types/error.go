package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the orchestrator.
type ErrorCode string

// Connection error codes
const (
	ErrConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrSendFailed       ErrorCode = "SEND_FAILED"
	ErrReceiveFailed    ErrorCode = "RECEIVE_FAILED"
	ErrSessionClosed    ErrorCode = "SESSION_CLOSED"
)

// Tool error codes
const (
	ErrToolNotFound    ErrorCode = "TOOL_NOT_FOUND"
	ErrToolFailed      ErrorCode = "TOOL_FAILED"
	ErrToolTimeout     ErrorCode = "TOOL_TIMEOUT"
	ErrToolRateLimited ErrorCode = "TOOL_RATE_LIMITED"
)

// Orchestration error codes
const (
	ErrInboxClosed          ErrorCode = "INBOX_CLOSED"
	ErrUnknownPersona       ErrorCode = "UNKNOWN_PERSONA"
	ErrAnnouncementTimeout  ErrorCode = "ANNOUNCEMENT_TIMEOUT"
	ErrAnnouncementUnheard  ErrorCode = "ANNOUNCEMENT_UNHEARD"
	ErrGateBusy             ErrorCode = "GATE_BUSY"
	ErrInvalidConfig        ErrorCode = "INVALID_CONFIG"
	ErrInvalidAnnouncement  ErrorCode = "INVALID_ANNOUNCEMENT"
	ErrSchedulerQueueFull   ErrorCode = "SCHEDULER_QUEUE_FULL"
	ErrTranscriptStoreError ErrorCode = "TRANSCRIPT_STORE_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Persona   SpeakerID `json:"persona,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.Persona != "" {
		prefix = fmt.Sprintf("[%s %s]", e.Code, e.Persona)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithPersona tags the error with the persona whose worker produced it.
func (e *Error) WithPersona(id SpeakerID) *Error {
	e.Persona = id
	return e
}

// IsRetryable checks if an error (or any error it wraps) is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
