package exchange

import "errors"

// Error codes returned by exchange, registry and session operations.
const (
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeAlreadySubmitted = "ALREADY_SUBMITTED"
	CodeAlreadyReplied   = "ALREADY_REPLIED"
	CodeAlreadyFailed    = "ALREADY_FAILED"
	CodeWrongSide        = "WRONG_SIDE"
	CodePeerUnavailable  = "PEER_UNAVAILABLE"
	CodeNotFound         = "NOT_FOUND"
	CodeClosed           = "CLOSED"
	CodeSendFailed       = "SEND_FAILED"
	CodeInternal         = "INTERNAL_ERROR"
)

// Error is a structured protocol error.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches another *Error by code, so errors.Is(err, &Error{Code: X}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether repeating the operation may succeed.
func (e *Error) Retryable() bool {
	return e.Code == CodeSendFailed || e.Code == CodeInternal
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
