package model

import (
	"errors"
	"fmt"
)

// DecodeErrorCode categorizes envelope decode failures.
type DecodeErrorCode string

const (
	// ErrCodeMalformed indicates the payload lacks the {id, doc} shape or a
	// field its variant requires.
	ErrCodeMalformed DecodeErrorCode = "MALFORMED"

	// ErrCodeUnknownEvent indicates an event name outside the
	// (kind, action) table.
	ErrCodeUnknownEvent DecodeErrorCode = "UNKNOWN_EVENT"
)

// DecodeError reports why a notification could not become an Envelope.
type DecodeError struct {
	Code    DecodeErrorCode
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewMalformedError creates a DecodeError with ErrCodeMalformed.
func NewMalformedError(message string) *DecodeError {
	return &DecodeError{Code: ErrCodeMalformed, Message: message}
}

// WrapMalformedError wraps a parse failure as ErrCodeMalformed.
func WrapMalformedError(message string, err error) *DecodeError {
	return &DecodeError{Code: ErrCodeMalformed, Message: message, Err: err}
}

// NewUnknownEventError creates a DecodeError with ErrCodeUnknownEvent.
func NewUnknownEventError(name string) *DecodeError {
	return &DecodeError{
		Code:    ErrCodeUnknownEvent,
		Message: fmt.Sprintf("unrecognized event %q", name),
	}
}

// IsMalformed reports whether err is a malformed-envelope DecodeError.
// Uses errors.As to handle wrapped errors.
func IsMalformed(err error) bool {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Code == ErrCodeMalformed
	}
	return false
}

// IsUnknownEvent reports whether err is an unknown-event DecodeError.
func IsUnknownEvent(err error) bool {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Code == ErrCodeUnknownEvent
	}
	return false
}
