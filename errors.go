package vosk

import (
	"errors"
	"fmt"
)

type ErrorStatus string

const (
	ErrorStatusConnection    ErrorStatus = "connection_error"
	ErrorStatusProtocol      ErrorStatus = "protocol_error"
	ErrorStatusConfiguration ErrorStatus = "configuration_error"
	ErrorStatusArgument      ErrorStatus = "argument_error"
	ErrorStatusInvalidState  ErrorStatus = "invalid_state"
)

type Error struct {
	Status  ErrorStatus
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("vosk: %s: %s: %v", e.Status, e.Message, e.Cause)
	}
	return fmt.Sprintf("vosk: %s: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(status ErrorStatus, message string) *Error {
	return &Error{
		Status:  status,
		Message: message,
	}
}

func NewErrorWithCause(status ErrorStatus, message string, cause error) *Error {
	return &Error{
		Status:  status,
		Message: message,
		Cause:   cause,
	}
}

func IsErrorStatus(err error, status ErrorStatus) bool {
	var voskErr *Error
	if errors.As(err, &voskErr) {
		return voskErr.Status == status
	}
	return false
}

// IsConnectionError reports whether err is a transport failure.
func IsConnectionError(err error) bool { return IsErrorStatus(err, ErrorStatusConnection) }

// IsProtocolError reports whether err is a malformed inbound message.
func IsProtocolError(err error) bool { return IsErrorStatus(err, ErrorStatusProtocol) }

// IsConfigurationError reports whether err is an unresolved endpoint mapping or invalid config.
func IsConfigurationError(err error) bool { return IsErrorStatus(err, ErrorStatusConfiguration) }

// IsArgumentError reports whether err is an unsupported audio format.
func IsArgumentError(err error) bool { return IsErrorStatus(err, ErrorStatusArgument) }

var (
	ErrSessionNotConnected = NewError(ErrorStatusInvalidState, "session is not connected")
	ErrSessionAlreadyOpen  = NewError(ErrorStatusInvalidState, "session was already opened")
	ErrUnsupportedEncoding = NewError(ErrorStatusArgument, "audio encoding must be "+EncodingLinear)
)
