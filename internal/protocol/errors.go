package protocol

import (
	"errors"
	"fmt"
)

// Code identifies a protocol-level failure. The set is uniform across
// transports; engines raise typed errors that the protocol layer converts
// into error envelopes carrying the originating request id.
type Code string

const (
	UnknownOperation Code = "UNKNOWN_OPERATION"
	MissingParameter Code = "MISSING_PARAMETER"
	InvalidParameter Code = "INVALID_PARAMETER"
	PathNotFound     Code = "PATH_NOT_FOUND"
	NotADirectory    Code = "NOT_A_DIRECTORY"
	NotAFile         Code = "NOT_A_FILE"
	FileExists       Code = "FILE_EXISTS"
	IOError          Code = "IO_ERROR"
	InvalidPattern   Code = "INVALID_PATTERN"
	ForbiddenCommand Code = "FORBIDDEN_COMMAND"
	CommandTimeout   Code = "COMMAND_TIMEOUT"
	RequestError     Code = "REQUEST_ERROR"
	StreamError      Code = "STREAM_ERROR"
)

// OpError is a typed operation failure raised by the engines.
type OpError struct {
	Code    Code
	Message string
	Details any
}

func (e *OpError) Error() string { return e.Message }

// E builds an OpError with a formatted message.
func E(code Code, format string, args ...any) error {
	return &OpError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code from err, defaulting to IO_ERROR for
// untyped failures.
func CodeOf(err error) Code {
	if oe, ok := asOpError(err); ok {
		return oe.Code
	}
	return IOError
}

func asOpError(err error) (*OpError, bool) {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
