// Package apperr defines the error taxonomy that crosses the HTTP and
// websocket boundaries. Every failure a handler returns is an *AppError;
// anything else is treated as internal and never shown to clients.
package apperr

import (
	"errors"
	"fmt"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches two AppErrors by code and message so sentinel values defined
// with the constructors below work with errors.Is.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func InvalidArg(msg string) error { return New(CodeInvalidArgument, msg) }

func NotFound(msg string) error { return New(CodeNotFound, msg) }

func Conflict(msg string) error { return New(CodeConflict, msg) }

func Unauthorized(msg string) error { return New(CodeUnauthenticated, msg) }

func Forbidden(msg string) error { return New(CodePermissionDenied, msg) }

func Internal(msg string) error { return New(CodeInternal, msg) }

// CodeOf extracts the taxonomy code from any error chain. Non-AppError
// values report CodeUnknown.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}
