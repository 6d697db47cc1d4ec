// Package apperr defines the typed error values returned by the auth core. Each error carries a stable Code
// that transports map to their own status vocabulary; callers match with errors.Is against the sentinels.
package apperr

import "errors"

// Code is the stable, caller-visible identifier of an error kind.
type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeInvalidCredentials  Code = "INVALID_CREDENTIALS"
	CodeInvalidRefreshToken Code = "INVALID_REFRESH_TOKEN"
	CodeRefreshTokenReused  Code = "REFRESH_TOKEN_REUSED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeUnavailable         Code = "UNAVAILABLE"
	CodeConflict            Code = "CONFLICT"
	CodeInternal            Code = "INTERNAL"
)

// Error is a coded failure with a human-readable message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Sentinels for errors.Is. Matching compares codes only, so a wrapped error with a
// different message still matches its sentinel.
var (
	ErrValidation          = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrInvalidCredentials  = &Error{Code: CodeInvalidCredentials, Message: "invalid user credentials"}
	ErrInvalidRefreshToken = &Error{Code: CodeInvalidRefreshToken, Message: "invalid or expired refresh token"}
	ErrRefreshTokenReused  = &Error{Code: CodeRefreshTokenReused, Message: "refresh token has already been used"}
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "account not found"}
	ErrUnavailable         = &Error{Code: CodeUnavailable, Message: "user directory unavailable"}
	ErrConflict            = &Error{Code: CodeConflict, Message: "account already exists"}
	ErrInternal            = &Error{Code: CodeInternal, Message: "internal error"}
)

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New returns an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap returns an error with the given code and message that unwraps to err.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Validation is shorthand for New(CodeValidation, message).
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal when there is none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the message of the first *Error in err's chain without its cause,
// so internal details are not exposed to remote callers.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ErrInternal.Message
}
