// Package errors provides error handling for chainable.
//
// This package re-exports github.com/cockroachdb/errors so every package
// gets stack traces, wrapping, hints and details from one import:
//
//	// Wrap with context
//	if err := client.Chat(ctx, req); err != nil {
//	    return errors.Wrap(err, "chat request failed")
//	}
//
//	// Tell the user what to do about it
//	return errors.WithHint(err, "set CHAINABLE_OPENAI_API_KEY or openai.api_key in am.toml")
//
//	// Check errors
//	if errors.Is(err, errors.ErrStepFailed) {
//	    // a chain step failed
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
	Mark               = crdb.Mark
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapOnce     = crdb.UnwrapOnce
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors. Wrap them with errors.Wrap to add context and check them
// with errors.Is.
var (
	// ErrNotFound indicates the requested run or resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates malformed input detected before any work ran
	// (bad options, nil invoker, unreadable chain document)
	ErrInvalidRequest = New("invalid request")

	// ErrServiceUnavailable indicates a model provider could not be reached
	// or is not configured
	ErrServiceUnavailable = New("service unavailable")

	// ErrStepFailed marks the failure of a single chain step
	ErrStepFailed = New("chain step failed")

	// ErrSchemaViolation indicates a structured reply did not match its schema
	ErrSchemaViolation = New("schema violation")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsServiceUnavailableError checks if an error is or wraps ErrServiceUnavailable
func IsServiceUnavailableError(err error) bool {
	return err != nil && Is(err, ErrServiceUnavailable)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}
