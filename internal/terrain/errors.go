// Package terrain carries the typed failure taxonomy shared by the
// derivation pipeline stages. Components fail fast with a classified error
// instead of substituting a plausible default; the orchestrator surfaces the
// classification in run records.
package terrain

import (
	"errors"
	"fmt"
)

// Code classifies a pipeline failure.
type Code string

const (
	CodeInvalidResolution  Code = "invalid_resolution"
	CodeCRSMismatch        Code = "crs_mismatch"
	CodeIncompatibleExtent Code = "incompatible_extent"
	CodeShapeMismatch      Code = "shape_mismatch"
	CodeTimeout            Code = "timeout"
	CodeUpstreamIO         Code = "upstream_io_failure"
)

// Error is a classified pipeline failure, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the classification of err, or "" when err carries none.
func CodeOf(err error) Code {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

func is(err error, code Code) bool { return CodeOf(err) == code }

// NewInvalidResolution reports a non-positive or non-finite cell size.
func NewInvalidResolution(cellSize float64) *Error {
	return &Error{
		Code:    CodeInvalidResolution,
		Message: fmt.Sprintf("cell size must be positive and finite, got %v", cellSize),
	}
}

// IsInvalidResolution reports whether err classifies as InvalidResolution.
func IsInvalidResolution(err error) bool { return is(err, CodeInvalidResolution) }

// NewCRSMismatch reports inputs in different coordinate systems with no
// transform supplied.
func NewCRSMismatch(have, want string) *Error {
	return &Error{
		Code:    CodeCRSMismatch,
		Message: fmt.Sprintf("CRS %s does not match %s and no transform was supplied", have, want),
	}
}

// IsCRSMismatch reports whether err classifies as CRSMismatch.
func IsCRSMismatch(err error) bool { return is(err, CodeCRSMismatch) }

// NewIncompatibleExtent reports rasters that share no spatial overlap.
func NewIncompatibleExtent(detail string) *Error {
	return &Error{Code: CodeIncompatibleExtent, Message: detail}
}

// IsIncompatibleExtent reports whether err classifies as IncompatibleExtent.
func IsIncompatibleExtent(err error) bool { return is(err, CodeIncompatibleExtent) }

// NewShapeMismatch reports rasters that were not reconciled before a
// cell-wise operation.
func NewShapeMismatch(detail string) *Error {
	return &Error{Code: CodeShapeMismatch, Message: detail}
}

// IsShapeMismatch reports whether err classifies as ShapeMismatch.
func IsShapeMismatch(err error) bool { return is(err, CodeShapeMismatch) }

// NewTimeout reports a deadline exceeded at the named operation.
func NewTimeout(op string, err error) *Error {
	return &Error{Code: CodeTimeout, Message: op, Err: err}
}

// IsTimeout reports whether err classifies as Timeout.
func IsTimeout(err error) bool { return is(err, CodeTimeout) }

// NewUpstreamIO reports a collaborator I/O failure at the named operation.
func NewUpstreamIO(op string, err error) *Error {
	return &Error{Code: CodeUpstreamIO, Message: op, Err: err}
}

// IsUpstreamIO reports whether err classifies as UpstreamIOFailure.
func IsUpstreamIO(err error) bool { return is(err, CodeUpstreamIO) }
