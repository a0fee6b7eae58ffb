package rr

import (
	"errors"
	"fmt"

	"github.com/achilleasa/rayforge/rr/backend"
)

// Error is the result code of an API call. A nil error means success.
type Error int

// Success is the code reported by Code for a nil error.
const Success Error = 0

const (
	ErrNotImplemented Error = iota + 1
	ErrInternal
	ErrOutOfHostMemory
	ErrOutOfDeviceMemory
	ErrInvalidAPIVersion
	ErrInvalidParameter
	ErrUnsupportedAPI
	ErrUnsupportedInterop
)

func (e Error) Error() string {
	switch e {
	case Success:
		return "rr: success"
	case ErrNotImplemented:
		return "rr: not implemented"
	case ErrInternal:
		return "rr: internal error"
	case ErrOutOfHostMemory:
		return "rr: out of host memory"
	case ErrOutOfDeviceMemory:
		return "rr: out of device memory"
	case ErrInvalidAPIVersion:
		return "rr: invalid api version"
	case ErrInvalidParameter:
		return "rr: invalid parameter"
	case ErrUnsupportedAPI:
		return "rr: unsupported api"
	case ErrUnsupportedInterop:
		return "rr: unsupported interop"
	}
	return fmt.Sprintf("rr: error %d", int(e))
}

// OpError is returned by API calls. It carries the failing call, the result
// code and the underlying cause.
type OpError struct {
	Op   string
	Code Error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil || e.Err == e.Code {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Is matches the result code so that errors.Is(err, rr.ErrInvalidParameter)
// works for wrapped causes.
func (e *OpError) Is(target error) bool {
	code, ok := target.(Error)
	return ok && code == e.Code
}

// Code maps any error to its numeric result code.
func Code(err error) Error {
	if err == nil {
		return Success
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Code
	}
	var code Error
	if errors.As(err, &code) {
		return code
	}
	return classify(err)
}

// Map backend failures onto result codes.
func classify(err error) Error {
	var code Error
	switch {
	case errors.As(err, &code):
		return code
	case errors.Is(err, backend.ErrInvalidParameter):
		return ErrInvalidParameter
	case errors.Is(err, backend.ErrOutOfDeviceMemory):
		return ErrOutOfDeviceMemory
	case errors.Is(err, backend.ErrOutOfHostMemory):
		return ErrOutOfHostMemory
	case errors.Is(err, backend.ErrNotImplemented):
		return ErrNotImplemented
	case errors.Is(err, backend.ErrUnsupportedAPI):
		return ErrUnsupportedAPI
	case errors.Is(err, backend.ErrUnsupportedInterop):
		return ErrUnsupportedInterop
	}
	return ErrInternal
}

// Shorthand for returning a validation error with context.
func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidParameter)...)
}
