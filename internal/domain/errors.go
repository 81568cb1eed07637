package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownLocation means a case event references a municipality that is
	// missing from the location table. It is fatal for a run.
	ErrUnknownLocation = errors.New("unknown location")

	// ErrPopulationUnavailable means no population observation exists at or
	// before the requested date. It is never fatal.
	ErrPopulationUnavailable = errors.New("population unavailable")

	// ErrMalformedInput marks schema violations detected while loading inputs.
	ErrMalformedInput = errors.New("malformed input")
)

// UnknownLocationError carries the offending municipality code.
type UnknownLocationError struct {
	Code string
}

func (e *UnknownLocationError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownLocation, e.Code)
}

func (e *UnknownLocationError) Is(target error) bool {
	return target == ErrUnknownLocation
}

// MalformedInputError pinpoints a schema violation. Line is 1-based and 0
// when the problem is not tied to a row.
type MalformedInputError struct {
	Source string
	Line   int
	Field  string
	Err    error
}

func (e *MalformedInputError) Error() string {
	msg := ErrMalformedInput.Error() + ": " + e.Source
	if e.Line > 0 {
		msg += fmt.Sprintf(" line %d", e.Line)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" field %q", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}
