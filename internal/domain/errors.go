package domain

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrJobNotReady         = errors.New("job has unresolved items")
	ErrIntegrity           = errors.New("conflicting item result")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrUpstreamUnavailable = errors.New("tax data service unavailable")
	ErrMalformedSchedule   = errors.New("malformed bracket schedule")
)

// ValidationError rejects caller input; the HTTP layer maps it to 400 and
// the batch coordinator records it as a per-item error.
type ValidationError struct {
	Msg string
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.Msg }

// Per-item error codes recorded in job slots.
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeUpstream   = "UPSTREAM_UNAVAILABLE"
	ErrCodeInternal   = "INTERNAL_ERROR"
)

// ItemError is the failure recorded in a job slot when an item cannot be
// resolved. It never fails the job itself.
type ItemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ItemErrorFrom classifies an error into the per-item form.
func ItemErrorFrom(err error) *ItemError {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return &ItemError{Code: ErrCodeValidation, Message: ve.Msg}
	case errors.Is(err, ErrMalformedSchedule):
		return &ItemError{Code: ErrCodeUpstream, Message: "tax data for the requested year is malformed"}
	case errors.Is(err, ErrUpstreamUnavailable):
		return &ItemError{Code: ErrCodeUpstream, Message: "tax data service is temporarily unavailable"}
	default:
		return &ItemError{Code: ErrCodeInternal, Message: "internal error"}
	}
}
