package common

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfiguration    = errors.New("invalid configuration")
	ErrStateInvariantViolation = errors.New("state invariant violation")
	ErrParticipantFailure      = errors.New("participant failure")
	ErrDegenerateSplit         = errors.New("degenerate split")
	ErrNumerical               = errors.New("numerical error")
	ErrUnsupportedClient       = errors.New("client does not support strategy")
	ErrNoParticipants          = errors.New("no participants")
	ErrClientNotCovered        = errors.New("client not covered by model cache")
	ErrDimensionMismatch       = errors.New("vector dimension mismatch")
)

// ConfigurationError reports a single invalid configuration field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// ParticipantError carries the client and round of a failed local computation.
type ParticipantError struct {
	ClientId int
	Round    int
	Cause    error
}

func (e *ParticipantError) Error() string {
	return fmt.Sprintf("round %d: client %d failed: %v", e.Round, e.ClientId, e.Cause)
}

func (e *ParticipantError) Unwrap() []error {
	return []error{ErrParticipantFailure, e.Cause}
}
