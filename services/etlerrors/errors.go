// Package etlerrors defines the error taxonomy shared by the ETL pipeline.
//
// Instrument-level errors (transport, rate limit, malformed response, no data,
// persistence) are swallowed at the instrument boundary and only counted.
// Boundary errors (unauthorized, configuration) abort the whole operation.
package etlerrors

import (
	"errors"
	"fmt"
)

var (
	ErrTransport         = errors.New("transport error")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed response")
	ErrNoData            = errors.New("no data")
	ErrPersistence       = errors.New("persistence error")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrConfiguration     = errors.New("configuration error")
)

// Failure reasons reported by provider adapters
const (
	ReasonTransport         = "transport_error"
	ReasonRateLimited       = "rate_limited"
	ReasonMalformedResponse = "malformed_response"
	ReasonNoData            = "no_data"
	ReasonPersistence       = "persistence_error"
)

// ProviderError is a failed provider call
type ProviderError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	errs := []error{sentinelFor(e.Reason)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// PersistenceError is a failed write for one instrument
type PersistenceError struct {
	Symbol string
	Op     string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s (%s): %v", e.Symbol, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// NewProviderError builds a ProviderError for the given reason
func NewProviderError(provider, reason string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Reason: reason, Err: err}
}

// Configuration wraps a missing or invalid setting
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// IsInstrumentLevel reports whether err should be contained to one instrument
func IsInstrumentLevel(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrConfiguration) {
		return false
	}
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrNoData) ||
		errors.Is(err, ErrPersistence)
}

// ReasonOf returns the failure reason carried by err, or "" when none
func ReasonOf(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	if errors.Is(err, ErrPersistence) {
		return ReasonPersistence
	}
	return ""
}

func sentinelFor(reason string) error {
	switch reason {
	case ReasonRateLimited:
		return ErrRateLimited
	case ReasonMalformedResponse:
		return ErrMalformedResponse
	case ReasonNoData:
		return ErrNoData
	default:
		return ErrTransport
	}
}
