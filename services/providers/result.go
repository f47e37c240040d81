// Package providers fetches per-symbol data from external market data providers.
//
// Every adapter returns a Result: either a payload that knows which record
// fields it owns, or a typed failure. Adapters never retry and never sleep;
// pacing belongs to the caller.
package providers

import (
	"context"

	"market_etl_backend/services/etlerrors"
	"market_etl_backend/services/merger"
)

// Provider ids, also used as pacer keys
const (
	Quote        = "quote"
	Aggregates   = "aggregates"
	Fundamentals = "fundamentals"
)

// Adapter fetches one symbol from one provider
type Adapter interface {
	Name() string
	Configured() error
	Fetch(ctx context.Context, symbol string) Result
}

// Result is either a payload or a failure, never both
type Result struct {
	payload merger.Payload
	failure *etlerrors.ProviderError
}

// Ok wraps a successful payload
func Ok(p merger.Payload) Result {
	return Result{payload: p}
}

// Fail wraps a failure with one of the etlerrors reasons
func Fail(provider, reason string, err error) Result {
	return Result{failure: etlerrors.NewProviderError(provider, reason, err)}
}

func failWith(pe *etlerrors.ProviderError) Result {
	return Result{failure: pe}
}

// OK reports whether the fetch succeeded
func (r Result) OK() bool {
	return r.failure == nil && r.payload != nil
}

// Payload returns the payload of a successful result, or nil
func (r Result) Payload() merger.Payload {
	if r.failure != nil {
		return nil
	}
	return r.payload
}

// Failure returns the failure of an unsuccessful result, or nil
func (r Result) Failure() *etlerrors.ProviderError {
	if r.failure == nil && r.payload == nil {
		return etlerrors.NewProviderError("unknown", etlerrors.ReasonNoData, nil)
	}
	return r.failure
}
