package etlerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("fetch AAPL: %w", NewProviderError("quote", ReasonRateLimited, cause))

	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited in chain")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
	if errors.Is(err, ErrTransport) {
		t.Fatalf("rate limit must not read as transport error")
	}
	if got := ReasonOf(err); got != ReasonRateLimited {
		t.Fatalf("ReasonOf = %q", got)
	}
}

func TestIsInstrumentLevel(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", NewProviderError("quote", ReasonTransport, nil), true},
		{"malformed", NewProviderError("aggregates", ReasonMalformedResponse, nil), true},
		{"no data", NewProviderError("quote", ReasonNoData, nil), true},
		{"persistence", &PersistenceError{Symbol: "MSFT", Op: "save", Err: errors.New("disk full")}, true},
		{"configuration", Configuration("quote api key missing"), false},
		{"unauthorized", ErrUnauthorized, false},
		{"unexpected", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsInstrumentLevel(tt.err); got != tt.want {
				t.Fatalf("IsInstrumentLevel(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPersistenceErrorReason(t *testing.T) {
	err := &PersistenceError{Symbol: "IBM", Op: "tags", Err: errors.New("locked")}
	if got := ReasonOf(err); got != ReasonPersistence {
		t.Fatalf("ReasonOf = %q", got)
	}
	if err.Error() != "persist IBM (tags): locked" {
		t.Fatalf("Error() = %q", err.Error())
	}
}
