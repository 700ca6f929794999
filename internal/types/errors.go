package types

import "errors"

// Sentinel errors for the trading system. Callers classify failures
// with errors.Is after unwrapping whatever context was added.
var (
	// ErrValidation covers malformed requests and bad arguments:
	// unknown symbols, non-positive sizes, conflicting exit parameters.
	ErrValidation = errors.New("validation failed")

	// ErrPricing is returned when no usable price exists for a symbol,
	// including zero and negative quotes.
	ErrPricing = errors.New("no valid price")

	// ErrNotFound is returned for lookups of unknown order ids.
	ErrNotFound = errors.New("not found")

	// ErrExternalBroker wraps failures reported by a remote broker.
	// The core never retries; the caller decides.
	ErrExternalBroker = errors.New("external broker error")

	// ErrInvariant signals corrupted accounting state, such as a fill
	// that would drive cash or holdings negative. State is never
	// clamped to keep going.
	ErrInvariant = errors.New("invariant violation")
)
