package quotaledger

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTier is returned when a purchase names a tier that is not
	// in the catalog.
	ErrUnknownTier = errors.New("unknown tier")

	// ErrInvalidAmount is returned for a non-positive charge amount.
	// The charge is rejected without side effects.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrGrantNotFound is returned on point lookups of unknown grants.
	ErrGrantNotFound = errors.New("grant not found")

	// ErrCounterNotFound is returned on point lookups of unknown device
	// counters.
	ErrCounterNotFound = errors.New("device counter not found")

	// ErrAllowanceNotFound is returned when a subject has no free
	// allowance record.
	ErrAllowanceNotFound = errors.New("free allowance not found")

	// ErrStoreUnavailable is returned when a required store is missing at
	// construction time.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ChargeError reports a persistence failure partway through a multi-grant
// charge. The amounts drawn before the failure have been persisted; the
// caller can inspect Charged before deciding whether to re-issue the
// remainder, which must not be retried blindly without idempotency
// protection of its own.
type ChargeError struct {
	// Charged is the number of bytes successfully persisted before the
	// failure.
	Charged int64

	// Unsatisfied is the number of bytes not yet charged when the
	// operation stopped.
	Unsatisfied int64

	// GrantID identifies the grant whose update failed.
	GrantID string

	// Err is the underlying store error.
	Err error
}

func (e *ChargeError) Error() string {
	return fmt.Sprintf("charge failed at grant %s after %d bytes (%d unsatisfied): %v",
		e.GrantID, e.Charged, e.Unsatisfied, e.Err)
}

func (e *ChargeError) Unwrap() error {
	return e.Err
}
