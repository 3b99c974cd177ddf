package quotaledger

import (
	"context"
	"time"
)

// Allocator apportions incoming usage deltas across a subject's valid
// grants.
//
// Grants are drained in the order the store returns them, not
// soonest-expiring-first; the order is part of the observable contract and
// is preserved from the original accounting behavior. Any remainder that no
// grant can cover is dropped: it is not charged to the free allowance and
// does not accrue as debt.
type Allocator struct {
	grants  GrantStore
	ledger  *Ledger
	locks   *subjectLocks
	retries int
	clock   Clock
	logger  Logger
	metrics Metrics
}

// NewAllocator creates a consumption allocator.
func NewAllocator(grants GrantStore, ledger *Ledger, cfg *Config) *Allocator {
	return &Allocator{
		grants:  grants,
		ledger:  ledger,
		locks:   newSubjectLocks(cfg.LockStripes),
		retries: cfg.IncrementRetries,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Charge draws deltaBytes from the subject's valid grants.
//
// A non-positive delta is a caller error and is rejected without touching
// state. A subject with no valid grants gets a successful no-op result with
// NoValidGrants set; denying service on that account is the caller's policy
// decision, not this package's.
//
// The read-grants-then-increment window is serialized per subject, so two
// concurrent charges for the same subject cannot both drain the same
// remaining bytes through this process. Each single-grant increment is
// persisted individually; a store failure partway through returns a
// *ChargeError carrying the amount already persisted.
func (a *Allocator) Charge(ctx context.Context, subjectID string, deltaBytes int64) (ChargeResult, error) {
	if deltaBytes <= 0 {
		return ChargeResult{}, ErrInvalidAmount
	}

	mu := a.locks.lock(subjectID)
	defer mu.Unlock()

	grants, err := a.ledger.ValidGrants(ctx, subjectID)
	if err != nil {
		return ChargeResult{}, err
	}

	if len(grants) == 0 {
		a.logger.Warn("charge with no valid grants",
			Field{Key: "subject_id", Value: subjectID},
			Field{Key: "delta_bytes", Value: deltaBytes})
		a.metrics.RecordNoValidGrants(subjectID)
		a.metrics.RecordCharge(subjectID, 0, deltaBytes, true)
		return ChargeResult{
			UnsatisfiedBytes: deltaBytes,
			NoValidGrants:    true,
		}, nil
	}

	result := ChargeResult{}
	left := deltaBytes
	for _, g := range grants {
		if left == 0 {
			break
		}
		remaining := g.Remaining()
		if remaining == 0 {
			continue
		}
		draw := left
		if draw > remaining {
			draw = remaining
		}

		if err := a.incrementWithRetry(ctx, g.ID, draw); err != nil {
			a.logger.Error("charge aborted on grant update failure",
				Field{Key: "subject_id", Value: subjectID},
				Field{Key: "grant_id", Value: g.ID},
				Field{Key: "charged_bytes", Value: result.ChargedBytes},
				Field{Key: "error", Value: err.Error()})
			a.metrics.RecordCharge(subjectID, result.ChargedBytes, left, false)
			result.UnsatisfiedBytes = left
			return result, &ChargeError{
				Charged:     result.ChargedBytes,
				Unsatisfied: left,
				GrantID:     g.ID,
				Err:         err,
			}
		}

		result.ChargedBytes += draw
		result.Draws = append(result.Draws, GrantDraw{GrantID: g.ID, Bytes: draw})
		left -= draw
	}
	result.UnsatisfiedBytes = left

	if left > 0 {
		a.logger.Info("charge remainder dropped",
			Field{Key: "subject_id", Value: subjectID},
			Field{Key: "unsatisfied_bytes", Value: left})
	}
	a.metrics.RecordCharge(subjectID, result.ChargedBytes, result.UnsatisfiedBytes, true)
	return result, nil
}

// incrementWithRetry retries at single-grant granularity only. Retrying the
// whole charge would double-draw from grants already persisted.
func (a *Allocator) incrementWithRetry(ctx context.Context, grantID string, delta int64) error {
	var err error
	for attempt := 0; attempt <= a.retries; attempt++ {
		start := time.Now()
		err = a.grants.IncrementConsumed(ctx, grantID, delta)
		a.metrics.RecordStoreOperation("increment_consumed", time.Since(start), err)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
