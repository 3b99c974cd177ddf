package quotaledger

import "context"

// Ledger computes a subject's currently valid grants and remaining capacity.
type Ledger struct {
	grants GrantStore
	free   FreeAllowanceProvider
	clock  Clock
}

// NewLedger creates a subject ledger over the given stores.
func NewLedger(grants GrantStore, free FreeAllowanceProvider, clock Clock) *Ledger {
	return &Ledger{grants: grants, free: free, clock: clock}
}

// ValidGrants returns the subject's active, unexpired grants in store order.
// The allocator and the report builder both consume exactly this sequence so
// the two views can never disagree about which grants count.
func (l *Ledger) ValidGrants(ctx context.Context, subjectID string) ([]*QuotaGrant, error) {
	return l.grants.GetValidBySubject(ctx, subjectID, l.clock.Now())
}

// Remaining returns the subject's total remaining capacity: the clamped sum
// over valid grants plus the free allowance's remaining bytes.
func (l *Ledger) Remaining(ctx context.Context, subjectID string) (int64, error) {
	grants, err := l.ValidGrants(ctx, subjectID)
	if err != nil {
		return 0, err
	}

	var limit, used int64
	for _, g := range grants {
		limit += g.ByteLimit
		used += g.BytesConsumed
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	freeRemaining, err := l.free.GetRemaining(ctx, subjectID)
	if err != nil {
		return 0, err
	}
	return remaining + freeRemaining, nil
}
