package quotaledger

import "context"

// GrantStore defines the persistence interface for quota grants.
// All methods use concrete types from this package to avoid import cycles.
type GrantStore interface {
	// Save persists a new grant. Grants are append-only at creation;
	// subsequent mutation goes through the point-update methods below.
	Save(ctx context.Context, grant *QuotaGrant) error

	// GetByID retrieves a grant by its opaque identifier.
	// Returns ErrGrantNotFound for unknown IDs.
	GetByID(ctx context.Context, grantID string) (*QuotaGrant, error)

	// GetValidBySubject returns the subject's grants that are active and
	// not expired at now. The returned order is the store's natural order;
	// the allocator drains grants in exactly this order.
	GetValidBySubject(ctx context.Context, subjectID string, now Instant) ([]*QuotaGrant, error)

	// GetExpiredActive returns all grants that are still active but past
	// their expiry at now, across all subjects.
	GetExpiredActive(ctx context.Context, now Instant) ([]*QuotaGrant, error)

	// IncrementConsumed atomically adds delta to a grant's BytesConsumed.
	// Implementations must apply the increment conditionally (transaction,
	// conditional update, or script) so that concurrent increments from
	// separate processes cannot lose updates.
	IncrementConsumed(ctx context.Context, grantID string, delta int64) error

	// Deactivate flips a grant's Active flag to false. Deactivating an
	// already-inactive grant succeeds and changes nothing, so overlapping
	// expiry sweeps are safe.
	Deactivate(ctx context.Context, grantID string) error

	// ResetConsumed sets BytesConsumed back to zero. This is the only path
	// by which consumption decreases and is reserved for administrative
	// use.
	ResetConsumed(ctx context.Context, grantID string) error

	// Delete physically removes a grant. Normal operation never deletes;
	// this is a separate administrative capability.
	Delete(ctx context.Context, grantID string) error
}

// DeviceCounterStore defines the persistence interface for per-device usage
// counters.
type DeviceCounterStore interface {
	// GetAll returns every provisioned device counter.
	GetAll(ctx context.Context) ([]*DeviceCounter, error)

	// Reset zeroes a counter's BytesUsed and moves its BillingAnchor to
	// now. Returns ErrCounterNotFound for unknown IDs.
	Reset(ctx context.Context, counterID string, now Instant) error
}

// FreeAllowanceProvider exposes the perpetual per-subject allowance managed
// outside this core. Only the remaining figure is consumed here.
type FreeAllowanceProvider interface {
	// GetRemaining returns the subject's remaining free bytes. A subject
	// with no allowance record reports zero, not an error.
	GetRemaining(ctx context.Context, subjectID string) (int64, error)
}

// AuditEntry records one accounting action for the audit trail.
type AuditEntry struct {
	// ID is a unique identifier for this entry.
	ID string

	// SubjectID is the subject affected by the action.
	SubjectID string

	// GrantID is the grant affected, if any.
	GrantID string

	// Action is the kind of action, e.g. "grant", "sweep_retire",
	// "admin_reset", "admin_deactivate", "admin_delete".
	Action string

	// Bytes is the byte amount involved, zero for non-quantitative actions.
	Bytes int64

	// Actor is who performed the action: "system" for sweeps, an operator
	// ID for administrative actions.
	Actor string

	// Reason is optional free-form context.
	Reason string

	// At is when the action occurred.
	At Instant
}

// AuditLogger is an optional capability of a GrantStore. Stores that
// implement it receive an entry for every grant creation, sweep retirement,
// and administrative action.
type AuditLogger interface {
	LogAuditEntry(ctx context.Context, entry *AuditEntry) error
}
