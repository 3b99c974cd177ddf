package quotaledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Lifecycle creates grants from the tier catalog and retires grants past
// their expiry instant.
type Lifecycle struct {
	grants  GrantStore
	catalog *Catalog
	clock   Clock
	logger  Logger
	metrics Metrics
}

// NewLifecycle creates a grant lifecycle manager.
func NewLifecycle(grants GrantStore, cfg *Config) *Lifecycle {
	return &Lifecycle{
		grants:  grants,
		catalog: cfg.Catalog,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Grant creates a grant for a validated purchase. Unknown tier names are
// rejected with ErrUnknownTier and no state change.
//
// Purchases are not deduplicated on paymentReference: a caller that retries
// a purchase creates a second grant. Callers needing exactly-once semantics
// must dedupe before calling.
func (l *Lifecycle) Grant(ctx context.Context, subjectID, tierName, paymentReference string) (*QuotaGrant, error) {
	tier, err := l.catalog.Lookup(tierName)
	if err != nil {
		return nil, err
	}

	now := l.clock.Now()
	grant := &QuotaGrant{
		ID:               uuid.NewString(),
		SubjectID:        subjectID,
		Tier:             tier.Name,
		ByteLimit:        tier.ByteLimit(),
		BytesConsumed:    0,
		GrantedAt:        now,
		ExpiresAt:        now.AddDays(tier.DurationDays),
		Active:           true,
		PaymentReference: paymentReference,
	}

	start := time.Now()
	err = l.grants.Save(ctx, grant)
	l.metrics.RecordStoreOperation("save_grant", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	l.audit(ctx, &AuditEntry{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		GrantID:   grant.ID,
		Action:    "grant",
		Bytes:     grant.ByteLimit,
		Actor:     "system",
		Reason:    paymentReference,
		At:        now,
	})
	l.logger.Info("grant created",
		Field{Key: "subject_id", Value: subjectID},
		Field{Key: "grant_id", Value: grant.ID},
		Field{Key: "tier", Value: tier.Name},
		Field{Key: "byte_limit", Value: grant.ByteLimit},
		Field{Key: "expires_at", Value: grant.ExpiresAt.String()})
	l.metrics.RecordGrantCreated(tier.Name, grant.ByteLimit)
	return grant, nil
}

// SweepExpired retires all active grants past their expiry and returns the
// count retired. Individual row failures are skipped so one bad row cannot
// abort the batch; the returned count covers successful retirements only.
//
// The sweep is idempotent: a second run with no newly expired grants finds
// nothing to retire, and two overlapping sweeps retiring the same grant both
// succeed because Deactivate tolerates already-inactive grants.
func (l *Lifecycle) SweepExpired(ctx context.Context, actor string) (int, error) {
	now := l.clock.Now()

	start := time.Now()
	expired, err := l.grants.GetExpiredActive(ctx, now)
	l.metrics.RecordStoreOperation("get_expired_active", time.Since(start), err)
	if err != nil {
		return 0, err
	}

	retired := 0
	for _, g := range expired {
		start := time.Now()
		err := l.grants.Deactivate(ctx, g.ID)
		l.metrics.RecordStoreOperation("deactivate", time.Since(start), err)
		if err != nil {
			l.logger.Warn("sweep skipping grant",
				Field{Key: "grant_id", Value: g.ID},
				Field{Key: "error", Value: err.Error()})
			continue
		}
		retired++
		l.audit(ctx, &AuditEntry{
			ID:        uuid.NewString(),
			SubjectID: g.SubjectID,
			GrantID:   g.ID,
			Action:    "sweep_retire",
			Actor:     actor,
			At:        now,
		})
	}

	if retired > 0 {
		l.logger.Info("expiry sweep complete",
			Field{Key: "actor", Value: actor},
			Field{Key: "retired", Value: retired})
	}
	l.metrics.RecordSweep(retired)
	return retired, nil
}

// AdminResetConsumption zeroes a grant's consumption. This is the only path
// by which BytesConsumed decreases.
func (l *Lifecycle) AdminResetConsumption(ctx context.Context, grantID, actor string) error {
	g, err := l.grants.GetByID(ctx, grantID)
	if err != nil {
		return err
	}
	if err := l.grants.ResetConsumed(ctx, grantID); err != nil {
		return err
	}
	l.audit(ctx, &AuditEntry{
		ID:        uuid.NewString(),
		SubjectID: g.SubjectID,
		GrantID:   grantID,
		Action:    "admin_reset",
		Bytes:     g.BytesConsumed,
		Actor:     actor,
		At:        l.clock.Now(),
	})
	l.logger.Info("grant consumption reset",
		Field{Key: "grant_id", Value: grantID},
		Field{Key: "actor", Value: actor})
	return nil
}

// AdminDeactivate retires a grant outside the expiry sweep.
func (l *Lifecycle) AdminDeactivate(ctx context.Context, grantID, actor string) error {
	g, err := l.grants.GetByID(ctx, grantID)
	if err != nil {
		return err
	}
	if err := l.grants.Deactivate(ctx, grantID); err != nil {
		return err
	}
	l.audit(ctx, &AuditEntry{
		ID:        uuid.NewString(),
		SubjectID: g.SubjectID,
		GrantID:   grantID,
		Action:    "admin_deactivate",
		Actor:     actor,
		At:        l.clock.Now(),
	})
	return nil
}

// AdminDelete physically removes a grant. Normal operation never deletes.
func (l *Lifecycle) AdminDelete(ctx context.Context, grantID, actor string) error {
	g, err := l.grants.GetByID(ctx, grantID)
	if err != nil {
		return err
	}
	if err := l.grants.Delete(ctx, grantID); err != nil {
		return err
	}
	l.audit(ctx, &AuditEntry{
		ID:        uuid.NewString(),
		SubjectID: g.SubjectID,
		GrantID:   grantID,
		Action:    "admin_delete",
		Actor:     actor,
		At:        l.clock.Now(),
	})
	return nil
}

func (l *Lifecycle) audit(ctx context.Context, entry *AuditEntry) {
	al, ok := l.grants.(AuditLogger)
	if !ok {
		return
	}
	if err := al.LogAuditEntry(ctx, entry); err != nil {
		l.logger.Warn("audit entry dropped",
			Field{Key: "action", Value: entry.Action},
			Field{Key: "grant_id", Value: entry.GrantID},
			Field{Key: "error", Value: err.Error()})
	}
}
