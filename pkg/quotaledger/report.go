package quotaledger

import "context"

// Reporter aggregates a subject's valid grants and free allowance into a
// usage report. Expired and inactive grants still physically exist but are
// excluded from every total.
type Reporter struct {
	ledger  *Ledger
	free    FreeAllowanceProvider
	catalog *Catalog
	clock   Clock
}

// NewReporter creates a usage report builder.
func NewReporter(ledger *Ledger, free FreeAllowanceProvider, cfg *Config) *Reporter {
	return &Reporter{
		ledger:  ledger,
		free:    free,
		catalog: cfg.Catalog,
		clock:   cfg.Clock,
	}
}

// BuildReport renders the subject's current standing. Byte figures stay raw;
// presentation callers convert with ToGB.
func (r *Reporter) BuildReport(ctx context.Context, subjectID string) (*UsageReport, error) {
	now := r.clock.Now()

	grants, err := r.ledger.ValidGrants(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	freeRemaining, err := r.free.GetRemaining(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	report := &UsageReport{
		SubjectID:     subjectID,
		FreeRemaining: freeRemaining,
		Grants:        make([]GrantReport, 0, len(grants)),
		GeneratedAt:   now,
	}
	for _, g := range grants {
		report.TotalLimit += g.ByteLimit
		report.TotalUsed += g.BytesConsumed
		report.Grants = append(report.Grants, GrantReport{
			GrantID:       g.ID,
			Tier:          g.Tier,
			DisplayName:   r.displayName(g.Tier),
			ByteLimit:     g.ByteLimit,
			BytesConsumed: g.BytesConsumed,
			Remaining:     g.Remaining(),
			DaysRemaining: daysRemaining(g.ExpiresAt, now),
			ExpiresAt:     g.ExpiresAt,
		})
	}

	remaining := report.TotalLimit - report.TotalUsed
	if remaining < 0 {
		remaining = 0
	}
	report.RemainingTotal = remaining + freeRemaining
	return report, nil
}

func (r *Reporter) displayName(tierName string) string {
	tier, err := r.catalog.Lookup(tierName)
	if err != nil {
		// Grant predates the current catalog revision; fall back to the
		// stored name.
		return tierName
	}
	return tier.DisplayName
}

// daysRemaining is the whole days until expiry, floored, never negative.
func daysRemaining(expiresAt, now Instant) int {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d.Hours() / 24)
}
