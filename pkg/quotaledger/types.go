package quotaledger

// GiB is one binary gigabyte in bytes.
const GiB = int64(1) << 30

// QuotaGrant is one purchased, time-boxed data allowance.
type QuotaGrant struct {
	// ID is an opaque unique identifier assigned at creation.
	ID string

	// SubjectID identifies the owner of the grant.
	SubjectID string

	// Tier is the catalog tier name this grant was purchased under.
	Tier string

	// ByteLimit is the total capacity of the grant in bytes, bonus included.
	ByteLimit int64

	// BytesConsumed is the running total drawn from this grant.
	// It never decreases outside an explicit administrative reset.
	BytesConsumed int64

	// GrantedAt is the creation instant.
	GrantedAt Instant

	// ExpiresAt is GrantedAt plus the tier duration.
	ExpiresAt Instant

	// Active is flipped to false by the expiry sweep or an administrative
	// deactivation. A retired grant is never reactivated by normal flow.
	Active bool

	// PaymentReference is an opaque external payment identifier kept for
	// audit. Purchases are not deduplicated on it; a retried purchase
	// creates a second grant.
	PaymentReference string
}

// Remaining returns the undrawn capacity of the grant, clamped at zero.
func (g *QuotaGrant) Remaining() int64 {
	rem := g.ByteLimit - g.BytesConsumed
	if rem < 0 {
		return 0
	}
	return rem
}

// Expired reports whether the grant is past its expiry at now.
// A grant expiring exactly at now is already expired.
func (g *QuotaGrant) Expired(now Instant) bool {
	return !now.Before(g.ExpiresAt)
}

// Valid reports whether the grant can still be drawn from at now.
func (g *QuotaGrant) Valid(now Instant) bool {
	return g.Active && !g.Expired(now)
}

// FreeAllowance is the perpetual per-subject allowance. It never expires and
// is replenished by a policy outside this package; the core only reads its
// remaining figure when building reports.
type FreeAllowance struct {
	SubjectID string
	ByteLimit int64
	BytesUsed int64
}

// Remaining returns the unused free capacity, clamped at zero.
func (a *FreeAllowance) Remaining() int64 {
	rem := a.ByteLimit - a.BytesUsed
	if rem < 0 {
		return 0
	}
	return rem
}

// DeviceCounter is a per-device (VPN key) usage counter with its own
// billing-cycle reset schedule, independent of quota grants.
type DeviceCounter struct {
	ID        string
	SubjectID string
	BytesUsed int64

	// ByteLimit is a device-level ceiling, a separate axis from grant
	// capacity: the key cannot exceed it regardless of how much quota the
	// subject owns.
	ByteLimit int64

	// BillingAnchor is the instant of the last cycle reset.
	BillingAnchor Instant
}

// GrantDraw records how many bytes a single charge drew from one grant.
type GrantDraw struct {
	GrantID string
	Bytes   int64
}

// ChargeResult reports how a charge was apportioned across grants.
type ChargeResult struct {
	// ChargedBytes is the total successfully drawn from valid grants.
	ChargedBytes int64

	// UnsatisfiedBytes is the remainder that no grant could cover. It is
	// dropped, not carried as debt and not charged to the free allowance.
	UnsatisfiedBytes int64

	// NoValidGrants is set when the subject had no valid grants at all.
	// It is an observability signal, not a failure.
	NoValidGrants bool

	// Draws lists the per-grant byte amounts, in allocation order.
	Draws []GrantDraw
}

// GrantReport is the per-grant detail inside a UsageReport.
type GrantReport struct {
	GrantID       string
	Tier          string
	DisplayName   string
	ByteLimit     int64
	BytesConsumed int64
	Remaining     int64
	DaysRemaining int
	ExpiresAt     Instant
}

// UsageReport aggregates a subject's valid grants and free allowance.
// All figures are raw bytes; GB views are computed at presentation time.
type UsageReport struct {
	SubjectID string

	// TotalLimit and TotalUsed sum over valid grants only.
	TotalLimit int64
	TotalUsed  int64

	// FreeRemaining is the free allowance's remaining capacity.
	FreeRemaining int64

	// RemainingTotal is max(0, TotalLimit-TotalUsed) + FreeRemaining.
	RemainingTotal int64

	Grants []GrantReport

	GeneratedAt Instant
}

// ToGB converts a raw byte figure to binary gigabytes for display.
// The core never rounds before aggregating; only presentation callers
// should use this.
func ToGB(bytes int64) float64 {
	return float64(bytes) / float64(GiB)
}
