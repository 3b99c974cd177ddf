// Package quotaledger implements the accounting core for time-boxed data
// allowances: purchased quota grants, their apportionment under usage
// charges, expiry sweeps, device billing cycles, and usage reporting.
//
// Persistence lives behind the GrantStore, DeviceCounterStore, and
// FreeAllowanceProvider interfaces; see the storage/ adapters for
// implementations.
package quotaledger

import (
	"context"
	"time"
)

// Manager wires the accounting components over a set of stores and exposes
// the operations callers consume: Grant, Charge, SweepExpired,
// TickBillingCycle, and BuildReport. The components are also usable
// individually.
type Manager struct {
	ledger       *Ledger
	allocator    *Allocator
	lifecycle    *Lifecycle
	billingCycle *BillingCycle
	reporter     *Reporter
	config       Config
}

// NewManager creates a manager with the given stores and configuration.
func NewManager(grants GrantStore, counters DeviceCounterStore, free FreeAllowanceProvider, config Config) (*Manager, error) {
	if grants == nil || counters == nil || free == nil {
		return nil, ErrStoreUnavailable
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	ledger := NewLedger(grants, free, config.Clock)
	m := &Manager{
		ledger:       ledger,
		allocator:    NewAllocator(grants, ledger, &config),
		lifecycle:    NewLifecycle(grants, &config),
		billingCycle: NewBillingCycle(counters, &config),
		reporter:     NewReporter(ledger, free, &config),
		config:       config,
	}
	return m, nil
}

// Grant creates a grant for a validated purchase of tierName.
func (m *Manager) Grant(ctx context.Context, subjectID, tierName, paymentReference string) (*QuotaGrant, error) {
	return m.lifecycle.Grant(ctx, subjectID, tierName, paymentReference)
}

// Charge draws deltaBytes from the subject's valid grants.
func (m *Manager) Charge(ctx context.Context, subjectID string, deltaBytes int64) (ChargeResult, error) {
	return m.allocator.Charge(ctx, subjectID, deltaBytes)
}

// SweepExpired retires grants past their expiry instant and returns the
// count retired.
func (m *Manager) SweepExpired(ctx context.Context, actor string) (int, error) {
	return m.lifecycle.SweepExpired(ctx, actor)
}

// TickBillingCycle resets device counters whose billing anchor is at least
// one billing interval old and returns the count reset.
func (m *Manager) TickBillingCycle(ctx context.Context, now time.Time) (int, error) {
	return m.billingCycle.Tick(ctx, At(now))
}

// BuildReport renders the subject's current usage standing.
func (m *Manager) BuildReport(ctx context.Context, subjectID string) (*UsageReport, error) {
	return m.reporter.BuildReport(ctx, subjectID)
}

// Remaining returns the subject's total remaining capacity in bytes,
// grants plus free allowance.
func (m *Manager) Remaining(ctx context.Context, subjectID string) (int64, error) {
	return m.ledger.Remaining(ctx, subjectID)
}

// ValidGrants returns the subject's currently valid grants in store order.
func (m *Manager) ValidGrants(ctx context.Context, subjectID string) ([]*QuotaGrant, error) {
	return m.ledger.ValidGrants(ctx, subjectID)
}

// AdminResetConsumption zeroes a grant's consumption on behalf of actor.
func (m *Manager) AdminResetConsumption(ctx context.Context, grantID, actor string) error {
	return m.lifecycle.AdminResetConsumption(ctx, grantID, actor)
}

// AdminDeactivate retires a grant outside the expiry sweep.
func (m *Manager) AdminDeactivate(ctx context.Context, grantID, actor string) error {
	return m.lifecycle.AdminDeactivate(ctx, grantID, actor)
}

// AdminDelete physically removes a grant.
func (m *Manager) AdminDelete(ctx context.Context, grantID, actor string) error {
	return m.lifecycle.AdminDelete(ctx, grantID, actor)
}

// Catalog returns the tier catalog in use.
func (m *Manager) Catalog() *Catalog {
	return m.config.Catalog
}
