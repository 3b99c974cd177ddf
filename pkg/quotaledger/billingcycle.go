package quotaledger

import (
	"context"
	"time"
)

// BillingCycle periodically zeroes device counters whose billing anchor has
// aged past the billing interval. Device cycles are independent of grant
// expiry: a device can be mid-cycle while all of its subject's grants have
// expired, and vice versa.
type BillingCycle struct {
	counters DeviceCounterStore
	interval time.Duration
	logger   Logger
	metrics  Metrics
}

// NewBillingCycle creates a device billing-cycle sweeper.
func NewBillingCycle(counters DeviceCounterStore, cfg *Config) *BillingCycle {
	return &BillingCycle{
		counters: counters,
		interval: cfg.BillingInterval,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Tick resets every counter whose anchor is at least one interval old and
// returns the count reset. The reset moves the anchor to now, so repeated
// ticks inside one interval leave the counter untouched; that anchor update
// is the idempotence guard. Individual row failures are skipped and excluded
// from the count.
func (b *BillingCycle) Tick(ctx context.Context, now Instant) (int, error) {
	start := time.Now()
	counters, err := b.counters.GetAll(ctx)
	b.metrics.RecordStoreOperation("get_all_counters", time.Since(start), err)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, c := range counters {
		if now.Sub(c.BillingAnchor) < b.interval {
			continue
		}
		start := time.Now()
		err := b.counters.Reset(ctx, c.ID, now)
		b.metrics.RecordStoreOperation("reset_counter", time.Since(start), err)
		if err != nil {
			b.logger.Warn("billing tick skipping counter",
				Field{Key: "counter_id", Value: c.ID},
				Field{Key: "error", Value: err.Error()})
			continue
		}
		reset++
	}

	if reset > 0 {
		b.logger.Info("billing cycle tick complete",
			Field{Key: "reset", Value: reset})
	}
	b.metrics.RecordBillingTick(reset)
	return reset, nil
}
