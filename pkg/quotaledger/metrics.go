package quotaledger

import "time"

// Metrics defines the interface for tracking accounting operations.
type Metrics interface {
	// RecordCharge records a charge attempt with the amounts charged and
	// dropped.
	RecordCharge(subjectID string, chargedBytes, unsatisfiedBytes int64, success bool)

	// RecordNoValidGrants records a charge that found no valid grants.
	RecordNoValidGrants(subjectID string)

	// RecordGrantCreated records a successful purchase grant per tier.
	RecordGrantCreated(tier string, byteLimit int64)

	// RecordSweep records an expiry sweep with the number of grants
	// retired.
	RecordSweep(retired int)

	// RecordBillingTick records a billing-cycle tick with the number of
	// counters reset.
	RecordBillingTick(reset int)

	// RecordStoreOperation records the duration and status of a store
	// operation.
	RecordStoreOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordCharge(subjectID string, chargedBytes, unsatisfiedBytes int64, success bool) {
}
func (n *NoopMetrics) RecordNoValidGrants(subjectID string)                                    {}
func (n *NoopMetrics) RecordGrantCreated(tier string, byteLimit int64)                         {}
func (n *NoopMetrics) RecordSweep(retired int)                                                 {}
func (n *NoopMetrics) RecordBillingTick(reset int)                                             {}
func (n *NoopMetrics) RecordStoreOperation(operation string, duration time.Duration, err error) {}
