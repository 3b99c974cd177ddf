package quotaledger

import (
	"fmt"
	"time"
)

// DefaultBillingInterval is how often device counters are eligible for a
// cycle reset.
const DefaultBillingInterval = 30 * 24 * time.Hour

// Config holds manager configuration.
type Config struct {
	// Catalog is the set of purchasable tiers (default: DefaultCatalog).
	Catalog *Catalog

	// BillingInterval is the device-counter reset interval
	// (default: 30 days).
	BillingInterval time.Duration

	// LockStripes sizes the per-subject lock table (default: 64).
	LockStripes int

	// IncrementRetries is how many times a failed single-grant increment
	// is retried before the charge reports partial progress (default: 1).
	IncrementRetries int

	// Clock supplies the current instant (default: SystemClock).
	Clock Clock

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics is used for tracking accounting operations
	// (default: NoopMetrics).
	Metrics Metrics
}

// Validate checks the configuration for values that would silently break
// accounting, returning a descriptive error for the first problem found.
func (c *Config) Validate() error {
	if c.Catalog != nil && c.Catalog.Len() == 0 {
		return fmt.Errorf("config: catalog has no tiers")
	}
	if c.Catalog != nil {
		for _, t := range c.Catalog.Tiers() {
			if t.GB <= 0 {
				return fmt.Errorf("config: tier %q has non-positive size %d GB", t.Name, t.GB)
			}
			if t.BonusPercent < 0 {
				return fmt.Errorf("config: tier %q has negative bonus %d%%", t.Name, t.BonusPercent)
			}
			if t.DurationDays <= 0 {
				return fmt.Errorf("config: tier %q has non-positive duration %d days", t.Name, t.DurationDays)
			}
		}
	}
	if c.BillingInterval < 0 {
		return fmt.Errorf("config: negative billing interval %s", c.BillingInterval)
	}
	if c.LockStripes < 0 {
		return fmt.Errorf("config: negative lock stripe count %d", c.LockStripes)
	}
	if c.IncrementRetries < 0 {
		return fmt.Errorf("config: negative increment retry count %d", c.IncrementRetries)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Catalog == nil {
		c.Catalog = DefaultCatalog()
	}
	if c.BillingInterval == 0 {
		c.BillingInterval = DefaultBillingInterval
	}
	if c.LockStripes == 0 {
		c.LockStripes = 64
	}
	if c.IncrementRetries == 0 {
		c.IncrementRetries = 1
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = &NoopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = &NoopMetrics{}
	}
}
