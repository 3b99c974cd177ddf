// Package schedule runs the periodic accounting jobs: the expiry sweep that
// retires grants past their expiry instant, and the billing-cycle tick that
// resets eligible device counters.
package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// QuotaService is the slice of the manager the scheduler drives.
type QuotaService interface {
	SweepExpired(ctx context.Context, actor string) (int, error)
	TickBillingCycle(ctx context.Context, now time.Time) (int, error)
}

const (
	// DefaultSweepSpec runs the expiry sweep at the top of every hour.
	DefaultSweepSpec = "0 * * * *"

	// DefaultBillingSpec runs the billing-cycle tick daily at 00:05 UTC.
	// The tick itself decides which counters are eligible, so running it
	// more often than the billing interval is harmless.
	DefaultBillingSpec = "5 0 * * *"

	sweepActor = "scheduler"
)

// Config holds scheduler configuration.
type Config struct {
	// SweepSpec is the cron expression for the expiry sweep
	// (default: hourly).
	SweepSpec string

	// BillingSpec is the cron expression for the billing-cycle tick
	// (default: daily at 00:05 UTC).
	BillingSpec string
}

// Scheduler runs the sweep and billing jobs on cron schedules.
type Scheduler struct {
	service QuotaService
	config  Config
	cron    *cron.Cron
	logger  zerolog.Logger
	mu      sync.Mutex
	running bool
}

// New creates a scheduler over the given service.
func New(service QuotaService, config Config, logger zerolog.Logger) *Scheduler {
	if config.SweepSpec == "" {
		config.SweepSpec = DefaultSweepSpec
	}
	if config.BillingSpec == "" {
		config.BillingSpec = DefaultBillingSpec
	}
	return &Scheduler{
		service: service,
		config:  config,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		logger:  logger.With().Str("component", "schedule").Logger(),
	}
}

// Start registers the jobs and begins the schedules.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.config.SweepSpec, s.runSweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.config.BillingSpec, s.runBillingTick); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("sweep_spec", s.config.SweepSpec).
		Str("billing_spec", s.config.BillingSpec).
		Msg("scheduler started")

	return nil
}

// Stop stops the scheduler gracefully. The returned context is done when all
// in-flight jobs have finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping scheduler")
	return s.cron.Stop()
}

// RunNow triggers both jobs immediately, concurrently, and returns the first
// error. Useful at startup and in tests.
func (s *Scheduler) RunNow(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.sweep(ctx) })
	g.Go(func() error { return s.billingTick(ctx) })
	return g.Wait()
}

func (s *Scheduler) runSweep() {
	if err := s.sweep(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("expiry sweep failed")
	}
}

func (s *Scheduler) sweep(ctx context.Context) error {
	retired, err := s.service.SweepExpired(ctx, sweepActor)
	if err != nil {
		return err
	}
	s.logger.Info().
		Int("retired", retired).
		Msg("expiry sweep completed")
	return nil
}

func (s *Scheduler) runBillingTick() {
	if err := s.billingTick(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("billing tick failed")
	}
}

func (s *Scheduler) billingTick(ctx context.Context) error {
	reset, err := s.service.TickBillingCycle(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	s.logger.Info().
		Int("reset", reset).
		Msg("billing tick completed")
	return nil
}
