package quotaledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/quotaledger/quotaledger/pkg/quotaledger"
	"github.com/quotaledger/quotaledger/storage/memory"
)

func TestCharge_ExactAllocation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	grant, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-001")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	result, err := env.manager.Charge(ctx, "subj-1", 3*quotaledger.GiB)
	if err != nil {
		t.Fatalf("Charge failed: %v", err)
	}

	if result.ChargedBytes != 3*quotaledger.GiB {
		t.Errorf("Charged = %d, want %d", result.ChargedBytes, 3*quotaledger.GiB)
	}
	if result.UnsatisfiedBytes != 0 {
		t.Errorf("Unsatisfied = %d, want 0", result.UnsatisfiedBytes)
	}

	got, _ := env.store.GetByID(ctx, grant.ID)
	if got.BytesConsumed != 3*quotaledger.GiB {
		t.Errorf("Consumed = %d, want %d", got.BytesConsumed, 3*quotaledger.GiB)
	}
}

func TestCharge_OverflowAcrossGrants(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Grant A has 1 GiB remaining, grant B 5 GiB, in store order A then B.
	grantA, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-a")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if err := env.store.IncrementConsumed(ctx, grantA.ID, 9*quotaledger.GiB); err != nil {
		t.Fatalf("IncrementConsumed failed: %v", err)
	}
	grantB, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-b")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if err := env.store.IncrementConsumed(ctx, grantB.ID, 5*quotaledger.GiB); err != nil {
		t.Fatalf("IncrementConsumed failed: %v", err)
	}

	result, err := env.manager.Charge(ctx, "subj-1", 4*quotaledger.GiB)
	if err != nil {
		t.Fatalf("Charge failed: %v", err)
	}
	if result.ChargedBytes != 4*quotaledger.GiB {
		t.Errorf("Charged = %d, want %d", result.ChargedBytes, 4*quotaledger.GiB)
	}

	gotA, _ := env.store.GetByID(ctx, grantA.ID)
	if gotA.Remaining() != 0 {
		t.Errorf("Grant A remaining = %d, want 0", gotA.Remaining())
	}
	gotB, _ := env.store.GetByID(ctx, grantB.ID)
	if gotB.Remaining() != 2*quotaledger.GiB {
		t.Errorf("Grant B remaining = %d, want %d", gotB.Remaining(), 2*quotaledger.GiB)
	}

	if len(result.Draws) != 2 {
		t.Fatalf("Expected 2 draws, got %d", len(result.Draws))
	}
	if result.Draws[0].GrantID != grantA.ID || result.Draws[0].Bytes != quotaledger.GiB {
		t.Errorf("Unexpected first draw: %+v", result.Draws[0])
	}
	if result.Draws[1].GrantID != grantB.ID || result.Draws[1].Bytes != 3*quotaledger.GiB {
		t.Errorf("Unexpected second draw: %+v", result.Draws[1])
	}
}

func TestCharge_UnsatisfiedRemainderDropped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	grant, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-001")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if err := env.store.IncrementConsumed(ctx, grant.ID, 9*quotaledger.GiB); err != nil {
		t.Fatalf("IncrementConsumed failed: %v", err)
	}
	// Free allowance must not absorb the overflow.
	env.store.SetAllowance(ctx, &quotaledger.FreeAllowance{
		SubjectID: "subj-1",
		ByteLimit: 100 * quotaledger.GiB,
	})

	result, err := env.manager.Charge(ctx, "subj-1", 5*quotaledger.GiB)
	if err != nil {
		t.Fatalf("Charge failed: %v", err)
	}

	if result.ChargedBytes != quotaledger.GiB {
		t.Errorf("Charged = %d, want %d", result.ChargedBytes, quotaledger.GiB)
	}
	if result.UnsatisfiedBytes != 4*quotaledger.GiB {
		t.Errorf("Unsatisfied = %d, want %d", result.UnsatisfiedBytes, 4*quotaledger.GiB)
	}

	got, _ := env.store.GetByID(ctx, grant.ID)
	if got.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", got.Remaining())
	}
	free, _ := env.store.GetRemaining(ctx, "subj-1")
	if free != 100*quotaledger.GiB {
		t.Errorf("Free allowance was touched: remaining = %d", free)
	}
}

func TestCharge_NoValidGrants(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.manager.Charge(ctx, "subj-none", 2*quotaledger.GiB)
	if err != nil {
		t.Fatalf("Charge with no grants must not fail: %v", err)
	}
	if !result.NoValidGrants {
		t.Error("Expected NoValidGrants signal")
	}
	if result.ChargedBytes != 0 || result.UnsatisfiedBytes != 2*quotaledger.GiB {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestCharge_NonPositiveDelta(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	grant, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-001")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	if _, err := env.manager.Charge(ctx, "subj-1", 0); err != quotaledger.ErrInvalidAmount {
		t.Errorf("Expected ErrInvalidAmount for zero delta, got %v", err)
	}
	if _, err := env.manager.Charge(ctx, "subj-1", -quotaledger.GiB); err != quotaledger.ErrInvalidAmount {
		t.Errorf("Expected ErrInvalidAmount for negative delta, got %v", err)
	}

	got, _ := env.store.GetByID(ctx, grant.ID)
	if got.BytesConsumed != 0 {
		t.Errorf("Rejected charge mutated state: consumed = %d", got.BytesConsumed)
	}
}

func TestCharge_SkipsDrainedGrants(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	grantA, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-a")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if err := env.store.IncrementConsumed(ctx, grantA.ID, 10*quotaledger.GiB); err != nil {
		t.Fatalf("IncrementConsumed failed: %v", err)
	}
	grantB, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-b")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	result, err := env.manager.Charge(ctx, "subj-1", quotaledger.GiB)
	if err != nil {
		t.Fatalf("Charge failed: %v", err)
	}
	if len(result.Draws) != 1 || result.Draws[0].GrantID != grantB.ID {
		t.Errorf("Expected single draw from grant B, got %+v", result.Draws)
	}
}

// flakyGrantStore fails IncrementConsumed a fixed number of times before
// delegating to the wrapped store.
type flakyGrantStore struct {
	*memory.Storage
	failures int
	calls    int
}

var errStoreDown = errors.New("store down")

func (f *flakyGrantStore) IncrementConsumed(ctx context.Context, grantID string, delta int64) error {
	f.calls++
	if f.calls <= f.failures {
		return errStoreDown
	}
	return f.Storage.IncrementConsumed(ctx, grantID, delta)
}

func TestCharge_PartialFailureReportsProgress(t *testing.T) {
	store := memory.New()
	clock := &movableClock{now: quotaledger.NowUTC()}

	// Two grants of 1 GiB each; the store starts failing permanently after
	// the first successful increment.
	flaky := &flakyGrantStore{Storage: store}
	manager, err := quotaledger.NewManager(flaky, store, store, quotaledger.Config{Clock: clock})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	ctx := context.Background()

	grantA, err := manager.Grant(ctx, "subj-1", "basic", "pay-a")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if err := store.IncrementConsumed(ctx, grantA.ID, 9*quotaledger.GiB); err != nil {
		t.Fatalf("IncrementConsumed failed: %v", err)
	}
	if _, err := manager.Grant(ctx, "subj-1", "basic", "pay-b"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	// Fail every increment attempt from now on (default config retries
	// once, so 2 attempts per grant).
	flaky.failures = 1 << 30
	flaky.calls = 0

	result, err := manager.Charge(ctx, "subj-1", 4*quotaledger.GiB)
	if err == nil {
		t.Fatal("Expected charge error")
	}
	var chargeErr *quotaledger.ChargeError
	if !errors.As(err, &chargeErr) {
		t.Fatalf("Expected *ChargeError, got %T: %v", err, err)
	}
	if chargeErr.Charged != 0 {
		t.Errorf("ChargeError.Charged = %d, want 0", chargeErr.Charged)
	}
	if chargeErr.Unsatisfied != 4*quotaledger.GiB {
		t.Errorf("ChargeError.Unsatisfied = %d, want %d", chargeErr.Unsatisfied, 4*quotaledger.GiB)
	}
	if chargeErr.GrantID != grantA.ID {
		t.Errorf("ChargeError.GrantID = %s, want %s", chargeErr.GrantID, grantA.ID)
	}
	if !errors.Is(err, errStoreDown) {
		t.Error("ChargeError should wrap the store error")
	}
	if result.ChargedBytes != 0 {
		t.Errorf("Result charged = %d, want 0", result.ChargedBytes)
	}
}

func TestCharge_RetriesSingleGrantUpdate(t *testing.T) {
	store := memory.New()
	flaky := &flakyGrantStore{Storage: store, failures: 1}
	manager, err := quotaledger.NewManager(flaky, store, store, quotaledger.Config{})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	ctx := context.Background()

	grant, err := manager.Grant(ctx, "subj-1", "basic", "pay-001")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	flaky.calls = 0

	// One transient failure is absorbed by the per-grant retry.
	result, err := manager.Charge(ctx, "subj-1", quotaledger.GiB)
	if err != nil {
		t.Fatalf("Charge failed despite retry: %v", err)
	}
	if result.ChargedBytes != quotaledger.GiB {
		t.Errorf("Charged = %d, want %d", result.ChargedBytes, quotaledger.GiB)
	}
	got, _ := store.GetByID(ctx, grant.ID)
	if got.BytesConsumed != quotaledger.GiB {
		t.Errorf("Consumed = %d, want %d (no double charge)", got.BytesConsumed, quotaledger.GiB)
	}
}
