package quotaledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/quotaledger/quotaledger/pkg/quotaledger"
)

func TestGrant_UnknownTier(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.manager.Grant(ctx, "subj-1", "platinum", "pay-001"); err != quotaledger.ErrUnknownTier {
		t.Errorf("Expected ErrUnknownTier, got %v", err)
	}

	grants, _ := env.manager.ValidGrants(ctx, "subj-1")
	if len(grants) != 0 {
		t.Error("Rejected purchase created a grant")
	}
}

func TestGrant_BonusByteLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Standard is 25 GB with a 5% bonus.
	grant, err := env.manager.Grant(ctx, "subj-1", "standard", "pay-001")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	want := 25 * quotaledger.GiB * 105 / 100
	if grant.ByteLimit != want {
		t.Errorf("Byte limit = %d, want %d", grant.ByteLimit, want)
	}
}

func TestGrant_ExpiryWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	grant, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-001")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	if !grant.GrantedAt.Equal(env.clock.Now()) {
		t.Errorf("GrantedAt = %v, want %v", grant.GrantedAt, env.clock.Now())
	}
	wantExpiry := env.clock.Now().AddDays(35)
	if !grant.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("ExpiresAt = %v, want %v", grant.ExpiresAt, wantExpiry)
	}
}

func TestSweepExpired_RetiresAndCounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	expiring, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-001")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	env.clock.Advance(10 * 24 * time.Hour)
	fresh, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-002")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	// 26 more days: the first grant (35d old +1h margin below) expires,
	// the second does not.
	env.clock.Advance(25*24*time.Hour + time.Hour)

	count, err := env.manager.SweepExpired(ctx, "cron")
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Retired = %d, want 1", count)
	}

	gotExpiring, _ := env.store.GetByID(ctx, expiring.ID)
	if gotExpiring.Active {
		t.Error("Expired grant still active after sweep")
	}
	gotFresh, _ := env.store.GetByID(ctx, fresh.ID)
	if !gotFresh.Active {
		t.Error("Unexpired grant was retired")
	}
}

func TestSweepExpired_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-001"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	env.clock.Advance(36 * 24 * time.Hour)

	first, err := env.manager.SweepExpired(ctx, "cron")
	if err != nil {
		t.Fatalf("First sweep failed: %v", err)
	}
	if first != 1 {
		t.Errorf("First sweep retired %d, want 1", first)
	}

	second, err := env.manager.SweepExpired(ctx, "cron")
	if err != nil {
		t.Fatalf("Second sweep failed: %v", err)
	}
	if second != 0 {
		t.Errorf("Second sweep retired %d, want 0", second)
	}
}

func TestSweepExpired_NothingToDo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	count, err := env.manager.SweepExpired(ctx, "cron")
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Retired = %d, want 0", count)
	}
}

func TestSweepExpired_RetiredGrantExcludedFromCharges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-001"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	env.clock.Advance(36 * 24 * time.Hour)
	if _, err := env.manager.SweepExpired(ctx, "cron"); err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}

	result, err := env.manager.Charge(ctx, "subj-1", quotaledger.GiB)
	if err != nil {
		t.Fatalf("Charge failed: %v", err)
	}
	if !result.NoValidGrants {
		t.Error("Charge against retired grant should report no valid grants")
	}
}

func TestExpiry_Boundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	grant, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-001")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	// One microsecond before expiry the grant is still valid.
	beforeExpiry := grant.ExpiresAt.Add(-time.Microsecond)
	if !grant.Valid(beforeExpiry) {
		t.Error("Grant should be valid one microsecond before expiry")
	}

	// At the expiry instant exactly, it is expired.
	if grant.Valid(grant.ExpiresAt) {
		t.Error("Grant should be expired at the expiry instant")
	}

	// The charge path agrees with the model.
	env.clock.now = grant.ExpiresAt
	result, err := env.manager.Charge(ctx, "subj-1", quotaledger.GiB)
	if err != nil {
		t.Fatalf("Charge failed: %v", err)
	}
	if !result.NoValidGrants {
		t.Error("Charge at the expiry instant should find no valid grants")
	}
}
