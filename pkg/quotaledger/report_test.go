package quotaledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/quotaledger/quotaledger/pkg/quotaledger"
)

func TestBuildReport_TotalsOverValidGrantsOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	expired, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-001")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if err := env.store.IncrementConsumed(ctx, expired.ID, 4*quotaledger.GiB); err != nil {
		t.Fatalf("IncrementConsumed failed: %v", err)
	}

	env.clock.Advance(36 * 24 * time.Hour)
	live, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-002")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if err := env.store.IncrementConsumed(ctx, live.ID, 2*quotaledger.GiB); err != nil {
		t.Fatalf("IncrementConsumed failed: %v", err)
	}

	report, err := env.manager.BuildReport(ctx, "subj-1")
	if err != nil {
		t.Fatalf("BuildReport failed: %v", err)
	}

	// The expired grant physically exists but must not show up anywhere.
	if len(report.Grants) != 1 {
		t.Fatalf("Expected 1 grant in report, got %d", len(report.Grants))
	}
	if report.TotalLimit != 10*quotaledger.GiB {
		t.Errorf("TotalLimit = %d, want %d", report.TotalLimit, 10*quotaledger.GiB)
	}
	if report.TotalUsed != 2*quotaledger.GiB {
		t.Errorf("TotalUsed = %d, want %d", report.TotalUsed, 2*quotaledger.GiB)
	}
	if report.RemainingTotal != 8*quotaledger.GiB {
		t.Errorf("RemainingTotal = %d, want %d", report.RemainingTotal, 8*quotaledger.GiB)
	}
}

func TestBuildReport_IncludesFreeAllowance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.SetAllowance(ctx, &quotaledger.FreeAllowance{
		SubjectID: "subj-1",
		ByteLimit: 3 * quotaledger.GiB,
		BytesUsed: quotaledger.GiB,
	})
	if _, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-001"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	report, err := env.manager.BuildReport(ctx, "subj-1")
	if err != nil {
		t.Fatalf("BuildReport failed: %v", err)
	}
	if report.FreeRemaining != 2*quotaledger.GiB {
		t.Errorf("FreeRemaining = %d, want %d", report.FreeRemaining, 2*quotaledger.GiB)
	}
	if report.RemainingTotal != 12*quotaledger.GiB {
		t.Errorf("RemainingTotal = %d, want %d", report.RemainingTotal, 12*quotaledger.GiB)
	}
}

func TestBuildReport_EmptySubject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.store.SetAllowance(ctx, &quotaledger.FreeAllowance{
		SubjectID: "subj-1",
		ByteLimit: quotaledger.GiB,
	})

	report, err := env.manager.BuildReport(ctx, "subj-1")
	if err != nil {
		t.Fatalf("BuildReport failed: %v", err)
	}
	if len(report.Grants) != 0 {
		t.Errorf("Expected no grants, got %d", len(report.Grants))
	}
	if report.RemainingTotal != quotaledger.GiB {
		t.Errorf("RemainingTotal = %d, want free allowance only", report.RemainingTotal)
	}
}

func TestBuildReport_DaysRemainingFloors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-001"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	// 1.5 days into the 35-day window: 33.5 days left floors to 33.
	env.clock.Advance(36 * time.Hour)
	report, err := env.manager.BuildReport(ctx, "subj-1")
	if err != nil {
		t.Fatalf("BuildReport failed: %v", err)
	}
	if report.Grants[0].DaysRemaining != 33 {
		t.Errorf("DaysRemaining = %d, want 33", report.Grants[0].DaysRemaining)
	}
}

func TestBuildReport_DisplayName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.manager.Grant(ctx, "subj-1", "premium", "pay-001"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}

	report, err := env.manager.BuildReport(ctx, "subj-1")
	if err != nil {
		t.Fatalf("BuildReport failed: %v", err)
	}
	if report.Grants[0].DisplayName != "Premium" {
		t.Errorf("DisplayName = %q, want %q", report.Grants[0].DisplayName, "Premium")
	}
}

// Consumption may transiently exceed the limit under an administrative
// increment; the report clamps at zero instead of going negative.
func TestBuildReport_OverconsumedClampsAtZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	grant, err := env.manager.Grant(ctx, "subj-1", "basic", "pay-001")
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if err := env.store.IncrementConsumed(ctx, grant.ID, 12*quotaledger.GiB); err != nil {
		t.Fatalf("IncrementConsumed failed: %v", err)
	}

	report, err := env.manager.BuildReport(ctx, "subj-1")
	if err != nil {
		t.Fatalf("BuildReport failed: %v", err)
	}
	if report.Grants[0].Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", report.Grants[0].Remaining)
	}
	if report.RemainingTotal != 0 {
		t.Errorf("RemainingTotal = %d, want 0", report.RemainingTotal)
	}
}

func TestToGB(t *testing.T) {
	if got := quotaledger.ToGB(quotaledger.GiB); got != 1.0 {
		t.Errorf("ToGB(1 GiB) = %v, want 1.0", got)
	}
	if got := quotaledger.ToGB(quotaledger.GiB / 2); got != 0.5 {
		t.Errorf("ToGB(0.5 GiB) = %v, want 0.5", got)
	}
}
