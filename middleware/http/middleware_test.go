package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/quotaledger/quotaledger/pkg/quotaledger"
	"github.com/quotaledger/quotaledger/storage/memory"
)

func setupTestManager(t *testing.T) (*quotaledger.Manager, *memory.Storage) {
	t.Helper()

	store := memory.New()
	clock := quotaledger.FixedClock{
		Instant: quotaledger.At(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	manager, err := quotaledger.NewManager(store, store, store, quotaledger.Config{Clock: clock})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return manager, store
}

func grantQuota(t *testing.T, manager *quotaledger.Manager, subjectID string) {
	t.Helper()
	if _, err := manager.Grant(context.Background(), subjectID, "basic", "pay-test"); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
}

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	})
}

func TestMiddleware_ChargesResponseBytes(t *testing.T) {
	manager, _ := setupTestManager(t)
	grantQuota(t, manager, "subj-1")

	mw := Middleware(Config{
		Manager:      manager,
		GetSubjectID: FromHeader("X-Subject-ID"),
	})
	handler := mw(okHandler(strings.Repeat("x", 1024)))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("X-Subject-ID", "subj-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	report, err := manager.BuildReport(context.Background(), "subj-1")
	if err != nil {
		t.Fatalf("BuildReport failed: %v", err)
	}
	if report.TotalUsed != 1024 {
		t.Errorf("Expected 1024 bytes charged, got %d", report.TotalUsed)
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	manager, _ := setupTestManager(t)

	mw := Middleware(Config{
		Manager:      manager,
		GetSubjectID: FromHeader("X-Subject-ID"),
	})
	handler := mw(okHandler("hello"))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without subject, got %d", rec.Code)
	}
}

func TestMiddleware_ExhaustedQuota(t *testing.T) {
	manager, _ := setupTestManager(t)

	// No grants and no free allowance: remaining is zero.
	mw := Middleware(Config{
		Manager:      manager,
		GetSubjectID: FromHeader("X-Subject-ID"),
	})
	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("X-Subject-ID", "subj-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429 when exhausted, got %d", rec.Code)
	}
	if called {
		t.Error("Expected handler not to run when exhausted")
	}
}

func TestMiddleware_CustomExhaustedHandler(t *testing.T) {
	manager, _ := setupTestManager(t)

	mw := Middleware(Config{
		Manager:      manager,
		GetSubjectID: FromHeader("X-Subject-ID"),
		OnExhausted: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPaymentRequired)
		},
	})
	handler := mw(okHandler("hello"))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("X-Subject-ID", "subj-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected custom 402, got %d", rec.Code)
	}
}

func TestMiddleware_FreeAllowanceAdmits(t *testing.T) {
	manager, store := setupTestManager(t)

	store.SetAllowance(context.Background(), &quotaledger.FreeAllowance{
		SubjectID: "subj-1",
		ByteLimit: quotaledger.GiB,
	})

	mw := Middleware(Config{
		Manager:      manager,
		GetSubjectID: FromHeader("X-Subject-ID"),
	})
	handler := mw(okHandler("hello"))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("X-Subject-ID", "subj-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected free allowance to admit the request, got %d", rec.Code)
	}
}

func TestMiddleware_FromContext(t *testing.T) {
	manager, _ := setupTestManager(t)
	grantQuota(t, manager, "subj-ctx")

	mw := Middleware(Config{
		Manager:      manager,
		GetSubjectID: FromContext(SubjectIDKey),
	})
	handler := mw(okHandler("hello"))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req = req.WithContext(WithSubjectID(req.Context(), "subj-ctx"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with context subject, got %d", rec.Code)
	}
}

func TestHandlerFunc(t *testing.T) {
	manager, _ := setupTestManager(t)
	grantQuota(t, manager, "subj-1")

	mw := HandlerFunc(Config{
		Manager:      manager,
		GetSubjectID: FromHeader("X-Subject-ID"),
	})
	handler := mw(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("X-Subject-ID", "subj-1")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("Expected ok response, got %d %q", rec.Code, rec.Body.String())
	}
}
