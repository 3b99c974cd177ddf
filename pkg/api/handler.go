// Package api provides HTTP endpoints over the quota manager: usage
// inspection, purchase grants, usage charges, and the expiry sweep.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/quotaledger/quotaledger/pkg/quotaledger"
)

const (
	maxSubjectIDLen = 255
	defaultActor    = "api"
)

// Handler provides HTTP endpoints for quota inspection and mutation.
type Handler struct {
	config Config
}

// GetUsage returns the subject's current usage report as JSON.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subjectID(w, r)
	if !ok {
		return
	}

	report, err := h.config.Manager.BuildReport(r.Context(), subjectID)
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to build usage report: %w", err), http.StatusInternalServerError)
		return
	}

	response := UsageResponse{
		SubjectID:       report.SubjectID,
		TotalLimitBytes: report.TotalLimit,
		TotalUsedBytes:  report.TotalUsed,
		FreeBytes:       report.FreeRemaining,
		RemainingBytes:  report.RemainingTotal,
		TotalLimitGB:    roundGB(report.TotalLimit),
		TotalUsedGB:     roundGB(report.TotalUsed),
		RemainingGB:     roundGB(report.RemainingTotal),
		Grants:          make([]GrantUsage, 0, len(report.Grants)),
		GeneratedAt:     report.GeneratedAt.Time(),
	}
	for _, g := range report.Grants {
		response.Grants = append(response.Grants, GrantUsage{
			GrantID:        g.GrantID,
			Tier:           g.Tier,
			DisplayName:    g.DisplayName,
			LimitBytes:     g.ByteLimit,
			ConsumedBytes:  g.BytesConsumed,
			RemainingBytes: g.Remaining,
			RemainingGB:    roundGB(g.Remaining),
			DaysRemaining:  g.DaysRemaining,
			ExpiresAt:      g.ExpiresAt.Time(),
		})
	}

	h.writeJSON(w, http.StatusOK, response)
}

// CreateGrant creates a grant for a validated purchase. Payment validation
// happens upstream; this endpoint trusts the reference it is given.
func (h *Handler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subjectID(w, r)
	if !ok {
		return
	}

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}
	if req.Tier == "" {
		h.handleError(w, r, fmt.Errorf("tier is required"), http.StatusBadRequest)
		return
	}

	grant, err := h.config.Manager.Grant(r.Context(), subjectID, req.Tier, req.PaymentReference)
	if errors.Is(err, quotaledger.ErrUnknownTier) {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to create grant: %w", err), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, GrantResponse{
		GrantID:    grant.ID,
		SubjectID:  grant.SubjectID,
		Tier:       grant.Tier,
		LimitBytes: grant.ByteLimit,
		GrantedAt:  grant.GrantedAt.Time(),
		ExpiresAt:  grant.ExpiresAt.Time(),
	})
}

// Charge draws bytes from the subject's valid grants.
func (h *Handler) Charge(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subjectID(w, r)
	if !ok {
		return
	}

	var req ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
		return
	}

	result, err := h.config.Manager.Charge(r.Context(), subjectID, req.Bytes)
	if errors.Is(err, quotaledger.ErrInvalidAmount) {
		h.handleError(w, r, err, http.StatusBadRequest)
		return
	}
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to charge: %w", err), http.StatusInternalServerError)
		return
	}

	response := ChargeResponse{
		ChargedBytes:     result.ChargedBytes,
		UnsatisfiedBytes: result.UnsatisfiedBytes,
		NoValidGrants:    result.NoValidGrants,
		Draws:            make([]DrawUsage, 0, len(result.Draws)),
	}
	for _, d := range result.Draws {
		response.Draws = append(response.Draws, DrawUsage{GrantID: d.GrantID, Bytes: d.Bytes})
	}

	h.writeJSON(w, http.StatusOK, response)
}

// SweepExpired retires all grants past their expiry instant.
func (h *Handler) SweepExpired(w http.ResponseWriter, r *http.Request) {
	retired, err := h.config.Manager.SweepExpired(r.Context(), h.actor(r))
	if err != nil {
		h.handleError(w, r, fmt.Errorf("sweep failed: %w", err), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, SweepResponse{Retired: retired})
}

func (h *Handler) subjectID(w http.ResponseWriter, r *http.Request) (string, bool) {
	subjectID := h.config.GetSubjectID(r)
	if subjectID == "" {
		h.handleError(w, r, fmt.Errorf("subject ID not found"), http.StatusUnauthorized)
		return "", false
	}
	if len(subjectID) > maxSubjectIDLen {
		h.handleError(w, r, fmt.Errorf("invalid subject ID format"), http.StatusBadRequest)
		return "", false
	}
	return subjectID, true
}

func (h *Handler) actor(r *http.Request) string {
	if h.config.GetActor != nil {
		if actor := h.config.GetActor(r); actor != "" {
			return actor
		}
	}
	return defaultActor
}

// roundGB converts raw bytes to binary gigabytes rounded to two decimals.
// Rounding happens here, at the presentation edge, never in the core.
func roundGB(bytes int64) float64 {
	return math.Round(quotaledger.ToGB(bytes)*100) / 100
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Response already sent; nothing useful to do.
		return
	}
}

// handleError handles errors with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	errorResponse := map[string]string{
		"error": err.Error(),
	}
	if encodeErr := json.NewEncoder(w).Encode(errorResponse); encodeErr != nil {
		_ = encodeErr
	}
}
