package api

import "time"

// UsageResponse is the wire form of a subject's usage report. Byte figures
// are exact; the GB views are rounded for display only.
type UsageResponse struct {
	SubjectID string `json:"subject_id"`

	TotalLimitBytes int64 `json:"total_limit_bytes"`
	TotalUsedBytes  int64 `json:"total_used_bytes"`
	FreeBytes       int64 `json:"free_bytes"`
	RemainingBytes  int64 `json:"remaining_bytes"`

	TotalLimitGB float64 `json:"total_limit_gb"`
	TotalUsedGB  float64 `json:"total_used_gb"`
	RemainingGB  float64 `json:"remaining_gb"`

	Grants []GrantUsage `json:"grants"`

	GeneratedAt time.Time `json:"generated_at"`
}

// GrantUsage is the per-grant detail inside a UsageResponse.
type GrantUsage struct {
	GrantID        string    `json:"grant_id"`
	Tier           string    `json:"tier"`
	DisplayName    string    `json:"display_name"`
	LimitBytes     int64     `json:"limit_bytes"`
	ConsumedBytes  int64     `json:"consumed_bytes"`
	RemainingBytes int64     `json:"remaining_bytes"`
	RemainingGB    float64   `json:"remaining_gb"`
	DaysRemaining  int       `json:"days_remaining"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// GrantRequest is the body of a grant-creation request for a validated
// purchase.
type GrantRequest struct {
	Tier             string `json:"tier"`
	PaymentReference string `json:"payment_reference"`
}

// GrantResponse echoes the created grant.
type GrantResponse struct {
	GrantID    string    `json:"grant_id"`
	SubjectID  string    `json:"subject_id"`
	Tier       string    `json:"tier"`
	LimitBytes int64     `json:"limit_bytes"`
	GrantedAt  time.Time `json:"granted_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ChargeRequest is the body of a usage-charge request.
type ChargeRequest struct {
	Bytes int64 `json:"bytes"`
}

// ChargeResponse reports how the charge was apportioned.
type ChargeResponse struct {
	ChargedBytes     int64       `json:"charged_bytes"`
	UnsatisfiedBytes int64       `json:"unsatisfied_bytes"`
	NoValidGrants    bool        `json:"no_valid_grants"`
	Draws            []DrawUsage `json:"draws"`
}

// DrawUsage is one per-grant draw inside a ChargeResponse.
type DrawUsage struct {
	GrantID string `json:"grant_id"`
	Bytes   int64  `json:"bytes"`
}

// SweepResponse reports the outcome of an expiry sweep.
type SweepResponse struct {
	Retired int `json:"retired"`
}
