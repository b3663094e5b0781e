package domain

import "time"

// Report wraps a verdict with the identifiers and processing data of one validation.
type Report struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	DocumentID string    `json:"documentId"`
	Schema     Schema    `json:"schema"`
	Verdict    Verdict   `json:"verdict"`
	CreatedAt  time.Time `json:"createdAt"`

	// Processing metadata
	Metadata ReportMetadata `json:"metadata"`
}

// ReportMetadata contains processing information.
type ReportMetadata struct {
	TraceID        string `json:"traceId"`
	Fingerprint    string `json:"fingerprint"`
	ValidateMs     int64  `json:"validateMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	EngineVersion  string `json:"engineVersion"`
	Cached         bool   `json:"cached"`
}

// ReportResponse is the API response for a validation.
type ReportResponse struct {
	ReportID   string         `json:"reportId"`
	DocumentID string         `json:"documentId"`
	TenantID   string         `json:"tenantId"`
	Schema     string         `json:"schema"`
	Status     string         `json:"status"` // "PASS", "REVIEW" or "FAIL"
	Verdict    Verdict        `json:"verdict"`
	Metadata   ReportMetadata `json:"metadata"`
}

// API-friendly status
const (
	StatusPass   = "PASS"
	StatusReview = "REVIEW"
	StatusFail   = "FAIL"
)

// Status summarizes the verdict: FAIL when invalid, REVIEW when valid with
// any fraud signal, PASS otherwise.
func (r *Report) Status() string {
	switch {
	case !r.Verdict.IsValid:
		return StatusFail
	case r.Verdict.FraudRisk != FraudRiskClean:
		return StatusReview
	default:
		return StatusPass
	}
}

// ToResponse converts a Report to an API response.
func (r *Report) ToResponse() *ReportResponse {
	return &ReportResponse{
		ReportID:   r.ID,
		DocumentID: r.DocumentID,
		TenantID:   r.TenantID,
		Schema:     r.Schema.Name,
		Status:     r.Status(),
		Verdict:    r.Verdict,
		Metadata:   r.Metadata,
	}
}
