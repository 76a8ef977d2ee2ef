// Package models holds the wire and persistence types shared by the API,
// the result store and the CLI.
package models

import "time"

// ── Results ─────────────────────────────────────────────────

// RecordKind identifies which flow produced a record.
type RecordKind string

const (
	RecordClassification RecordKind = "classification"
	RecordAdvice         RecordKind = "advice"
)

// Record is one completed, rejected or failed request, kept for history.
type Record struct {
	ID         string     `json:"id"`
	Kind       RecordKind `json:"kind"`
	RequestID  string     `json:"requestId"`
	State      string     `json:"state"`
	Success    bool       `json:"success"`
	Provider   string     `json:"provider,omitempty"`
	Label      string     `json:"label,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	Severity   string     `json:"severity,omitempty"`
	Verdict    string     `json:"verdict,omitempty"`
	Condition  string     `json:"condition,omitempty"`
	ErrorKind  string     `json:"errorKind,omitempty"`
	LatencyMs  int64      `json:"latencyMs"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// ── Errors ──────────────────────────────────────────────────

// Attempt is one failed provider call.
type Attempt struct {
	Provider   string `json:"provider"`
	Kind       string `json:"kind"`
	StatusCode int    `json:"statusCode,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Skipped is a provider that was not attempted.
type Skipped struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// ErrorBody is the structured error detail in failed responses.
type ErrorBody struct {
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
	Attempts []Attempt `json:"attempts,omitempty"`
	Skipped  []Skipped `json:"skipped,omitempty"`
}

// ── Prediction ──────────────────────────────────────────────

// PredictResponse is returned by POST /api/v1/predict.
type PredictResponse struct {
	Success        bool       `json:"success"`
	Prediction     string     `json:"prediction,omitempty"`
	Confidence     float64    `json:"confidence"`
	Severity       string     `json:"severity,omitempty"`
	BelowThreshold bool       `json:"belowThreshold,omitempty"`
	InvalidClass   bool       `json:"invalidClass,omitempty"`
	Message        string     `json:"message"`
	Provider       string     `json:"provider,omitempty"`
	RequestID      string     `json:"requestId"`
	Error          *ErrorBody `json:"error,omitempty"`
}

// ── Advice ──────────────────────────────────────────────────

// AdviceRequest is the body of POST /api/v1/advice.
type AdviceRequest struct {
	Condition  string   `json:"condition"`
	Symptoms   string   `json:"symptoms,omitempty"`
	Severity   string   `json:"severity,omitempty"`
	Duration   string   `json:"duration,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// AdviceMetadata describes how advice was produced.
type AdviceMetadata struct {
	ProviderUsed     string `json:"providerUsed,omitempty"`
	ProviderKind     string `json:"providerKind,omitempty"`
	GenerationTimeMs int64  `json:"generationTimeMs"`
	RequestID        string `json:"requestId"`
}

// AdviceResponse is returned by POST /api/v1/advice.
type AdviceResponse struct {
	Success  bool           `json:"success"`
	Advice   string         `json:"advice,omitempty"`
	Metadata AdviceMetadata `json:"metadata"`
	Error    *ErrorBody     `json:"error,omitempty"`
}

// ── Providers ───────────────────────────────────────────────

// ProviderHealth is the cached health of one provider.
type ProviderHealth struct {
	Available     bool       `json:"available"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
	Stale         bool       `json:"stale"`
	LastError     string     `json:"lastError,omitempty"`
}

// ProviderInfo is a provider's configuration with credentials masked.
type ProviderInfo struct {
	Name               string          `json:"name"`
	Kind               string          `json:"kind"`
	Serves             string          `json:"serves"`
	Endpoint           string          `json:"endpoint,omitempty"`
	Model              string          `json:"model,omitempty"`
	HasCredential      bool            `json:"hasCredential"`
	RequiresCredential bool            `json:"requiresCredential"`
	RequiresHealth     bool            `json:"requiresHealth"`
	TimeoutMs          int64           `json:"timeoutMs"`
	Health             *ProviderHealth `json:"health,omitempty"`
}

// ProvidersResponse is returned by GET /api/v1/providers.
type ProvidersResponse struct {
	Providers           []ProviderInfo `json:"providers"`
	ConfidenceThreshold float64        `json:"confidenceThreshold"`
	Labels              []string       `json:"labels"`
	HealthStaleAfterMs  int64          `json:"healthStaleAfterMs"`
	RecordsStored       *int           `json:"recordsStored,omitempty"`
}
