package store

import (
	"encoding/json"
	"time"

	"github.com/revittco/toolgate/internal/cost"
)

// Integration type tags (closed set).
const (
	TypeAIService      = "ai_service"
	TypeAutomation     = "automation"
	TypeCommunication  = "communication"
	TypeDevelopment    = "development"
	TypeDataProcessing = "data_processing"
	TypeMonitoring     = "monitoring"
	TypeAnalytics      = "analytics"
)

// ValidIntegrationType reports whether t is a known integration type.
func ValidIntegrationType(t string) bool {
	switch t {
	case TypeAIService, TypeAutomation, TypeCommunication, TypeDevelopment,
		TypeDataProcessing, TypeMonitoring, TypeAnalytics:
		return true
	}
	return false
}

// Authentication schemes.
const (
	AuthAPIKey = "api_key"
	AuthOAuth  = "oauth"
	AuthBasic  = "basic"
	AuthNone   = "none"
)

// ValidAuthType reports whether t is a known authentication scheme.
func ValidAuthType(t string) bool {
	switch t {
	case AuthAPIKey, AuthOAuth, AuthBasic, AuthNone:
		return true
	}
	return false
}

// AuthConfig describes how the gateway authenticates against the provider.
// Config carries non-secret parameters (header names, usernames); the secret
// material itself lives in the integration's encrypted secret region.
type AuthConfig struct {
	Type   string            `json:"type"`
	Config map[string]string `json:"config,omitempty"`
}

// RateLimitConfig bounds request admission for one integration.
// A value of 0 disables that particular check.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requestsPerMinute"`
	RequestsPerHour   int `json:"requestsPerHour"`
	RequestsPerDay    int `json:"requestsPerDay"`
	Concurrent        int `json:"concurrent"`
}

// Integration is a configured connection to one external capability provider.
type Integration struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Provider         string          `json:"provider,omitempty"`
	Type             string          `json:"type"`
	Version          string          `json:"version,omitempty"`
	Config           map[string]any  `json:"config,omitempty"`
	EncryptedSecrets []byte          `json:"-"`
	Authentication   AuthConfig      `json:"authentication"`
	Capabilities     []string        `json:"capabilities,omitempty"`
	RateLimit        RateLimitConfig `json:"rateLimit"`
	Cost             cost.Model      `json:"cost"`
	IsActive         bool            `json:"isActive"`
	Source           string          `json:"source,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// HasCapability reports whether the integration declares the given tool.
func (i *Integration) HasCapability(tool string) bool {
	for _, c := range i.Capabilities {
		if c == tool {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can't mutate stored state.
func (i *Integration) Clone() *Integration {
	out := *i
	if i.Config != nil {
		out.Config = make(map[string]any, len(i.Config))
		for k, v := range i.Config {
			out.Config[k] = v
		}
	}
	if i.Authentication.Config != nil {
		out.Authentication.Config = make(map[string]string, len(i.Authentication.Config))
		for k, v := range i.Authentication.Config {
			out.Authentication.Config[k] = v
		}
	}
	out.Capabilities = append([]string(nil), i.Capabilities...)
	out.EncryptedSecrets = append([]byte(nil), i.EncryptedSecrets...)
	return &out
}

// UsageStats are the running aggregate counters for one integration.
// SuccessfulRequests + FailedRequests == TotalRequests at all times.
type UsageStats struct {
	TotalRequests         int64       `json:"totalRequests"`
	SuccessfulRequests    int64       `json:"successfulRequests"`
	FailedRequests        int64       `json:"failedRequests"`
	AverageResponseTimeMs float64     `json:"averageResponseTimeMs"`
	TotalCost             cost.Amount `json:"totalCost"`
}

// Execution outcome statuses recorded in the execution log.
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusRateLimited = "rate_limited"
)

// ExecutionRecord is one row of the execution log: a terminal outcome of a
// single tool call (or a rate-limiter rejection, which never reaches the
// usage counters but is still visible here).
type ExecutionRecord struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	IntegrationID  string          `json:"integration_id"`
	ToolName       string          `json:"tool_name"`
	ParamsRedacted json.RawMessage `json:"params_redacted,omitempty"`
	CallerID       string          `json:"caller_id,omitempty"`
	Priority       string          `json:"priority,omitempty"`
	Status         string          `json:"status"`
	ErrorCode      string          `json:"error_code,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Attempts       int             `json:"attempts"`
	LatencyMs      int64           `json:"latency_ms"`
	Cost           cost.Amount     `json:"cost"`
	CostEstimated  bool            `json:"cost_estimated,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ExecutionFilter specifies query parameters for listing execution records.
type ExecutionFilter struct {
	IntegrationID *string    `json:"integration_id,omitempty"`
	ToolName      *string    `json:"tool_name,omitempty"`
	Status        *string    `json:"status,omitempty"`
	After         *time.Time `json:"after,omitempty"`
	Before        *time.Time `json:"before,omitempty"`
	Limit         int        `json:"limit"`
	Offset        int        `json:"offset"`
}

// ExecutionStats holds aggregate statistics over the execution log.
type ExecutionStats struct {
	TotalRequests int     `json:"total_requests"`
	SuccessCount  int     `json:"success_count"`
	ErrorCount    int     `json:"error_count"`
	RateLimited   int     `json:"rate_limited"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
}
