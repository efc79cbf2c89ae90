// Package api holds the JSON wire types shared by the HTTP server and client.
package api

import (
	"time"

	"github.com/snow-ghost/fuzzyeval/pkg/cache"
	"github.com/snow-ghost/fuzzyeval/pkg/journal"
	"github.com/snow-ghost/fuzzyeval/pkg/registry"
)

// Error codes
const (
	CodeInvalidJSON   = "INVALID_JSON"
	CodeMissingInput  = "MISSING_INPUT"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeBatchTooLarge = "BATCH_TOO_LARGE"
	CodeInvalidQuery  = "INVALID_QUERY"
	CodeRateLimited   = "RATE_LIMITED"
	CodeInternal      = "INTERNAL"
	CodeTimeout       = "TIMEOUT"
)

// Request and response headers
const (
	HeaderRequestID = "X-Request-ID"
	HeaderCaller    = "X-Caller"
	HeaderCache     = "X-Cache"
)

// EvaluateRequest represents an evaluation request
type EvaluateRequest struct {
	Inputs map[string]float64 `json:"inputs"`
}

// Output is the result for one consequent
type Output struct {
	Status string   `json:"status"` // "ok" or "no_rule_fired"
	Value  *float64 `json:"value,omitempty"`
	Band   string   `json:"band,omitempty"`
}

// EvaluateResponse represents an evaluation response
type EvaluateResponse struct {
	Outputs map[string]Output `json:"outputs"`
	Cached  bool              `json:"cached"`
}

// BatchRequest represents a batch evaluation request
type BatchRequest struct {
	Items []EvaluateRequest `json:"items"`
}

// BatchItem is one batch result; exactly one of Outputs and Error is set.
type BatchItem struct {
	Outputs map[string]Output `json:"outputs,omitempty"`
	Cached  bool              `json:"cached,omitempty"`
	Error   *ErrorBody        `json:"error,omitempty"`
}

// BatchResponse lists batch results in request order
type BatchResponse struct {
	Items []BatchItem `json:"items"`
}

// ModelResponse describes the served model
type ModelResponse struct {
	Model *registry.Definition `json:"model"`
}

// HistoryResponse lists journal records, newest first
type HistoryResponse struct {
	Records []journal.Record `json:"records"`
	Count   int              `json:"count"`
}

// StatsResponse reports the serving state seen by one caller
type StatsResponse struct {
	Model     string                 `json:"model"`
	Caller    string                 `json:"caller"`
	Cache     *cache.ManagerStats    `json:"cache,omitempty"`
	RateLimit map[string]interface{} `json:"rate_limit"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorBody describes a failed request
type ErrorBody struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Variable string   `json:"variable,omitempty"`
	Value    *float64 `json:"value,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
