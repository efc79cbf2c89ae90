package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/snow-ghost/fuzzyeval/core"
	"github.com/snow-ghost/fuzzyeval/pkg/api"
	"github.com/snow-ghost/fuzzyeval/pkg/journal"
	"github.com/snow-ghost/fuzzyeval/pkg/limiter"
	"github.com/snow-ghost/fuzzyeval/pkg/observability"
	"github.com/snow-ghost/fuzzyeval/pkg/registry"
	"github.com/snow-ghost/fuzzyeval/pkg/streaming"
	"github.com/sony/gobreaker"
)

// Client represents an HTTP client for the evaluation service
type Client struct {
	baseURL    string
	caller     string
	httpClient *http.Client
	protection *limiter.ProtectionManager
	obs        *observability.Manager
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Caller  string
	Timeout time.Duration

	// Retry defaults to limiter.DefaultRetryConfig
	Retry *limiter.RetryConfig

	// Rate throttles outgoing calls; zero means unlimited
	Rate limiter.RateConfig

	// Observability receives retry and breaker events; nil discards them
	Observability *observability.Manager
}

// NewClient creates a new evaluation service client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Observability == nil {
		config.Observability = observability.NewNopManager()
	}

	retry := limiter.DefaultRetryConfig()
	if config.Retry != nil {
		copied := *config.Retry
		retry = &copied
	}

	c := &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		caller:  config.Caller,
		obs:     config.Observability,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}

	userHook := retry.OnRetry
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.obs.RecordRetry(context.Background(), c.baseURL, err.Error(), attempt)
		if userHook != nil {
			userHook(attempt, err, delay)
		}
	}

	c.protection = limiter.NewProtectionManager(limiter.ProtectionConfig{
		Rate:  config.Rate,
		Retry: retry,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.obs.RecordCircuitBreakerChange(name, from.String(), to.String())
		},
	})
	return c
}

// APIError is a non-2xx response from the service
type APIError struct {
	StatusCode int
	Body       api.ErrorBody

	cause *limiter.HTTPError
}

func newAPIError(statusCode int, raw []byte) *APIError {
	var resp api.ErrorResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Error.Code == "" {
		resp.Error = api.ErrorBody{Message: strings.TrimSpace(string(raw))}
	}
	return &APIError{
		StatusCode: statusCode,
		Body:       resp.Error,
		cause:      limiter.NewHTTPError(statusCode, resp.Error.Message, string(raw)),
	}
}

func (e *APIError) Error() string {
	if e.Body.Code == "" {
		return fmt.Sprintf("service returned status %d: %s", e.StatusCode, e.Body.Message)
	}
	return fmt.Sprintf("service returned status %d: %s: %s", e.StatusCode, e.Body.Code, e.Body.Message)
}

// Unwrap exposes the status code to the retry and breaker policies
func (e *APIError) Unwrap() error {
	if e.cause == nil {
		return nil
	}
	return e.cause
}

// Is matches rejected inputs against the core sentinels
func (e *APIError) Is(target error) bool {
	switch target {
	case core.ErrMissingInput:
		return e.Body.Code == api.CodeMissingInput
	case core.ErrInvalidInput:
		return e.Body.Code == api.CodeInvalidInput
	default:
		return false
	}
}

// Evaluate sends an evaluation request
func (c *Client) Evaluate(ctx context.Context, inputs map[string]float64) (*api.EvaluateResponse, error) {
	var resp api.EvaluateResponse
	if err := c.do(ctx, http.MethodPost, "/v1/evaluate", api.EvaluateRequest{Inputs: inputs}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EvaluateBatch sends a batch evaluation request
func (c *Client) EvaluateBatch(ctx context.Context, items []map[string]float64) (*api.BatchResponse, error) {
	req := api.BatchRequest{Items: make([]api.EvaluateRequest, len(items))}
	for i, inputs := range items {
		req.Items[i] = api.EvaluateRequest{Inputs: inputs}
	}

	var resp api.BatchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/evaluate/batch", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) != len(items) {
		return nil, fmt.Errorf("batch returned %d results for %d items", len(resp.Items), len(items))
	}
	return &resp, nil
}

// EvaluateStream sends a batch to the streaming endpoint and hands each
// result to fn in request order. Streams are not retried, since results may
// already have been delivered.
func (c *Client) EvaluateStream(ctx context.Context, items []map[string]float64, fn func(streaming.Result) error) (streaming.Summary, error) {
	req := api.BatchRequest{Items: make([]api.EvaluateRequest, len(items))}
	for i, inputs := range items {
		req.Items[i] = api.EvaluateRequest{Inputs: inputs}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return streaming.Summary{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/evaluate/stream", bytes.NewReader(payload))
	if err != nil {
		return streaming.Summary{}, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return streaming.Summary{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return streaming.Summary{}, newAPIError(resp.StatusCode, raw)
	}

	var summary streaming.Summary
	handler := streaming.NewStreamHandler()
	handler.SetResultHandler(fn)
	handler.SetDoneHandler(func(s streaming.Summary) error {
		summary = s
		return nil
	})
	handler.SetErrorHandler(func(body api.ErrorBody) error {
		return &APIError{StatusCode: resp.StatusCode, Body: body}
	})

	if err := streaming.ParseSSEStream(ctx, bufio.NewReader(resp.Body), handler); err != nil {
		return summary, err
	}
	return summary, nil
}

// Model retrieves the served model
func (c *Client) Model(ctx context.Context) (*registry.Definition, error) {
	var resp api.ModelResponse
	if err := c.do(ctx, http.MethodGet, "/v1/model", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Model == nil {
		return nil, errors.New("empty model response")
	}
	return resp.Model, nil
}

// History retrieves journal records, newest first
func (c *Client) History(ctx context.Context, filter journal.Filter) ([]journal.Record, error) {
	path := "/v1/history"
	if query := filter.Values().Encode(); query != "" {
		path += "?" + query
	}

	var resp api.HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	var resp api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("service reported status %q", resp.Status)
	}
	return nil
}

// Stats returns the protection state for the service endpoint
func (c *Client) Stats() map[string]interface{} {
	return c.protection.GetStats(c.baseURL)
}

// Reset closes the circuit breaker and refills the rate limit bucket for the
// service endpoint
func (c *Client) Reset() {
	c.protection.Reset(c.baseURL)
}

// ServerStats returns the service's cache statistics and this caller's rate
// limit bucket
func (c *Client) ServerStats(ctx context.Context) (*api.StatsResponse, error) {
	var resp api.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// newRequest builds a request carrying the caller and request ID headers
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.caller != "" {
		httpReq.Header.Set(api.HeaderCaller, c.caller)
	}
	if requestID := observability.GetRequestIDFromContext(ctx); requestID != "" {
		httpReq.Header.Set(api.HeaderRequestID, requestID)
	}
	return httpReq, nil
}

// do sends one request through the rate limiter, retries and circuit breaker
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = data
	}

	_, err := c.protection.ExecuteWithProtection(ctx, c.baseURL, func(ctx context.Context) (interface{}, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		httpReq, err := c.newRequest(ctx, method, path, reader)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			return nil, newAPIError(resp.StatusCode, raw)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil, nil
	})
	return err
}
