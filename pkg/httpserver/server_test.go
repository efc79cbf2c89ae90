package httpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/snow-ghost/fuzzyeval/evaluator"
	"github.com/snow-ghost/fuzzyeval/food"
	"github.com/snow-ghost/fuzzyeval/pkg/api"
	"github.com/snow-ghost/fuzzyeval/pkg/journal"
	"github.com/snow-ghost/fuzzyeval/pkg/limiter"
	"github.com/snow-ghost/fuzzyeval/pkg/streaming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, svcOpts evaluator.Options, opts Options) *httptest.Server {
	t.Helper()

	svcOpts.Name = food.ModelName
	if svcOpts.Journal == nil {
		svcOpts.Journal = journal.NewMemoryJournal(100)
	}
	svc, err := evaluator.NewService(food.MustBuildModel().System(), svcOpts)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	ts := httptest.NewServer(NewServer(svc, opts).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, caller, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(api.HeaderCaller, caller)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, evaluator.Options{}, Options{})

	resp := get(t, ts.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health api.HealthResponse
	decodeBody(t, resp, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "fuzzyd", health.Service)
	assert.Equal(t, food.ModelName, health.Model)
	assert.NotEmpty(t, resp.Header.Get(api.HeaderRequestID))

	resp = post(t, ts.URL+"/health", "", "{}")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEvaluate(t *testing.T) {
	ts := newTestServer(t, evaluator.Options{CacheSize: 16}, Options{})
	body := `{"inputs":{"taste":8,"spiciness":3,"temperature":6,"sweetness":4}}`

	resp := post(t, ts.URL+"/v1/evaluate", "alice", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get(api.HeaderCache))

	var out api.EvaluateResponse
	decodeBody(t, resp, &out)
	usefulness := out.Outputs[food.Usefulness]
	assert.Equal(t, "ok", usefulness.Status)
	require.NotNil(t, usefulness.Value)
	assert.InDelta(t, 50.0, *usefulness.Value, 1e-9)
	assert.Equal(t, food.ModeratelyUseful, usefulness.Band)
	assert.False(t, out.Cached)

	resp = post(t, ts.URL+"/v1/evaluate", "alice", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HIT", resp.Header.Get(api.HeaderCache))
	decodeBody(t, resp, &out)
	assert.True(t, out.Cached)
}

func TestEvaluateEchoesRequestID(t *testing.T) {
	ts := newTestServer(t, evaluator.Options{}, Options{})

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/evaluate",
		strings.NewReader(`{"inputs":{"taste":10,"spiciness":0,"temperature":8,"sweetness":0}}`))
	require.NoError(t, err)
	req.Header.Set(api.HeaderRequestID, "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "req-42", resp.Header.Get(api.HeaderRequestID))
	assert.Equal(t, "DISABLED", resp.Header.Get(api.HeaderCache))

	var out api.EvaluateResponse
	decodeBody(t, resp, &out)
	require.NotNil(t, out.Outputs[food.Usefulness].Value)
	assert.InDelta(t, 83.66666487968241, *out.Outputs[food.Usefulness].Value, 1e-9)
	assert.Equal(t, food.VeryUseful, out.Outputs[food.Usefulness].Band)
}

func TestEvaluateErrors(t *testing.T) {
	ts := newTestServer(t, evaluator.Options{}, Options{})

	tests := []struct {
		name     string
		body     string
		status   int
		code     string
		variable string
	}{
		{
			name:     "missing sweetness",
			body:     `{"inputs":{"taste":8,"spiciness":3,"temperature":6}}`,
			status:   http.StatusBadRequest,
			code:     api.CodeMissingInput,
			variable: food.Sweetness,
		},
		{
			name:   "malformed json",
			body:   `{"inputs":`,
			status: http.StatusBadRequest,
			code:   api.CodeInvalidJSON,
		},
		{
			name:   "unknown field",
			body:   `{"input":{"taste":1}}`,
			status: http.StatusBadRequest,
			code:   api.CodeInvalidJSON,
		},
		{
			name:   "non-numeric input",
			body:   `{"inputs":{"taste":"hot"}}`,
			status: http.StatusBadRequest,
			code:   api.CodeInvalidJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+"/v1/evaluate", "", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)

			var errResp api.ErrorResponse
			decodeBody(t, resp, &errResp)
			assert.Equal(t, tt.code, errResp.Error.Code)
			assert.Equal(t, tt.variable, errResp.Error.Variable)
			assert.NotEmpty(t, errResp.Error.Message)
		})
	}

	resp := get(t, ts.URL+"/v1/evaluate")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEvaluateNoRuleFired(t *testing.T) {
	ts := newTestServer(t, evaluator.Options{}, Options{})

	resp := post(t, ts.URL+"/v1/evaluate", "", `{"inputs":{"taste":0,"spiciness":0,"temperature":100,"sweetness":0}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out api.EvaluateResponse
	require.NoError(t, json.Unmarshal(raw, &out))

	usefulness := out.Outputs[food.Usefulness]
	assert.Equal(t, "no_rule_fired", usefulness.Status)
	assert.Nil(t, usefulness.Value)
	assert.NotContains(t, string(raw), `"value"`)
}

func TestBatch(t *testing.T) {
	ts := newTestServer(t, evaluator.Options{MaxBatch: 3}, Options{})

	body := `{"items":[
		{"inputs":{"taste":8,"spiciness":3,"temperature":6,"sweetness":4}},
		{"inputs":{"taste":8}},
		{"inputs":{"taste":0,"spiciness":0,"temperature":100,"sweetness":0}}
	]}`
	resp := post(t, ts.URL+"/v1/evaluate/batch", "", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out api.BatchResponse
	decodeBody(t, resp, &out)
	require.Len(t, out.Items, 3)

	require.Nil(t, out.Items[0].Error)
	require.NotNil(t, out.Items[0].Outputs[food.Usefulness].Value)
	assert.InDelta(t, 50.0, *out.Items[0].Outputs[food.Usefulness].Value, 1e-9)

	require.NotNil(t, out.Items[1].Error)
	assert.Equal(t, api.CodeMissingInput, out.Items[1].Error.Code)
	assert.Nil(t, out.Items[1].Outputs)

	require.Nil(t, out.Items[2].Error)
	assert.Equal(t, "no_rule_fired", out.Items[2].Outputs[food.Usefulness].Status)
}

func TestBatchTooLarge(t *testing.T) {
	ts := newTestServer(t, evaluator.Options{MaxBatch: 1}, Options{})

	resp := post(t, ts.URL+"/v1/evaluate/batch", "", `{"items":[{"inputs":{}},{"inputs":{}}]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	var errResp api.ErrorResponse
	decodeBody(t, resp, &errResp)
	assert.Equal(t, api.CodeBatchTooLarge, errResp.Error.Code)
}

func TestStream(t *testing.T) {
	ts := newTestServer(t, evaluator.Options{MaxBatch: 3}, Options{})

	resp := post(t, ts.URL+"/v1/evaluate/stream", "alice", `{"items":[
		{"inputs":{"taste":8,"spiciness":3,"temperature":6,"sweetness":4}},
		{"inputs":{"taste":8}}
	]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	var results []streaming.Result
	var summary streaming.Summary
	handler := streaming.NewStreamHandler()
	handler.SetStartHandler(func(start streaming.Start) error {
		events = append(events, streaming.EventStart)
		assert.Equal(t, food.ModelName, start.Model)
		assert.Equal(t, 2, start.Count)
		return nil
	})
	handler.SetResultHandler(func(r streaming.Result) error {
		events = append(events, streaming.EventResult)
		results = append(results, r)
		return nil
	})
	handler.SetDoneHandler(func(s streaming.Summary) error {
		events = append(events, streaming.EventDone)
		summary = s
		return nil
	})
	require.NoError(t, streaming.ParseSSEStream(context.Background(), bufio.NewReader(resp.Body), handler))

	assert.Equal(t, []string{"start", "result", "result", "done"}, events)
	require.Len(t, results, 2)
	assert.Equal(t, "moderately_useful", results[0].Outputs[food.Usefulness].Band)
	require.NotNil(t, results[1].Error)
	assert.Equal(t, api.CodeMissingInput, results[1].Error.Code)
	assert.Equal(t, streaming.Summary{Total: 2, OK: 1, Rejected: 1}, summary)

	resp = post(t, ts.URL+"/v1/evaluate/stream", "", `{"items":[{"inputs":{}},{"inputs":{}},{"inputs":{}},{"inputs":{}}]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp = post(t, ts.URL+"/v1/evaluate/stream", "", `{"items":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestModel(t *testing.T) {
	ts := newTestServer(t, evaluator.Options{}, Options{})

	resp := get(t, ts.URL+"/v1/model")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out api.ModelResponse
	decodeBody(t, resp, &out)
	require.NotNil(t, out.Model)
	assert.Equal(t, food.ModelName, out.Model.Name)
	assert.Len(t, out.Model.Variables, 5)
	assert.Len(t, out.Model.Rules, 12)
	assert.NotNil(t, out.Model.GetVariable(food.Temperature))
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t, evaluator.Options{}, Options{})

	post(t, ts.URL+"/v1/evaluate", "alice", `{"inputs":{"taste":8,"spiciness":3,"temperature":6,"sweetness":4}}`)
	post(t, ts.URL+"/v1/evaluate", "alice", `{"inputs":{"taste":8}}`)
	post(t, ts.URL+"/v1/evaluate", "bob", `{"inputs":{"taste":2,"spiciness":8,"temperature":2,"sweetness":9}}`)

	resp := get(t, ts.URL+"/v1/history")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all api.HistoryResponse
	decodeBody(t, resp, &all)
	assert.Equal(t, 3, all.Count)
	assert.Equal(t, "bob", all.Records[0].Caller)

	resp = get(t, ts.URL+"/v1/history?caller=alice&limit=1")
	var alice api.HistoryResponse
	decodeBody(t, resp, &alice)
	require.Equal(t, 1, alice.Count)
	assert.Equal(t, journal.StatusMissingInput, alice.Records[0].Status)
	assert.NotEmpty(t, alice.Records[0].RequestID)

	resp = get(t, ts.URL+"/v1/history?limit=-1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var errResp api.ErrorResponse
	decodeBody(t, resp, &errResp)
	assert.Equal(t, api.CodeInvalidQuery, errResp.Error.Code)
}

func TestHistorySummary(t *testing.T) {
	ts := newTestServer(t, evaluator.Options{}, Options{})

	post(t, ts.URL+"/v1/evaluate", "alice", `{"inputs":{"taste":8,"spiciness":3,"temperature":6,"sweetness":4}}`)
	post(t, ts.URL+"/v1/evaluate", "bob", `{"inputs":{"taste":8}}`)

	resp := get(t, ts.URL+"/v1/history/summary?group_by=caller")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report journal.Report
	decodeBody(t, resp, &report)
	assert.EqualValues(t, 2, report.Summary.TotalRecords)
	assert.Equal(t, "caller", report.GroupBy)
	assert.Len(t, report.Groups, 2)

	resp = get(t, ts.URL+"/v1/history/summary?group_by=inputs")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryExport(t *testing.T) {
	ts := newTestServer(t, evaluator.Options{}, Options{})
	post(t, ts.URL+"/v1/evaluate", "alice", `{"inputs":{"taste":8,"spiciness":3,"temperature":6,"sweetness":4}}`)

	resp := get(t, ts.URL+"/v1/history/export?format=csv")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID,Timestamp,Caller"))
	assert.Contains(t, lines[1], "alice")

	resp = get(t, ts.URL+"/v1/history/export")
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	resp = get(t, ts.URL+"/v1/history/export?format=xml")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, evaluator.Options{}, Options{
		RateLimit: limiter.RateConfig{RPS: 0.01, Burst: 1},
	})
	body := `{"inputs":{"taste":8,"spiciness":3,"temperature":6,"sweetness":4}}`

	resp := post(t, ts.URL+"/v1/evaluate", "alice", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, ts.URL+"/v1/evaluate", "alice", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	var errResp api.ErrorResponse
	decodeBody(t, resp, &errResp)
	assert.Equal(t, api.CodeRateLimited, errResp.Error.Code)

	// buckets are per caller
	resp = post(t, ts.URL+"/v1/evaluate", "bob", body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// health is not limited
	resp = get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStats(t *testing.T) {
	ts := newTestServer(t, evaluator.Options{CacheSize: 8}, Options{
		RateLimit: limiter.RateConfig{RPS: 1, Burst: 5},
	})
	body := `{"inputs":{"taste":8,"spiciness":3,"temperature":6,"sweetness":4}}`
	post(t, ts.URL+"/v1/evaluate", "alice", body)
	post(t, ts.URL+"/v1/evaluate", "alice", body)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/stats", nil)
	require.NoError(t, err)
	req.Header.Set(api.HeaderCaller, "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats api.StatsResponse
	decodeBody(t, resp, &stats)
	assert.Equal(t, food.ModelName, stats.Model)
	assert.Equal(t, "alice", stats.Caller)
	require.NotNil(t, stats.Cache)
	assert.EqualValues(t, 1, stats.Cache.Cache.Hits)
	assert.Equal(t, true, stats.RateLimit["enabled"])
	assert.EqualValues(t, 5, stats.RateLimit["burst"])
	assert.Less(t, stats.RateLimit["tokens"].(float64), 5.0)
}

func TestStatsWithoutCacheOrLimit(t *testing.T) {
	ts := newTestServer(t, evaluator.Options{}, Options{})

	resp := get(t, ts.URL+"/v1/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats api.StatsResponse
	decodeBody(t, resp, &stats)
	assert.Nil(t, stats.Cache)
	assert.Equal(t, false, stats.RateLimit["enabled"])
}

func TestShutdownBeforeStart(t *testing.T) {
	svc, err := evaluator.NewService(food.MustBuildModel().System(), evaluator.Options{Name: food.ModelName})
	require.NoError(t, err)
	defer svc.Close()

	server := NewServer(svc, Options{Port: "0"})
	require.NoError(t, server.Shutdown(context.Background()))

	done := make(chan error, 1)
	go func() { done <- server.Start() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}

func TestShutdownStopsStartedServer(t *testing.T) {
	svc, err := evaluator.NewService(food.MustBuildModel().System(), evaluator.Options{Name: food.ModelName})
	require.NoError(t, err)
	defer svc.Close()

	server := NewServer(svc, Options{Port: "0"})
	done := make(chan error, 1)
	go func() { done <- server.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, evaluator.Options{}, Options{})
	post(t, ts.URL+"/v1/evaluate", "", `{"inputs":{"taste":8,"spiciness":3,"temperature":6,"sweetness":4}}`)

	resp := get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err := io.Copy(&buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "fuzzy_evaluations_total")
	assert.Contains(t, buf.String(), "fuzzy_http_requests_total")
}

func TestCallerKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/model", nil)
	r.RemoteAddr = "10.0.0.7:4312"
	assert.Equal(t, "10.0.0.7", callerKey(r))

	r.Header.Set(api.HeaderCaller, "alice")
	assert.Equal(t, "alice", callerKey(r))
}
