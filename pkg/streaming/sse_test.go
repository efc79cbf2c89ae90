package streaming

import (
	"bufio"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/snow-ghost/fuzzyeval/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndParse(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	v := 50.0
	tally := NewTally()
	items := []api.BatchItem{
		{Outputs: map[string]api.Output{"usefulness": {Status: "ok", Value: &v, Band: "moderately_useful"}}},
		{Outputs: map[string]api.Output{"usefulness": {Status: "no_rule_fired"}}},
		{Error: &api.ErrorBody{Code: api.CodeMissingInput, Message: "missing", Variable: "taste"}},
	}

	require.NoError(t, w.WriteStart("food", len(items)))
	for i, item := range items {
		tally.Add(item)
		require.NoError(t, w.WriteResult(i, item))
	}
	require.NoError(t, w.WriteDone(tally.Summary()))
	assert.True(t, rec.Flushed)

	var start Start
	var results []Result
	var summary Summary
	handler := NewStreamHandler()
	handler.SetStartHandler(func(s Start) error { start = s; return nil })
	handler.SetResultHandler(func(r Result) error { results = append(results, r); return nil })
	handler.SetDoneHandler(func(s Summary) error { summary = s; return nil })

	require.NoError(t, ParseSSEStream(context.Background(), bufio.NewReader(rec.Body), handler))
	assert.Equal(t, Start{Model: "food", Count: 3}, start)
	require.Len(t, results, 3)
	assert.Equal(t, 2, results[2].Index)
	assert.Equal(t, "taste", results[2].Error.Variable)
	assert.InDelta(t, 50.0, *results[0].Outputs["usefulness"].Value, 1e-12)
	assert.Equal(t, Summary{Total: 3, OK: 1, NoRuleFired: 1, Rejected: 1}, summary)
}

func TestParseErrorEvent(t *testing.T) {
	stream := "event: start\ndata: {\"model\":\"food\",\"count\":1}\n\n" +
		"event: error\ndata: {\"error\":{\"code\":\"TIMEOUT\",\"message\":\"deadline\"}}\n\n"

	err := ParseSSEStream(context.Background(), bufio.NewReader(strings.NewReader(stream)), NewStreamHandler())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIMEOUT")

	var got api.ErrorBody
	handler := NewStreamHandler()
	handler.SetErrorHandler(func(body api.ErrorBody) error { got = body; return nil })
	require.NoError(t, ParseSSEStream(context.Background(), bufio.NewReader(strings.NewReader(stream)), handler))
	assert.Equal(t, api.CodeTimeout, got.Code)
}

func TestParseIncompleteStream(t *testing.T) {
	stream := ": keepalive\nevent: result\ndata: {\"index\":0}\n\nevent: unknown\ndata: {}\n\n"

	calls := 0
	handler := NewStreamHandler()
	handler.SetResultHandler(func(Result) error { calls++; return nil })

	err := ParseSSEStream(context.Background(), bufio.NewReader(strings.NewReader(stream)), handler)
	assert.ErrorIs(t, err, ErrIncompleteStream)
	assert.Equal(t, 1, calls)
}

func TestParseMalformedData(t *testing.T) {
	stream := "event: result\ndata: {not json\n\n"
	err := ParseSSEStream(context.Background(), bufio.NewReader(strings.NewReader(stream)), NewStreamHandler())
	assert.ErrorContains(t, err, "unmarshal result")
}

func TestParseCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ParseSSEStream(ctx, bufio.NewReader(strings.NewReader("event: done\ndata: {}\n\n")), NewStreamHandler())
	assert.ErrorIs(t, err, context.Canceled)
}
