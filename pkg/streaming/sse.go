package streaming

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/snow-ghost/fuzzyeval/pkg/api"
)

// Event types
const (
	EventStart  = "start"
	EventResult = "result"
	EventDone   = "done"
	EventError  = "error"
)

// SSEWriter handles Server-Sent Events writing
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &SSEWriter{
		w:       w,
		flusher: flusher,
	}, nil
}

// WriteEvent writes an SSE event
func (s *SSEWriter) WriteEvent(event string, data interface{}) error {
	// Write event type
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}

	// Write data
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", jsonData); err != nil {
		return err
	}

	// Flush the data
	s.flusher.Flush()
	return nil
}

// Start opens a stream of Count results
type Start struct {
	Model string `json:"model"`
	Count int    `json:"count"`
}

// Result carries the outcome of item Index
type Result struct {
	Index int `json:"index"`
	api.BatchItem
}

// Summary closes a stream
type Summary struct {
	Total       int `json:"total"`
	OK          int `json:"ok"`
	NoRuleFired int `json:"no_rule_fired"`
	Rejected    int `json:"rejected"`
}

// WriteStart writes a start event
func (s *SSEWriter) WriteStart(model string, count int) error {
	return s.WriteEvent(EventStart, Start{Model: model, Count: count})
}

// WriteResult writes one item result
func (s *SSEWriter) WriteResult(index int, item api.BatchItem) error {
	return s.WriteEvent(EventResult, Result{Index: index, BatchItem: item})
}

// WriteError writes an error event; the stream ends after it
func (s *SSEWriter) WriteError(body api.ErrorBody) error {
	return s.WriteEvent(EventError, api.ErrorResponse{Error: body})
}

// WriteDone writes a done event with the final tally
func (s *SSEWriter) WriteDone(summary Summary) error {
	return s.WriteEvent(EventDone, summary)
}

// StreamHandler receives parsed events
type StreamHandler struct {
	onStart  func(start Start) error
	onResult func(result Result) error
	onDone   func(summary Summary) error
	onError  func(body api.ErrorBody) error
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler() *StreamHandler {
	return &StreamHandler{}
}

// SetStartHandler sets the start handler
func (h *StreamHandler) SetStartHandler(fn func(start Start) error) {
	h.onStart = fn
}

// SetResultHandler sets the result handler
func (h *StreamHandler) SetResultHandler(fn func(result Result) error) {
	h.onResult = fn
}

// SetDoneHandler sets the done handler
func (h *StreamHandler) SetDoneHandler(fn func(summary Summary) error) {
	h.onDone = fn
}

// SetErrorHandler sets the error handler
func (h *StreamHandler) SetErrorHandler(fn func(body api.ErrorBody) error) {
	h.onError = fn
}

// ErrIncompleteStream is returned when a stream ends without a done event
var ErrIncompleteStream = errors.New("stream ended before done event")

// ParseSSEStream parses an SSE stream from a reader until the done or error
// event. A handler error stops parsing and is returned.
func ParseSSEStream(ctx context.Context, reader *bufio.Reader, handler *StreamHandler) error {
	var currentEvent string
	var currentData strings.Builder

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return ErrIncompleteStream
		}
		if err != nil {
			return err
		}

		line = strings.TrimRight(line, "\r\n")

		// Empty line indicates end of event
		if line == "" {
			if currentData.Len() > 0 {
				final, err := processEvent(currentEvent, currentData.String(), handler)
				if err != nil || final {
					return err
				}
			}
			currentEvent = ""
			currentData.Reset()
			continue
		}

		// Parse event type
		if strings.HasPrefix(line, "event: ") {
			currentEvent = strings.TrimPrefix(line, "event: ")
			continue
		}

		// Parse data
		if strings.HasPrefix(line, "data: ") {
			if currentData.Len() > 0 {
				currentData.WriteString("\n")
			}
			currentData.WriteString(strings.TrimPrefix(line, "data: "))
			continue
		}

		// Ignore comments and unknown fields
	}
}

// processEvent dispatches one event; final is true for done and error
func processEvent(eventType, data string, handler *StreamHandler) (final bool, err error) {
	switch eventType {
	case EventStart:
		var start Start
		if err := json.Unmarshal([]byte(data), &start); err != nil {
			return false, fmt.Errorf("failed to unmarshal start: %w", err)
		}
		if handler.onStart != nil {
			return false, handler.onStart(start)
		}
		return false, nil

	case EventResult:
		var result Result
		if err := json.Unmarshal([]byte(data), &result); err != nil {
			return false, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		if handler.onResult != nil {
			return false, handler.onResult(result)
		}
		return false, nil

	case EventDone:
		var summary Summary
		if err := json.Unmarshal([]byte(data), &summary); err != nil {
			return true, fmt.Errorf("failed to unmarshal done: %w", err)
		}
		if handler.onDone != nil {
			return true, handler.onDone(summary)
		}
		return true, nil

	case EventError:
		var resp api.ErrorResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			return true, fmt.Errorf("failed to unmarshal error: %w", err)
		}
		if handler.onError != nil {
			return true, handler.onError(resp.Error)
		}
		return true, fmt.Errorf("stream error %s: %s", resp.Error.Code, resp.Error.Message)

	default:
		// Ignore unknown event types
		return false, nil
	}
}

// Tally counts streamed outcomes
type Tally struct {
	summary Summary
	mu      sync.Mutex
}

// NewTally creates a new tally
func NewTally() *Tally {
	return &Tally{}
}

// Add counts one item
func (t *Tally) Add(item api.BatchItem) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.summary.Total++
	switch {
	case item.Error != nil:
		t.summary.Rejected++
	case allValued(item.Outputs):
		t.summary.OK++
	default:
		t.summary.NoRuleFired++
	}
}

// Summary returns the counts so far
func (t *Tally) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.summary
}

func allValued(outputs map[string]api.Output) bool {
	for _, out := range outputs {
		if out.Value == nil {
			return false
		}
	}
	return true
}
