package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/snow-ghost/fuzzyeval/core"
	"github.com/snow-ghost/fuzzyeval/evaluator"
	"github.com/snow-ghost/fuzzyeval/pkg/api"
	"github.com/snow-ghost/fuzzyeval/pkg/journal"
	"github.com/snow-ghost/fuzzyeval/pkg/limiter"
	"github.com/snow-ghost/fuzzyeval/pkg/logging"
	"github.com/snow-ghost/fuzzyeval/pkg/observability"
	"github.com/snow-ghost/fuzzyeval/pkg/streaming"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// Options configures a Server
type Options struct {
	Port           string
	RateLimit      limiter.RateConfig
	RequestTimeout time.Duration
	ServiceName    string
}

// Server represents the HTTP server
type Server struct {
	port           string
	serviceName    string
	logger         *logging.Logger
	router         *http.ServeMux
	handler        http.Handler
	svc            *evaluator.Service
	obs            *observability.Manager
	rateLimiter    *limiter.RateLimiter
	requestTimeout time.Duration
	httpServer     *http.Server
}

// NewServer creates a new HTTP server for svc
func NewServer(svc *evaluator.Service, opts Options) *Server {
	if opts.ServiceName == "" {
		opts.ServiceName = "fuzzyd"
	}

	obs := svc.Observability()
	s := &Server{
		port:           opts.Port,
		serviceName:    opts.ServiceName,
		logger:         obs.GetLogger(),
		router:         http.NewServeMux(),
		svc:            svc,
		obs:            obs,
		rateLimiter:    limiter.NewRateLimiter(opts.RateLimit),
		requestTimeout: opts.RequestTimeout,
	}
	s.setupRoutes()
	s.handler = s.instrument(s.router)
	s.httpServer = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// setupRoutes configures all the HTTP routes
func (s *Server) setupRoutes() {
	// Health and metrics
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.Handle("/metrics", s.obs.GetMetrics().Handler())

	// API v1 routes, rate limited per caller
	v1 := http.NewServeMux()
	v1.HandleFunc("/evaluate", s.handleEvaluate)
	v1.HandleFunc("/evaluate/batch", s.handleBatch)
	v1.HandleFunc("/evaluate/stream", s.handleStream)
	v1.HandleFunc("/model", s.handleModel)
	v1.HandleFunc("/stats", s.handleStats)
	v1.HandleFunc("/history", s.handleHistory)
	v1.HandleFunc("/history/summary", s.handleHistorySummary)
	v1.HandleFunc("/history/export", s.handleHistoryExport)

	s.router.Handle("/v1/", http.StripPrefix("/v1", s.limit(v1)))
}

// Handler returns the fully wrapped handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server and blocks until it stops. A server stopped
// by Shutdown, even before Start, returns nil.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "port", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server; a later Start returns at once
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// statusRecorder captures the response code for logging and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the recorder
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrument assigns a request ID, propagates the caller and the request
// timeout, and records every request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(api.HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(api.HeaderRequestID, requestID)

		ctx := observability.WithRequestID(r.Context(), requestID)
		ctx = observability.WithCaller(ctx, callerKey(r))
		if s.requestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
			defer cancel()
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		duration := time.Since(start)
		s.obs.GetMetrics().RecordHTTPRequest(r.URL.Path, strconv.Itoa(rec.status), duration)
		s.logger.LogRequest(ctx, r.Method, r.URL.Path, rec.status, duration, requestID)
	})
}

// limit rejects callers that exceed their token bucket
func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := observability.GetCallerFromContext(r.Context())
		if !s.rateLimiter.Allow(key) {
			s.obs.GetMetrics().RecordRateLimited()
			retryAfter := s.rateLimiter.RetryAfter(key)
			seconds := int(retryAfter.Seconds())
			if retryAfter > time.Duration(seconds)*time.Second {
				seconds++
			}
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			s.writeError(w, "Rate limit exceeded", api.CodeRateLimited, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerKey identifies the caller by X-Caller, falling back to the remote host
func callerKey(r *http.Request) string {
	if caller := r.Header.Get(api.HeaderCaller); caller != "" {
		return caller
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:    "ok",
		Service:   s.serviceName,
		Model:     s.svc.Name(),
		Timestamp: time.Now().UTC(),
	})
}

// handleEvaluate handles single evaluation requests
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.EvaluateRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, "Invalid JSON", api.CodeInvalidJSON, http.StatusBadRequest)
		return
	}

	eval, err := s.svc.Evaluate(r.Context(), req.Inputs)
	if err != nil {
		s.writeEvaluationError(w, err)
		return
	}

	s.setCacheHeader(w, eval.Cached)
	s.writeJSON(w, http.StatusOK, api.EvaluateResponse{
		Outputs: toOutputs(eval),
		Cached:  eval.Cached,
	})
}

// handleBatch handles batch evaluation requests
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.BatchRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, "Invalid JSON", api.CodeInvalidJSON, http.StatusBadRequest)
		return
	}

	items := make([]map[string]float64, len(req.Items))
	for i, item := range req.Items {
		items[i] = item.Inputs
	}

	results, err := s.svc.EvaluateBatch(r.Context(), items)
	if err != nil {
		s.writeEvaluationError(w, err)
		return
	}

	resp := api.BatchResponse{Items: make([]api.BatchItem, len(results))}
	for i, res := range results {
		resp.Items[i] = toBatchItem(res)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleStream evaluates a batch as Server-Sent Events, one result event per
// item in request order followed by a done event
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.BatchRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, "Invalid JSON", api.CodeInvalidJSON, http.StatusBadRequest)
		return
	}

	items := make([]map[string]float64, len(req.Items))
	for i, item := range req.Items {
		items[i] = item.Inputs
	}
	if limit := s.svc.MaxBatch(); limit > 0 && len(items) > limit {
		s.writeEvaluationError(w, fmt.Errorf("%w: %d items, limit %d", evaluator.ErrBatchTooLarge, len(items), limit))
		return
	}

	sse, err := streaming.NewSSEWriter(w)
	if err != nil {
		s.writeError(w, "Streaming not supported", api.CodeInternal, http.StatusInternalServerError)
		return
	}
	if err := sse.WriteStart(s.svc.Name(), len(items)); err != nil {
		return
	}

	tally := streaming.NewTally()
	err = s.svc.EvaluateEach(r.Context(), items, func(i int, res evaluator.BatchItem) error {
		item := toBatchItem(res)
		tally.Add(item)
		return sse.WriteResult(i, item)
	})
	if err != nil {
		body, status := errorBody(err)
		if status == http.StatusInternalServerError {
			s.logger.Warn("stream aborted", "error", err.Error())
		}
		sse.WriteError(body)
		return
	}
	sse.WriteDone(tally.Summary())
}

// handleModel describes the served model
func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, api.ModelResponse{Model: s.svc.Describe()})
}

// handleStats reports cache statistics and the caller's rate limit bucket
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	caller := observability.GetCallerFromContext(r.Context())
	resp := api.StatsResponse{
		Model:     s.svc.Name(),
		Caller:    caller,
		RateLimit: s.rateLimiter.GetStats(caller),
	}
	if stats, ok := s.svc.CacheStats(); ok {
		resp.Cache = &stats
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleHistory lists journal records
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter, ok := s.parseFilter(w, r)
	if !ok {
		return
	}

	records, err := s.svc.Journal().List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list history", "error", err.Error())
		s.writeError(w, "Failed to read history", api.CodeInternal, http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []journal.Record{}
	}

	s.writeJSON(w, http.StatusOK, api.HistoryResponse{Records: records, Count: len(records)})
}

// handleHistorySummary summarizes journal records, optionally grouped
func (s *Server) handleHistorySummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter, ok := s.parseFilter(w, r)
	if !ok {
		return
	}

	report, err := s.svc.Journal().Report(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to summarize history", "error", err.Error())
		s.writeError(w, "Failed to summarize history", api.CodeInternal, http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

// handleHistoryExport renders journal records as JSON or CSV
func (s *Server) handleHistoryExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter, ok := s.parseFilter(w, r)
	if !ok {
		return
	}

	format := journal.ExportFormat(r.URL.Query().Get("format"))
	contentType := "application/json"
	switch format {
	case "", journal.ExportFormatJSON:
		format = journal.ExportFormatJSON
	case journal.ExportFormatCSV:
		contentType = "text/csv"
	default:
		s.writeError(w, fmt.Sprintf("Unsupported format: %s", format), api.CodeInvalidQuery, http.StatusBadRequest)
		return
	}

	data, err := s.svc.Journal().Export(r.Context(), filter, format)
	if err != nil {
		s.logger.Error("failed to export history", "error", err.Error())
		s.writeError(w, "Failed to export history", api.CodeInternal, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=history.%s", format))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) parseFilter(w http.ResponseWriter, r *http.Request) (journal.Filter, bool) {
	filter, err := journal.ParseFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, err.Error(), api.CodeInvalidQuery, http.StatusBadRequest)
		return journal.Filter{}, false
	}
	return filter, true
}

// writeEvaluationError maps an evaluation error onto a response
func (s *Server) writeEvaluationError(w http.ResponseWriter, err error) {
	body, status := errorBody(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("evaluation failed", "error", err.Error())
	}
	s.writeErrorBody(w, body, status)
}

// errorBody classifies err into a response body and status code
func errorBody(err error) (api.ErrorBody, int) {
	body := api.ErrorBody{Message: err.Error()}

	var inputErr *core.InputError
	if errors.As(err, &inputErr) {
		body.Variable = inputErr.Variable
		// JSON cannot carry NaN or infinities
		if v := inputErr.Value; errors.Is(err, core.ErrInvalidInput) && !math.IsNaN(v) && !math.IsInf(v, 0) {
			body.Value = &v
		}
	}

	switch {
	case errors.Is(err, core.ErrMissingInput):
		body.Code = api.CodeMissingInput
		return body, http.StatusBadRequest
	case errors.Is(err, core.ErrInvalidInput):
		body.Code = api.CodeInvalidInput
		return body, http.StatusBadRequest
	case errors.Is(err, evaluator.ErrBatchTooLarge):
		body.Code = api.CodeBatchTooLarge
		return body, http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		body.Code = api.CodeTimeout
		return body, http.StatusServiceUnavailable
	default:
		body.Code = api.CodeInternal
		body.Message = "Internal error"
		return body, http.StatusInternalServerError
	}
}

func toBatchItem(res evaluator.BatchItem) api.BatchItem {
	if res.Err != nil {
		body, _ := errorBody(res.Err)
		return api.BatchItem{Error: &body}
	}
	return api.BatchItem{
		Outputs: toOutputs(res.Evaluation),
		Cached:  res.Evaluation.Cached,
	}
}

// toOutputs converts an evaluation into wire outputs
func toOutputs(eval *evaluator.Evaluation) map[string]api.Output {
	outputs := make(map[string]api.Output, len(eval.Outputs))
	for name, r := range eval.Outputs {
		outputs[name] = api.Output{Status: r.Status, Value: r.Value, Band: r.Band}
	}
	return outputs
}

func (s *Server) setCacheHeader(w http.ResponseWriter, cached bool) {
	if _, ok := s.svc.CacheStats(); !ok {
		w.Header().Set(api.HeaderCache, "DISABLED")
		return
	}
	if cached {
		w.Header().Set(api.HeaderCache, "HIT")
	} else {
		w.Header().Set(api.HeaderCache, "MISS")
	}
}

// decode reads a bounded JSON body into v
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err.Error())
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, message, code string, statusCode int) {
	s.writeErrorBody(w, api.ErrorBody{Code: code, Message: message}, statusCode)
}

func (s *Server) writeErrorBody(w http.ResponseWriter, body api.ErrorBody, statusCode int) {
	s.writeJSON(w, statusCode, api.ErrorResponse{Error: body})
}
