package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps both slog and zap loggers
type Logger struct {
	slog *slog.Logger
	zap  *zap.Logger
}

// Config holds logging configuration
type Config struct {
	Level     string
	Format    string // "json" or "console"
	Output    string // "stdout" or "stderr"
	AddCaller bool
	AddStack  bool
}

// NewLogger creates a new structured logger
func NewLogger(config Config) (*Logger, error) {
	if config.Format == "" {
		config.Format = "json"
	}
	if config.Output == "" {
		config.Output = "stdout"
	}

	var out io.Writer = os.Stdout
	if config.Output == "stderr" {
		out = os.Stderr
	}

	// Create slog logger
	opts := &slog.HandlerOptions{
		Level:     parseSlogLevel(config.Level),
		AddSource: config.AddCaller,
	}
	var slogHandler slog.Handler = slog.NewJSONHandler(out, opts)
	if config.Format == "console" {
		slogHandler = slog.NewTextHandler(out, opts)
	}
	slogLogger := slog.New(slogHandler)

	// Create zap logger
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = parseZapLevel(config.Level)
	zapConfig.Encoding = config.Format
	zapConfig.OutputPaths = []string{config.Output}
	zapConfig.ErrorOutputPaths = []string{config.Output}
	zapConfig.DisableCaller = !config.AddCaller
	zapConfig.DisableStacktrace = !config.AddStack

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{
		slog: slogLogger,
		zap:  zapLogger,
	}, nil
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	return &Logger{
		slog: slog.New(slog.DiscardHandler),
		zap:  zap.NewNop(),
	}
}

// parseSlogLevel parses slog level from string
func parseSlogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseZapLevel parses zap level from string
func parseZapLevel(level string) zap.AtomicLevel {
	switch level {
	case "debug":
		return zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zapcore.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
}

// WithRequestID adds request ID to logger context
func (l *Logger) WithRequestID(ctx context.Context, requestID string) *Logger {
	return &Logger{
		slog: l.slog.With("request_id", requestID),
		zap:  l.zap.With(zap.String("request_id", requestID)),
	}
}

// WithTraceID adds trace ID to logger context
func (l *Logger) WithTraceID(ctx context.Context, traceID string) *Logger {
	return &Logger{
		slog: l.slog.With("trace_id", traceID),
		zap:  l.zap.With(zap.String("trace_id", traceID)),
	}
}

// WithFields adds fields to logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	slogAttrs := make([]any, 0, len(fields)*2)
	zapFields := make([]zap.Field, 0, len(fields))

	for key, value := range fields {
		slogAttrs = append(slogAttrs, key, value)
		zapFields = append(zapFields, zap.Any(key, value))
	}

	return &Logger{
		slog: l.slog.With(slogAttrs...),
		zap:  l.zap.With(zapFields...),
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.slog.Debug(msg, args...)
	l.zap.Debug(msg, convertToZapFields(args)...)
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	l.slog.Info(msg, args...)
	l.zap.Info(msg, convertToZapFields(args)...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.slog.Warn(msg, args...)
	l.zap.Warn(msg, convertToZapFields(args)...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	l.slog.Error(msg, args...)
	l.zap.Error(msg, convertToZapFields(args)...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.slog.Error(msg, args...)
	l.zap.Fatal(msg, convertToZapFields(args)...)
}

// convertToZapFields converts interface{} args to zap.Field
func convertToZapFields(args []interface{}) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2)
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			fields = append(fields, zap.Any(key, args[i+1]))
		}
	}
	return fields
}

func durationMS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}

// LogRequest logs an HTTP request
func (l *Logger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration, requestID string) {
	fields := map[string]interface{}{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": durationMS(duration),
		"request_id":  requestID,
	}

	logger := l.WithFields(fields)
	logger.Info("HTTP request completed")
}

// LogEvaluation logs a completed inference
func (l *Logger) LogEvaluation(ctx context.Context, model string, inputs map[string]float64, outputs map[string]float64, duration time.Duration, requestID string) {
	fields := map[string]interface{}{
		"model":       model,
		"inputs":      inputs,
		"outputs":     outputs,
		"duration_ms": durationMS(duration),
		"request_id":  requestID,
	}

	logger := l.WithFields(fields)
	logger.Debug("Evaluation completed")
}

// LogRejectedInput logs an evaluation refused because of its inputs
func (l *Logger) LogRejectedInput(ctx context.Context, model string, err error, requestID string) {
	fields := map[string]interface{}{
		"model":      model,
		"error":      err.Error(),
		"request_id": requestID,
	}

	logger := l.WithFields(fields)
	logger.Warn("Evaluation rejected")
}

// LogNoRuleFired logs a consequent that produced no crisp value
func (l *Logger) LogNoRuleFired(ctx context.Context, model, variable string, inputs map[string]float64, requestID string) {
	fields := map[string]interface{}{
		"model":      model,
		"variable":   variable,
		"inputs":     inputs,
		"request_id": requestID,
	}

	logger := l.WithFields(fields)
	logger.Info("No rule fired")
}

// LogCacheOperation logs a cache operation
func (l *Logger) LogCacheOperation(ctx context.Context, operation string, hit bool, requestID string) {
	fields := map[string]interface{}{
		"operation":  operation,
		"hit":        hit,
		"request_id": requestID,
	}

	logger := l.WithFields(fields)
	if hit {
		logger.Debug("Cache hit")
	} else {
		logger.Debug("Cache miss")
	}
}

// LogRetry logs a retry operation
func (l *Logger) LogRetry(ctx context.Context, endpoint, reason string, attempt int, requestID string) {
	fields := map[string]interface{}{
		"endpoint":   endpoint,
		"reason":     reason,
		"attempt":    attempt,
		"request_id": requestID,
	}

	logger := l.WithFields(fields)
	logger.Warn("Request retry")
}

// LogCircuitBreaker logs a circuit breaker state change
func (l *Logger) LogCircuitBreaker(ctx context.Context, name, from, to string) {
	fields := map[string]interface{}{
		"breaker": name,
		"from":    from,
		"to":      to,
	}

	logger := l.WithFields(fields)
	logger.Warn("Circuit breaker state changed")
}

// Sync syncs the logger
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// GetSlog returns the slog logger
func (l *Logger) GetSlog() *slog.Logger {
	return l.slog
}

// GetZap returns the zap logger
func (l *Logger) GetZap() *zap.Logger {
	return l.zap
}
