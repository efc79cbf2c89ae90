package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs, *bytes.Buffer) {
	core, logs := observer.New(level)
	var buf bytes.Buffer
	return &Logger{
		slog: slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
		zap:  zap.New(core),
	}, logs, &buf
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(Config{Level: "debug", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	require.NotNil(t, logger.GetSlog())
	require.NotNil(t, logger.GetZap())

	logger, err = NewLogger(Config{})
	require.NoError(t, err, "empty config falls back to json on stdout")
	assert.NotNil(t, logger)
}

func TestParseLevels(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseSlogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseSlogLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseSlogLevel("verbose"))
	assert.Equal(t, zapcore.ErrorLevel, parseZapLevel("error").Level())
	assert.Equal(t, zapcore.InfoLevel, parseZapLevel("").Level())
}

func TestLogEvaluation(t *testing.T) {
	logger, logs, buf := observed(zapcore.DebugLevel)

	logger.LogEvaluation(context.Background(), "food-usefulness",
		map[string]float64{"taste": 8}, map[string]float64{"usefulness": 50},
		1500*time.Microsecond, "req-1")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Evaluation completed", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "food-usefulness", fields["model"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, 1.5, fields["duration_ms"])

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Evaluation completed", line["msg"])
}

func TestLogRejectedInputAndNoRuleFired(t *testing.T) {
	logger, logs, _ := observed(zapcore.InfoLevel)

	logger.LogRejectedInput(context.Background(), "m", errors.New("missing input: \"taste\""), "r")
	logger.LogNoRuleFired(context.Background(), "m", "usefulness", map[string]float64{"temperature": 100}, "r")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
	assert.Equal(t, "missing input: \"taste\"", logs.All()[0].ContextMap()["error"])
	assert.Equal(t, "usefulness", logs.All()[1].ContextMap()["variable"])
}

func TestCacheOperationsLogAtDebug(t *testing.T) {
	logger, logs, _ := observed(zapcore.InfoLevel)
	logger.LogCacheOperation(context.Background(), "evaluate", true, "r")
	assert.Equal(t, 0, logs.Len())

	logger, logs, _ = observed(zapcore.DebugLevel)
	logger.LogCacheOperation(context.Background(), "evaluate", false, "r")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Cache miss", logs.All()[0].Message)
}

func TestConvertToZapFields(t *testing.T) {
	fields := convertToZapFields([]interface{}{"a", 1, 2, "dropped", "b"})
	require.Len(t, fields, 1)
	assert.Equal(t, "a", fields[0].Key)
	assert.Nil(t, convertToZapFields(nil))
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info("ignored", "k", "v")
	logger.WithFields(map[string]interface{}{"k": 1}).Error("ignored")
	assert.NoError(t, logger.Sync())
}
