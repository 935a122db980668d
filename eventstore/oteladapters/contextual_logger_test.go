package oteladapters_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/noop"

	. "github.com/AntonStoeckl/aggregate-eventstore-go/eventstore/oteladapters"
)

func Test_SlogBridgeLoggerWithHandler_LogsAllLevels(t *testing.T) {
	// setup
	var buf bytes.Buffer
	logger := NewSlogBridgeLoggerWithHandler("eventstore", slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	// act
	logger.DebugContext(ctx, "debug message", "duration_ms", 1.5)
	logger.InfoContext(ctx, "info message", "event_count", 3)
	logger.WarnContext(ctx, "warn message")
	logger.ErrorContext(ctx, "error message", "error", "boom")

	// assert
	output := buf.String()
	assert.Contains(t, output, `"level":"DEBUG","msg":"debug message","logger":"eventstore","duration_ms":1.5`)
	assert.Contains(t, output, `"level":"INFO","msg":"info message","logger":"eventstore","event_count":3`)
	assert.Contains(t, output, `"level":"WARN","msg":"warn message"`)
	assert.Contains(t, output, `"level":"ERROR","msg":"error message","logger":"eventstore","error":"boom"`)
}

func Test_NewSlogBridgeLogger_UsesTheGlobalProvider(t *testing.T) {
	logger := NewSlogBridgeLogger("eventstore")

	assert.NotPanics(t, func() {
		logger.InfoContext(context.Background(), "info message", "key", "value")
	})
}

func Test_OTelLogger_EmitsOnAllLevels(t *testing.T) {
	// setup
	logger := NewOTelLogger(noop.NewLoggerProvider().Logger("eventstore"))
	ctx := context.Background()

	// act + assert
	assert.NotPanics(t, func() {
		logger.DebugContext(ctx, "debug message", "duration_ms", 1.5)
		logger.InfoContext(ctx, "info message", "event_count", 3)
		logger.WarnContext(ctx, "warn message", "dangling_key")
		logger.ErrorContext(ctx, "error message")
	})
}

func Test_KeyValues(t *testing.T) {
	// act
	attrs := KeyValues(
		"operation", "commit",
		"event_count", 3,
		"aggregate_id", int64(42),
		"duration_ms", 1.25,
		"found", true,
		"error", errors.New("boom"),
		7, "non-string key",
		"dangling",
	)

	// assert
	require.Len(t, attrs, 6)

	assert.Equal(t, "operation", attrs[0].Key)
	assert.Equal(t, "commit", attrs[0].Value.AsString())

	assert.Equal(t, log.KindInt64, attrs[1].Value.Kind())
	assert.Equal(t, int64(3), attrs[1].Value.AsInt64())

	assert.Equal(t, int64(42), attrs[2].Value.AsInt64())

	assert.Equal(t, log.KindFloat64, attrs[3].Value.Kind())
	assert.InDelta(t, 1.25, attrs[3].Value.AsFloat64(), 0.0001)

	assert.Equal(t, log.KindBool, attrs[4].Value.Kind())
	assert.True(t, attrs[4].Value.AsBool())

	assert.Equal(t, "error", attrs[5].Key)
	assert.Equal(t, "boom", attrs[5].Value.AsString())
}
