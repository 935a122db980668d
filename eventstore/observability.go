package eventstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Logger interface for operational logging, warnings, and error reporting.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsCollector interface for collecting EventStore performance and operational metrics.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// ContextualMetricsCollector extends MetricsCollector with context-aware methods for better tracing integration.
// This interface is optional - EventStore uses the context-aware methods when available and falls back to
// the base MetricsCollector interface otherwise.
type ContextualMetricsCollector interface {
	MetricsCollector
	RecordDurationContext(ctx context.Context, metric string, duration time.Duration, labels map[string]string)
	IncrementCounterContext(ctx context.Context, metric string, labels map[string]string)
	RecordValueContext(ctx context.Context, metric string, value float64, labels map[string]string)
}

// SpanContext represents an active tracing span that can be finished and updated with attributes.
type SpanContext interface {
	SetStatus(status string)
	AddAttribute(key, value string)
}

// TracingCollector interface for collecting distributed tracing information from EventStore operations.
// It is dependency-free, so any tracing backend (OpenTelemetry, Jaeger, Zipkin, etc.) can be plugged in.
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

// ContextualLogger interface for context-aware logging with automatic trace correlation.
// *slog.Logger satisfies it.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

const (
	logMsgOperation           = "eventstore operation: "
	logMsgOperationFailed     = "eventstore operation failed: "
	logMsgConcurrencyConflict = "concurrency conflict detected"
	logMsgSnapshotSkipped     = "snapshot capture failed, event captured without snapshot"
	logAttrError              = "error"
	logAttrDurationMS         = "duration_ms"
	logAttrEventCount         = "event_count"
	logAttrSnapshotCount      = "snapshot_count"
	logAttrAggregateType      = "aggregate_type"
	logAttrAggregateID        = "aggregate_id"
	logAttrVersion            = "version"
	logAttrContextID          = "context_id"
	logAttrFound              = "found"

	// Operation names used for spans, metric labels, and log messages.
	OperationNextAggregateID        = "next_aggregate_id"
	OperationGetAggregateInstanceID = "get_aggregate_instance_id"
	OperationGetEvents              = "get_events"
	OperationGetSnapshot            = "get_snapshot"
	OperationWriteUpdates           = "write_updates"

	// Metric names.
	MetricEventsWritten        = "eventstore_events_written_total"
	MetricSnapshotsWritten     = "eventstore_snapshots_written_total"
	MetricConcurrencyConflicts = "eventstore_concurrency_conflicts_total"
	MetricErrors               = "eventstore_errors_total"
	MetricEventsRead           = "eventstore_events_read"

	spanNamePrefix     = "eventstore."
	spanAttrOperation  = "operation"
	spanAttrErrorType  = "error_type"
	spanAttrDurationMS = "duration_ms"
	labelStatus        = "status"
	labelConflictType  = "conflict_type"

	StatusSuccess  = "success"
	StatusError    = "error"
	StatusConflict = "conflict"

	ErrorTypeConcurrencyConflict = "concurrency_conflict"
	ErrorTypeNaturalKeyConflict  = "natural_key_conflict"
	ErrorTypeCanceled            = "context_canceled"
	ErrorTypeDeadlineExceeded    = "context_deadline_exceeded"
	ErrorTypeStorage             = "storage_error"
)

// DurationMetricName returns the duration histogram name for an operation.
func DurationMetricName(operation string) string {
	return "eventstore_" + operation + "_duration_seconds"
}

// operationObserver encapsulates logging, metrics, and tracing for one EventStore operation.
type operationObserver struct {
	es        *EventStore
	ctx       context.Context
	operation string
	span      SpanContext
	start     time.Time
}

// observe starts observing an operation and returns the context carrying the tracing span.
func (es *EventStore) observe(
	ctx context.Context,
	operation string,
	attrs map[string]string,
) (context.Context, *operationObserver) {

	spanAttrs := map[string]string{spanAttrOperation: operation}
	for key, value := range attrs {
		spanAttrs[key] = value
	}

	spanCtx, span := es.startTraceSpan(ctx, spanNamePrefix+operation, spanAttrs)

	return spanCtx, &operationObserver{
		es:        es,
		ctx:       spanCtx,
		operation: operation,
		span:      span,
		start:     time.Now(),
	}
}

// succeed records a successful operation. args are logged as key/value pairs.
func (o *operationObserver) succeed(args ...any) {
	duration := time.Since(o.start)

	o.es.recordDurationMetrics(o.ctx, DurationMetricName(o.operation), duration, o.operation, StatusSuccess)

	logArgs := append([]any{logAttrDurationMS, toMilliseconds(duration)}, args...)
	o.es.logOperation(o.ctx, o.operation, logArgs...)

	if o.span != nil {
		o.span.AddAttribute(spanAttrDurationMS, fmt.Sprintf("%.2f", toMilliseconds(duration)))
	}

	o.es.finishTraceSpan(o.span, StatusSuccess, nil)
}

// fail records a failed operation.
func (o *operationObserver) fail(err error, args ...any) {
	duration := time.Since(o.start)
	errorType := classifyError(err)

	o.es.recordDurationMetrics(o.ctx, DurationMetricName(o.operation), duration, o.operation, StatusError)
	o.es.recordErrorMetrics(o.ctx, o.operation, errorType)

	status := StatusError
	if errorType == ErrorTypeConcurrencyConflict {
		status = StatusConflict
		o.es.recordConcurrencyConflictMetrics(o.ctx, o.operation)
		o.es.logOperation(o.ctx, logMsgConcurrencyConflict, args...)
	} else {
		o.es.logError(o.ctx, logMsgOperationFailed+o.operation, err, args...)
	}

	o.es.finishTraceSpan(o.span, status, map[string]string{
		spanAttrErrorType:  errorType,
		spanAttrDurationMS: fmt.Sprintf("%.2f", toMilliseconds(duration)),
	})
}

// classifyError maps an error to a low-cardinality label value.
func classifyError(err error) string {
	switch {
	case errors.Is(err, ErrConcurrencyConflict):
		return ErrorTypeConcurrencyConflict
	case errors.Is(err, ErrNaturalKeyConflict):
		return ErrorTypeNaturalKeyConflict
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeDeadlineExceeded
	default:
		return ErrorTypeStorage
	}
}

// logOperation logs operational information at info level to every configured logger.
func (es *EventStore) logOperation(ctx context.Context, action string, args ...any) {
	if es.logger != nil {
		es.logger.Info(logMsgOperation+action, args...)
	}

	if es.contextualLogger != nil {
		es.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
	}
}

// logWarn logs non-critical issues to every configured logger.
func (es *EventStore) logWarn(ctx context.Context, message string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if es.logger != nil {
		es.logger.Warn(message, allArgs...)
	}

	if es.contextualLogger != nil {
		es.contextualLogger.WarnContext(ctx, message, allArgs...)
	}
}

// logError logs error information at the error level to every configured logger.
func (es *EventStore) logError(ctx context.Context, message string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if es.logger != nil {
		es.logger.Error(message, allArgs...)
	}

	if es.contextualLogger != nil {
		es.contextualLogger.ErrorContext(ctx, message, allArgs...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// recordDurationMetrics records duration metrics with context if the collector supports it.
func (es *EventStore) recordDurationMetrics(
	ctx context.Context,
	metricName string,
	duration time.Duration,
	operation, status string,
) {
	if es.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		labelStatus:       status,
	}

	if contextualCollector, ok := es.metricsCollector.(ContextualMetricsCollector); ok {
		contextualCollector.RecordDurationContext(ctx, metricName, duration, labels)
	} else {
		es.metricsCollector.RecordDuration(metricName, duration, labels)
	}
}

// recordValueMetrics records value metrics with context if the collector supports it.
func (es *EventStore) recordValueMetrics(
	ctx context.Context,
	metricName string,
	value float64,
	operation string,
) {
	if es.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		labelStatus:       StatusSuccess,
	}

	if contextualCollector, ok := es.metricsCollector.(ContextualMetricsCollector); ok {
		contextualCollector.RecordValueContext(ctx, metricName, value, labels)
	} else {
		es.metricsCollector.RecordValue(metricName, value, labels)
	}
}

// incrementCounter increments a counter n times, with context if the collector supports it.
func (es *EventStore) incrementCounter(ctx context.Context, metricName string, labels map[string]string, n int) {
	if es.metricsCollector == nil {
		return
	}

	contextualCollector, isContextual := es.metricsCollector.(ContextualMetricsCollector)

	for i := 0; i < n; i++ {
		if isContextual {
			contextualCollector.IncrementCounterContext(ctx, metricName, labels)
		} else {
			es.metricsCollector.IncrementCounter(metricName, labels)
		}
	}
}

// recordErrorMetrics records error metrics if the metrics collector is configured.
func (es *EventStore) recordErrorMetrics(ctx context.Context, operation, errorType string) {
	es.incrementCounter(ctx, MetricErrors, map[string]string{
		spanAttrOperation: operation,
		labelStatus:       StatusError,
		spanAttrErrorType: errorType,
	}, 1)
}

// recordConcurrencyConflictMetrics records concurrency conflict metrics if the metrics collector is configured.
func (es *EventStore) recordConcurrencyConflictMetrics(ctx context.Context, operation string) {
	es.incrementCounter(ctx, MetricConcurrencyConflicts, map[string]string{
		spanAttrOperation: operation,
		labelConflictType: "concurrency",
	}, 1)
}

// startTraceSpan starts a tracing span if the tracing collector is configured.
func (es *EventStore) startTraceSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, SpanContext) {

	if es.tracingCollector != nil {
		return es.tracingCollector.StartSpan(ctx, name, attrs)
	}

	return ctx, nil
}

// finishTraceSpan finishes a tracing span if the tracing collector is configured.
func (es *EventStore) finishTraceSpan(spanCtx SpanContext, status string, attrs map[string]string) {
	if es.tracingCollector != nil && spanCtx != nil {
		spanCtx.SetStatus(status)
		es.tracingCollector.FinishSpan(spanCtx, status, attrs)
	}
}
