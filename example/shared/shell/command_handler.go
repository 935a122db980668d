package shell

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
)

var ErrNilEventStore = errors.New("event store must not be nil")

// CommandFunc runs one command against a fresh EventContext. The EventContext is committed when it returns nil.
type CommandFunc func(ctx context.Context, ec *eventstore.EventContext) error

// CommandHandlerOption configures a CommandHandler.
type CommandHandlerOption func(*CommandHandler) error

func WithLogger(logger eventstore.Logger) CommandHandlerOption {
	return func(h *CommandHandler) error {
		h.logger = logger
		return nil
	}
}

func WithContextualLogger(logger eventstore.ContextualLogger) CommandHandlerOption {
	return func(h *CommandHandler) error {
		h.contextualLogger = logger
		return nil
	}
}

func WithMetrics(collector eventstore.MetricsCollector) CommandHandlerOption {
	return func(h *CommandHandler) error {
		h.metricsCollector = collector
		return nil
	}
}

func WithTracing(collector eventstore.TracingCollector) CommandHandlerOption {
	return func(h *CommandHandler) error {
		h.tracingCollector = collector
		return nil
	}
}

// WithRetryOptions configures the retry on concurrency conflicts.
func WithRetryOptions(options ...RetryOption) CommandHandlerOption {
	return func(h *CommandHandler) error {
		h.retryOptions = append(h.retryOptions, options...)
		return nil
	}
}

// CommandHandler runs commands in their own unit of work and retries them on concurrency conflicts.
type CommandHandler struct {
	es               *eventstore.EventStore
	retryOptions     []RetryOption
	logger           eventstore.Logger
	contextualLogger eventstore.ContextualLogger
	metricsCollector eventstore.MetricsCollector
	tracingCollector eventstore.TracingCollector
}

func NewCommandHandler(es *eventstore.EventStore, options ...CommandHandlerOption) (*CommandHandler, error) {
	if es == nil {
		return nil, ErrNilEventStore
	}

	h := &CommandHandler{es: es}

	for _, option := range options {
		if err := option(h); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// Handle runs fn inside eventstore.EventStore.WithContext until it commits or fails with an error
// other than a concurrency conflict.
func (h *CommandHandler) Handle(ctx context.Context, commandType string, fn CommandFunc) error {
	start := time.Now()

	var span eventstore.SpanContext
	if h.tracingCollector != nil {
		ctx, span = h.tracingCollector.StartSpan(ctx, SpanNameCommandHandle, map[string]string{LogAttrCommandType: commandType})
	}

	options := h.retryOptions
	if h.metricsCollector != nil {
		options = append(append([]RetryOption{}, options...), WithRetryMetrics(h.metricsCollector, commandType))
	}

	result, err := RetryOnConflict(
		ctx,
		func(ctx context.Context) error { return h.es.WithContext(ctx, fn) },
		options...,
	)

	duration := time.Since(start)
	status := classify(err)

	h.recordMetrics(ctx, commandType, status, duration)
	h.log(ctx, commandType, status, duration, result.Attempts, err)

	if span != nil {
		attrs := map[string]string{
			LogAttrStatus:     status,
			LogAttrDurationMS: fmt.Sprintf("%.2f", toMilliseconds(duration)),
			LogAttrAttempts:   fmt.Sprintf("%d", result.Attempts),
		}

		if err != nil {
			attrs[LogAttrError] = err.Error()
		}

		spanStatus := eventstore.StatusSuccess
		if status == StatusError {
			spanStatus = eventstore.StatusError
		}

		h.tracingCollector.FinishSpan(span, spanStatus, attrs)
	}

	return err
}

// classify tells domain rejections apart from failures of the store or the caller's context.
func classify(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, eventstore.ErrStorageEngine),
		errors.Is(err, eventstore.ErrAggregateNotFound),
		errors.Is(err, eventstore.ErrApplyEvent),
		errors.Is(err, eventstore.ErrApplySnapshot),
		errors.Is(err, eventstore.ErrEventSerialization),
		errors.Is(err, eventstore.ErrSnapshotSerialization),
		errors.Is(err, eventstore.ErrSnapshotDeserialization),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return StatusError
	default:
		return StatusRejected
	}
}

func (h *CommandHandler) recordMetrics(ctx context.Context, commandType, status string, duration time.Duration) {
	if h.metricsCollector == nil {
		return
	}

	labels := map[string]string{LogAttrCommandType: commandType, LogAttrStatus: status}

	if contextual, ok := h.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, CommandDurationMetric, duration, labels)
		contextual.IncrementCounterContext(ctx, CommandCallsMetric, labels)
	} else {
		h.metricsCollector.RecordDuration(CommandDurationMetric, duration, labels)
		h.metricsCollector.IncrementCounter(CommandCallsMetric, labels)
	}
}

func (h *CommandHandler) log(ctx context.Context, commandType, status string, duration time.Duration, attempts int, err error) {
	args := []any{
		LogAttrCommandType, commandType,
		LogAttrDurationMS, toMilliseconds(duration),
		LogAttrAttempts, attempts,
	}

	if err != nil {
		args = append(args, LogAttrError, err.Error())
	}

	switch status {
	case StatusSuccess:
		if h.logger != nil {
			h.logger.Info(LogMsgCommandCompleted, args...)
		}

		if h.contextualLogger != nil {
			h.contextualLogger.InfoContext(ctx, LogMsgCommandCompleted, args...)
		}

	case StatusRejected:
		if h.logger != nil {
			h.logger.Warn(LogMsgCommandRejected, args...)
		}

		if h.contextualLogger != nil {
			h.contextualLogger.WarnContext(ctx, LogMsgCommandRejected, args...)
		}

	default:
		if h.logger != nil {
			h.logger.Error(LogMsgCommandFailed, args...)
		}

		if h.contextualLogger != nil {
			h.contextualLogger.ErrorContext(ctx, LogMsgCommandFailed, args...)
		}
	}
}

func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
