package shell

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
)

const (
	defaultMaxAttempts  = 6
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
)

var (
	ErrInvalidMaxAttempts  = errors.New("max attempts must be positive")
	ErrNegativeBaseDelay   = errors.New("base delay must not be negative")
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
)

// RetryableFunc is one attempt of an operation.
type RetryableFunc func(ctx context.Context) error

// RetryResult describes how a retried operation went.
type RetryResult struct {
	Attempts      int
	TotalDelay    time.Duration
	LastErrorType string
}

type retryConfig struct {
	maxAttempts      int
	baseDelay        time.Duration
	jitterFactor     float64
	metricsCollector eventstore.MetricsCollector
	commandType      string
}

// RetryOption configures RetryOnConflict.
type RetryOption func(*retryConfig) error

// WithMaxAttempts sets how often fn is called at most, including the first call.
func WithMaxAttempts(attempts int) RetryOption {
	return func(config *retryConfig) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}

		config.maxAttempts = attempts
		return nil
	}
}

// WithBaseDelay sets the delay before the first retry. Each further retry doubles it.
func WithBaseDelay(delay time.Duration) RetryOption {
	return func(config *retryConfig) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}

		config.baseDelay = delay
		return nil
	}
}

// WithJitterFactor adds up to factor times the delay as random jitter.
func WithJitterFactor(factor float64) RetryOption {
	return func(config *retryConfig) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}

		config.jitterFactor = factor
		return nil
	}
}

// WithRetryMetrics records retries and exhausted retries, labeled with commandType.
func WithRetryMetrics(collector eventstore.MetricsCollector, commandType string) RetryOption {
	return func(config *retryConfig) error {
		config.metricsCollector = collector
		config.commandType = commandType
		return nil
	}
}

// RetryOnConflict calls fn until it succeeds, fails with an error other than a concurrency conflict,
// or the attempts are used up. Retries wait with exponential backoff plus jitter:
// 10ms, 20ms, 40ms, 80ms, 160ms with the defaults.
//
// fn must start from scratch on every call, i.e. load its aggregates through a fresh EventContext.
func RetryOnConflict(ctx context.Context, fn RetryableFunc, options ...RetryOption) (RetryResult, error) {
	config := &retryConfig{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}

	for _, option := range options {
		if err := option(config); err != nil {
			return RetryResult{}, err
		}
	}

	var (
		result  RetryResult
		lastErr error
	)

	for attempt := 0; attempt < config.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff(config, attempt)
			config.recordDelay(ctx, attempt, delay)

			select {
			case <-time.After(delay):
				result.TotalDelay += delay
			case <-ctx.Done():
				result.LastErrorType = errorType(ctx.Err())
				return result, ctx.Err()
			}
		}

		result.Attempts++

		lastErr = fn(ctx)
		result.LastErrorType = errorType(lastErr)

		if lastErr == nil || !eventstore.IsConcurrencyConflict(lastErr) {
			return result, lastErr
		}

		if attempt < config.maxAttempts-1 {
			config.recordRetry(ctx, attempt+1, lastErr)
		}
	}

	config.recordExhausted(ctx, lastErr)

	return result, lastErr
}

func backoff(config *retryConfig, attempt int) time.Duration {
	delay := config.baseDelay * time.Duration(1<<(attempt-1))
	jitter := rand.Float64() * float64(delay) * config.jitterFactor //nolint:gosec // jitter needs no crypto

	return delay + time.Duration(jitter)
}

func (config *retryConfig) recordDelay(ctx context.Context, attempt int, delay time.Duration) {
	if config.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		LogAttrCommandType: config.commandType,
		LabelAttemptNumber: strconv.Itoa(attempt),
	}

	if contextual, ok := config.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, RetryDelayMetric, delay, labels)
	} else {
		config.metricsCollector.RecordDuration(RetryDelayMetric, delay, labels)
	}
}

func (config *retryConfig) recordRetry(ctx context.Context, attempt int, err error) {
	config.increment(ctx, RetriesMetric, map[string]string{
		LogAttrCommandType: config.commandType,
		LabelAttemptNumber: strconv.Itoa(attempt),
		LabelErrorType:     errorType(err),
	})
}

func (config *retryConfig) recordExhausted(ctx context.Context, err error) {
	config.increment(ctx, MaxRetriesReachedMetric, map[string]string{
		LogAttrCommandType:  config.commandType,
		LabelFinalErrorType: errorType(err),
	})
}

func (config *retryConfig) increment(ctx context.Context, metric string, labels map[string]string) {
	if config.metricsCollector == nil {
		return
	}

	if contextual, ok := config.metricsCollector.(eventstore.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
	} else {
		config.metricsCollector.IncrementCounter(metric, labels)
	}
}

func errorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		return eventstore.ErrorTypeConcurrencyConflict
	case errors.Is(err, context.Canceled):
		return eventstore.ErrorTypeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return eventstore.ErrorTypeDeadlineExceeded
	default:
		return "other"
	}
}
