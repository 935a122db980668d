package eventstore

import (
	"context"
	"errors"
	"strconv"
)

// EventStore owns a StorageEngine and mints EventContexts bound to it.
//
// All engine access of contexts and aggregates goes through the EventStore, which wraps engine failures
// into StorageEngineError and reports every call to the optional logger, metrics, and tracing collectors.
type EventStore struct {
	engine           StorageEngine
	logger           Logger
	contextualLogger ContextualLogger
	metricsCollector MetricsCollector
	tracingCollector TracingCollector
}

// Option defines a functional option for configuring EventStore.
type Option func(*EventStore) error

// WithLogger sets the logger for the EventStore.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Info level: Operation summaries with event counts and durations, concurrency conflicts (production-safe)
// Warn level: Non-critical issues like failed snapshot captures
// Error level: Failures of storage engine operations.
func WithLogger(logger Logger) Option {
	return func(es *EventStore) error {
		es.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the EventStore.
// It receives the same messages as the Logger, together with the context of the call for trace correlation.
func WithContextualLogger(logger ContextualLogger) Option {
	return func(es *EventStore) error {
		es.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the EventStore.
// The collector receives operation durations, written event and snapshot counts,
// concurrency conflicts, and storage errors.
func WithMetrics(collector MetricsCollector) Option {
	return func(es *EventStore) error {
		es.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the EventStore.
// One span is created per storage engine operation.
func WithTracing(collector TracingCollector) Option {
	return func(es *EventStore) error {
		es.tracingCollector = collector
		return nil
	}
}

// NewEventStore creates a new EventStore on top of the given StorageEngine with optional configuration.
func NewEventStore(engine StorageEngine, options ...Option) (*EventStore, error) {
	if engine == nil {
		return nil, ErrNilStorageEngine
	}

	es := &EventStore{engine: engine}

	for _, option := range options {
		if err := option(es); err != nil {
			return nil, err
		}
	}

	return es, nil
}

// GetContext returns a fresh EventContext bound to this EventStore.
func (es *EventStore) GetContext() *EventContext {
	return newEventContext(es)
}

// NextAggregateID allocates the id of a new aggregate instance.
//
// With a non-empty natural key, repeated calls for the same (aggregateType, naturalKey) return the same id.
func (es *EventStore) NextAggregateID(ctx context.Context, aggregateType string, naturalKey string) (int64, error) {
	if aggregateType == "" {
		return 0, ErrEmptyAggregateType
	}

	ctx, observer := es.observe(ctx, OperationNextAggregateID, map[string]string{logAttrAggregateType: aggregateType})

	id, err := es.nextAggregateID(ctx, aggregateType, naturalKey)
	if err != nil {
		err = wrapStorageEngineError(OperationNextAggregateID, err)
		observer.fail(err, logAttrAggregateType, aggregateType)

		return 0, err
	}

	observer.succeed(logAttrAggregateType, aggregateType, logAttrAggregateID, id)

	return id, nil
}

func (es *EventStore) nextAggregateID(ctx context.Context, aggregateType string, naturalKey string) (int64, error) {
	if naturalKey == "" {
		return es.engine.CreateAggregateInstance(ctx, aggregateType, "")
	}

	id, found, err := es.engine.GetAggregateInstanceID(ctx, aggregateType, naturalKey)
	if err != nil {
		return 0, err
	}

	if found {
		return id, nil
	}

	id, err = es.engine.CreateAggregateInstance(ctx, aggregateType, naturalKey)
	if errors.Is(err, ErrNaturalKeyConflict) {
		// a concurrent caller created the instance between lookup and insert
		id, found, err = es.engine.GetAggregateInstanceID(ctx, aggregateType, naturalKey)
		if err == nil && !found {
			err = ErrNaturalKeyConflict
		}
	}

	return id, err
}

// GetAggregateInstanceID resolves a natural key to the id of an existing aggregate instance.
func (es *EventStore) GetAggregateInstanceID(
	ctx context.Context,
	aggregateType string,
	naturalKey string,
) (int64, bool, error) {

	ctx, observer := es.observe(ctx, OperationGetAggregateInstanceID, map[string]string{logAttrAggregateType: aggregateType})

	id, found, err := es.engine.GetAggregateInstanceID(ctx, aggregateType, naturalKey)
	if err != nil {
		err = wrapStorageEngineError(OperationGetAggregateInstanceID, err)
		observer.fail(err, logAttrAggregateType, aggregateType)

		return 0, false, err
	}

	observer.succeed(logAttrAggregateType, aggregateType, logAttrFound, found)

	return id, found, nil
}

// GetEvents returns the events of an aggregate instance with a version greater than afterVersion, in ascending order.
func (es *EventStore) GetEvents(
	ctx context.Context,
	aggregateID int64,
	aggregateType string,
	afterVersion int64,
) (Events, error) {

	ctx, observer := es.observe(ctx, OperationGetEvents, map[string]string{
		logAttrAggregateType: aggregateType,
		logAttrAggregateID:   strconv.FormatInt(aggregateID, 10),
		logAttrVersion:       strconv.FormatInt(afterVersion, 10),
	})

	events, err := es.engine.ReadEvents(ctx, aggregateID, aggregateType, afterVersion)
	if err != nil {
		err = wrapStorageEngineError(OperationGetEvents, err)
		observer.fail(err, logAttrAggregateType, aggregateType, logAttrAggregateID, aggregateID)

		return nil, err
	}

	es.recordValueMetrics(ctx, MetricEventsRead, float64(len(events)), OperationGetEvents)
	observer.succeed(logAttrAggregateType, aggregateType, logAttrAggregateID, aggregateID, logAttrEventCount, len(events))

	return events, nil
}

// GetSnapshot returns the snapshot with the highest version of an aggregate instance, if there is one.
func (es *EventStore) GetSnapshot(
	ctx context.Context,
	aggregateID int64,
	aggregateType string,
) (Snapshot, bool, error) {

	ctx, observer := es.observe(ctx, OperationGetSnapshot, map[string]string{
		logAttrAggregateType: aggregateType,
		logAttrAggregateID:   strconv.FormatInt(aggregateID, 10),
	})

	snapshot, found, err := es.engine.ReadSnapshot(ctx, aggregateID, aggregateType)
	if err != nil {
		err = wrapStorageEngineError(OperationGetSnapshot, err)
		observer.fail(err, logAttrAggregateType, aggregateType, logAttrAggregateID, aggregateID)

		return Snapshot{}, false, err
	}

	observer.succeed(logAttrAggregateType, aggregateType, logAttrAggregateID, aggregateID, logAttrFound, found)

	return snapshot, found, nil
}

// WriteUpdates atomically persists a batch of events and snapshots.
func (es *EventStore) WriteUpdates(ctx context.Context, events Events, snapshots []Snapshot) error {
	ctx, observer := es.observe(ctx, OperationWriteUpdates, map[string]string{
		logAttrEventCount:    strconv.Itoa(len(events)),
		logAttrSnapshotCount: strconv.Itoa(len(snapshots)),
	})

	if err := es.engine.WriteUpdates(ctx, events, snapshots); err != nil {
		err = wrapStorageEngineError(OperationWriteUpdates, err)
		observer.fail(err, logAttrEventCount, len(events), logAttrSnapshotCount, len(snapshots))

		return err
	}

	labels := map[string]string{spanAttrOperation: OperationWriteUpdates, labelStatus: StatusSuccess}
	es.incrementCounter(ctx, MetricEventsWritten, labels, len(events))
	es.incrementCounter(ctx, MetricSnapshotsWritten, labels, len(snapshots))
	observer.succeed(logAttrEventCount, len(events), logAttrSnapshotCount, len(snapshots))

	return nil
}

// WithContext runs fn against a fresh EventContext and commits it only if fn succeeds.
func (es *EventStore) WithContext(ctx context.Context, fn func(ctx context.Context, ec *EventContext) error) error {
	ec := es.GetContext()

	if err := fn(ctx, ec); err != nil {
		return err
	}

	return ec.Commit(ctx)
}

// WithContextReturning runs fn against a fresh EventContext of es, commits it only if fn succeeds,
// and returns fn's result.
func WithContextReturning[R any](
	ctx context.Context,
	es *EventStore,
	fn func(ctx context.Context, ec *EventContext) (R, error),
) (R, error) {

	var zero R

	ec := es.GetContext()

	result, err := fn(ctx, ec)
	if err != nil {
		return zero, err
	}

	if err = ec.Commit(ctx); err != nil {
		return zero, err
	}

	return result, nil
}
