package eventstore_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore/memengine"
	. "github.com/AntonStoeckl/aggregate-eventstore-go/testutil/helper"
)

func Test_EventContext_Publish_AssignsSequentialVersions(t *testing.T) {
	// setup
	ctx := context.Background()
	es := GivenEventStore(t, memengine.NewStorageEngine())
	ec := es.GetContext()

	// arrange
	counter, err := NewComposed[Counter](ctx, ec, "")
	require.NoError(t, err)

	// act
	for _, by := range []int64{1, 2, 3} {
		require.NoError(t, Request(counter, Increment{By: by}))
	}

	// assert
	pending := ec.PendingEvents()
	assert.Len(t, pending, 3)

	for i, event := range pending {
		assert.Equal(t, int64(i+1), event.Version)
		assert.Equal(t, counter.ID(), event.AggregateID)
		assert.Equal(t, CounterAggregateType, event.AggregateType)
		assert.Equal(t, CounterIncrementedEventType, event.EventType)
		assert.False(t, event.HasMetadata())
	}

	assert.Equal(t, int64(3), counter.Version())
	assert.Equal(t, int64(6), counter.State().Count)
}

func Test_EventContext_Publish_When_CommandIsRejected(t *testing.T) {
	// setup
	ctx := context.Background()
	es := GivenEventStore(t, memengine.NewStorageEngine())
	ec := es.GetContext()

	// arrange
	counter, err := NewComposed[Counter](ctx, ec, "")
	require.NoError(t, err)
	require.NoError(t, Request(counter, Increment{By: 5}))

	// act
	err = Request(counter, Increment{By: -1})

	// assert
	assert.ErrorIs(t, err, ErrInvalidIncrement)
	assert.Equal(t, int64(1), counter.Version())
	assert.Equal(t, int64(5), counter.State().Count)
	assert.Len(t, ec.PendingEvents(), 1)
}

func Test_EventContext_Publish_When_ApplyEventFails(t *testing.T) {
	// setup
	ctx := context.Background()
	es := GivenEventStore(t, memengine.NewStorageEngine())
	ec := es.GetContext()

	// arrange
	counter, err := NewComposed[Counter](ctx, ec, "")
	require.NoError(t, err)

	// act
	err = counter.Publish("counter_exploded", struct{}{})

	// assert
	assert.ErrorIs(t, err, ErrApplyEvent)
	assert.ErrorIs(t, err, ErrUnknownCounterEvent)
	assert.Equal(t, int64(0), counter.Version())
	assert.Empty(t, ec.PendingEvents())
}

func Test_EventContext_Publish_When_PayloadCannotBeEncoded(t *testing.T) {
	// setup
	ctx := context.Background()
	es := GivenEventStore(t, memengine.NewStorageEngine())
	ec := es.GetContext()

	// arrange
	counter, err := NewComposed[Counter](ctx, ec, "")
	require.NoError(t, err)

	// act
	err = counter.Publish(CounterIncrementedEventType, make(chan int))

	// assert
	assert.ErrorIs(t, err, ErrEventSerialization)
	assert.Equal(t, int64(0), counter.Version())
	assert.Empty(t, ec.PendingEvents())
}

func Test_EventContext_Commit_PersistsEvents_And_ClearsBuffers(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := memengine.NewStorageEngine()
	es := GivenEventStore(t, engine)
	ec := es.GetContext()

	// arrange
	counter, err := NewComposed[Counter](ctx, ec, "")
	require.NoError(t, err)
	require.NoError(t, Request(counter, Increment{By: 1}))
	require.NoError(t, Request(counter, Increment{By: 1}))

	// act
	err = ec.Commit(ctx)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, 2, engine.EventCount())
	assert.Empty(t, ec.PendingEvents())
	assert.Empty(t, ec.PendingSnapshots())

	assert.NoError(t, ec.Commit(ctx), "a second commit is a no-op")
	assert.Equal(t, 2, engine.EventCount())
}

func Test_EventContext_Commit_When_ContextIsEmpty(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := memengine.NewStorageEngine()
	spy := NewMetricsCollectorSpy(true)
	es := GivenEventStore(t, engine, WithMetrics(spy))

	// act
	err := es.GetContext().Commit(ctx)

	// assert
	assert.NoError(t, err)
	assert.Zero(t, spy.CountDurationRecordsForMetric(DurationMetricName(OperationWriteUpdates)), "no storage call for an empty batch")
}

func Test_EventContext_Load_ReconstructsState(t *testing.T) {
	// setup
	ctx := context.Background()
	es := GivenEventStore(t, memengine.NewStorageEngine())

	// arrange
	id := GivenCommittedCounter(t, ctx, es, 4, 5, 6)

	// act
	counter, err := LoadComposed[Counter](ctx, es.GetContext(), id)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, id, counter.ID())
	assert.Equal(t, int64(3), counter.Version())
	assert.Equal(t, int64(15), counter.State().Count)
}

func Test_EventContext_Load_ContinuesAfterSeveralCommitCycles(t *testing.T) {
	// setup
	ctx := context.Background()
	es := GivenEventStore(t, memengine.NewStorageEngine())

	// arrange
	id := GivenCommittedCounter(t, ctx, es, 1)

	var lastInMemory Counter

	for cycle := 0; cycle < 3; cycle++ {
		ec := es.GetContext()
		counter, err := LoadComposed[Counter](ctx, ec, id)
		require.NoError(t, err)
		require.NoError(t, Request(counter, Increment{By: 10}))
		lastInMemory = counter.State()
		require.NoError(t, ec.Commit(ctx))
	}

	// act
	counter := GivenLoadedCounter(t, ctx, es, id)

	// assert
	assert.Equal(t, lastInMemory, counter.State())
	assert.Equal(t, int64(31), counter.State().Count)
	assert.Equal(t, int64(4), counter.Version())
}

func Test_EventContext_Load_When_AggregateDoesNotExist(t *testing.T) {
	// setup
	ctx := context.Background()
	es := GivenEventStore(t, memengine.NewStorageEngine())

	// act
	_, err := LoadComposed[Counter](ctx, es.GetContext(), 4711)

	// assert
	assert.ErrorIs(t, err, ErrAggregateNotFound)
}

func Test_EventContext_Load_When_EventVersionsHaveAGap(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := memengine.NewStorageEngine()
	es := GivenEventStore(t, engine)

	// arrange
	first, err := NewEvent(1, CounterAggregateType, 1, CounterIncrementedEventType, CounterIncremented{By: 1})
	require.NoError(t, err)
	third, err := NewEvent(1, CounterAggregateType, 3, CounterIncrementedEventType, CounterIncremented{By: 1})
	require.NoError(t, err)
	require.NoError(t, engine.WriteUpdates(ctx, Events{first, third}, nil))

	// act
	_, err = LoadComposed[Counter](ctx, es.GetContext(), 1)

	// assert
	assert.ErrorIs(t, err, ErrApplyEvent)
}

func Test_EventContext_TakesSnapshot_EveryFrequencyVersions(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := memengine.NewStorageEngine()
	es := GivenEventStore(t, engine)

	// arrange
	increments := make([]int64, 100)
	for i := range increments {
		increments[i] = 100
	}

	// act
	id := GivenCommittedCounter(t, ctx, es, increments...)

	// assert
	assert.Equal(t, 100, engine.EventCount())
	assert.Equal(t, 10, engine.SnapshotCount())

	snapshot, found, err := engine.ReadSnapshot(ctx, id, CounterAggregateType)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(100), snapshot.Version)

	counter := GivenLoadedCounter(t, ctx, es, id)
	assert.Equal(t, int64(10_000), counter.State().Count)
	assert.Equal(t, int64(100), counter.Version())
}

func Test_EventContext_Load_UsesSnapshotAndTrailingEvents(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := memengine.NewStorageEngine()
	spy := NewMetricsCollectorSpy(true)
	es := GivenEventStore(t, engine, WithMetrics(spy))

	// arrange
	increments := make([]int64, 17)
	for i := range increments {
		increments[i] = 1
	}

	id := GivenCommittedCounter(t, ctx, es, increments...)
	spy.Reset()

	// act
	counter := GivenLoadedCounter(t, ctx, es, id)

	// assert
	assert.Equal(t, int64(17), counter.Version())
	assert.Equal(t, int64(17), counter.State().Count)

	values := spy.GetValueRecords()
	require.Len(t, values, 1)
	assert.Equal(t, MetricEventsRead, values[0].Metric)
	assert.Equal(t, float64(7), values[0].Value, "only the events after the snapshot at version 10 are read")
}

func Test_EventContext_Snapshot_IncludesTheTriggeringEvent(t *testing.T) {
	// setup
	ctx := context.Background()
	es := GivenEventStore(t, memengine.NewStorageEngine())
	ec := es.GetContext()

	// arrange
	counter, err := NewComposed[Counter](ctx, ec, "")
	require.NoError(t, err)

	// act
	for i := 0; i < int(DefaultSnapshotFrequency); i++ {
		require.NoError(t, Request(counter, Increment{By: 2}))
	}

	// assert
	snapshots := ec.PendingSnapshots()
	require.Len(t, snapshots, 1)
	assert.Equal(t, DefaultSnapshotFrequency, snapshots[0].Version)

	var state Counter
	require.NoError(t, snapshots[0].Decode(&state))
	assert.Equal(t, int64(2*DefaultSnapshotFrequency), state.Count)
}

func Test_EventContext_AddMetadata_IsAttachedToPublishedEvents(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := memengine.NewStorageEngine()
	es := GivenEventStore(t, engine)
	ec := es.GetContext()

	// arrange
	counter, err := NewComposed[Counter](ctx, ec, "")
	require.NoError(t, err)

	require.NoError(t, Request(counter, Increment{By: 1}))
	ec.AddMetadata("user", "chavez")
	require.NoError(t, Request(counter, Increment{By: 1}))
	ec.AddMetadata("trace", "abc")

	// act
	require.NoError(t, ec.Commit(ctx))

	// assert
	events, err := engine.ReadEvents(ctx, counter.ID(), CounterAggregateType, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.False(t, events[0].HasMetadata(), "events published before AddMetadata carry none")

	metadata, err := events[1].DecodeMetadata()
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{"user": "chavez"}, metadata, "later additions do not change published events")
}

func Test_EventContext_Commit_When_ConcurrentContextsWriteTheSameVersion(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := memengine.NewStorageEngine(memengine.WithUniqueVersions())
	es := GivenEventStore(t, engine)

	// arrange
	id := GivenCommittedCounter(t, ctx, es, 1)

	first, second := es.GetContext(), es.GetContext()

	firstCounter, err := LoadComposed[Counter](ctx, first, id)
	require.NoError(t, err)
	secondCounter, err := LoadComposed[Counter](ctx, second, id)
	require.NoError(t, err)

	require.NoError(t, Request(firstCounter, Increment{By: 1}))
	require.NoError(t, Request(secondCounter, Increment{By: 2}))
	require.NoError(t, first.Commit(ctx))

	// act
	err = second.Commit(ctx)

	// assert
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.ErrorIs(t, err, ErrStorageEngine)
	assert.True(t, IsConcurrencyConflict(err))
	assert.Len(t, second.PendingEvents(), 1, "a failed commit keeps the buffers")
	assert.Equal(t, 2, engine.EventCount())

	reloaded := GivenLoadedCounter(t, ctx, es, id)
	assert.Equal(t, int64(2), reloaded.State().Count)
}

func Test_EventContext_Publish_When_SnapshotCannotBeTaken(t *testing.T) {
	// setup
	ctx := context.Background()
	logSpy := NewLogHandlerSpy(false)
	es := GivenEventStore(t, memengine.NewStorageEngine(), WithLogger(slog.New(logSpy)))
	ec := es.GetContext()

	// arrange
	aggregate := &unsnapshottableAggregate{id: 1}

	// act
	err := ec.Publish(aggregate, "touched", struct{}{})

	// assert
	assert.ErrorIs(t, err, ErrSnapshotSerialization)
	assert.Equal(t, int64(1), aggregate.Version())
	assert.Len(t, ec.PendingEvents(), 1, "the event stays captured")
	assert.Empty(t, ec.PendingSnapshots())
	assert.True(t, logSpy.HasWarnLogWithMessage("snapshot capture failed, event captured without snapshot").
		WithAttribute("version", "1").
		Assert())

	assert.NoError(t, ec.Commit(ctx))
	assert.NoError(t, ec.Load(ctx, &unsnapshottableAggregate{id: 1}), "replay works without the snapshot")
}

func Test_EventContext_ConcurrentPublishOnDifferentAggregates(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := memengine.NewStorageEngine(memengine.WithUniqueVersions())
	es := GivenEventStore(t, engine)
	ec := es.GetContext()

	// arrange
	const numAggregates = 8
	const numIncrements = 25

	counters := make([]*CounterAggregate, numAggregates)
	for i := range counters {
		counter, err := NewComposed[Counter](ctx, ec, "")
		require.NoError(t, err)
		counters[i] = counter
	}

	// act
	var wg sync.WaitGroup
	errs := make(chan error, numAggregates*numIncrements)

	for _, counter := range counters {
		wg.Add(1)

		go func(counter *CounterAggregate) {
			defer wg.Done()

			for i := 0; i < numIncrements; i++ {
				errs <- Request(counter, Increment{By: 1})
			}
		}(counter)
	}

	wg.Wait()
	close(errs)

	// assert
	for err := range errs {
		assert.NoError(t, err)
	}

	assert.NoError(t, ec.Commit(ctx))
	assert.Equal(t, numAggregates*numIncrements, engine.EventCount())

	for _, counter := range counters {
		reloaded := GivenLoadedCounter(t, ctx, es, counter.ID())
		assert.Equal(t, int64(numIncrements), reloaded.State().Count)
	}
}

func Test_WithContext_When_FnFails(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := memengine.NewStorageEngine()
	es := GivenEventStore(t, engine)
	errBoom := errors.New("boom")

	// act
	err := es.WithContext(ctx, func(ctx context.Context, ec *EventContext) error {
		counter, err := NewComposed[Counter](ctx, ec, "")
		if err != nil {
			return err
		}

		if err = Request(counter, Increment{By: 1}); err != nil {
			return err
		}

		return errBoom
	})

	// assert
	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, engine.EventCount(), "nothing is committed")
}

func Test_EventContext_IDsAreUnique(t *testing.T) {
	es := GivenEventStore(t, memengine.NewStorageEngine())

	assert.NotEqual(t, es.GetContext().ID(), es.GetContext().ID())
	assert.Same(t, es, es.GetContext().Store())
}

// unsnapshottableAggregate snapshots on every version but can never encode its state.
type unsnapshottableAggregate struct {
	id      int64
	version int64
}

func (a *unsnapshottableAggregate) ID() int64                { return a.id }
func (a *unsnapshottableAggregate) AggregateType() string    { return "unsnapshottable" }
func (a *unsnapshottableAggregate) Version() int64           { return a.version }
func (a *unsnapshottableAggregate) SnapshotFrequency() int64 { return 1 }

func (a *unsnapshottableAggregate) ApplySnapshot(snapshot Snapshot) error {
	a.version = snapshot.Version
	return nil
}

func (a *unsnapshottableAggregate) ApplyEvent(event Event) error {
	a.version = event.Version
	return nil
}

func (a *unsnapshottableAggregate) TakeSnapshot() (Snapshot, error) {
	return NewSnapshot(a.id, a.AggregateType(), a.version, make(chan int))
}

type taggedState struct {
	Tags map[string]int `json:"tags"`
}

type tagged struct {
	Tag string `json:"tag"`
}

var errDuplicateTag = errors.New("duplicate tag")

func (s *taggedState) AggregateType() string {
	return "tagged"
}

func (s *taggedState) ApplyEvent(event Event) error {
	var payload tagged
	if err := event.Decode(&payload); err != nil {
		return err
	}

	if s.Tags == nil {
		s.Tags = make(map[string]int)
	}

	s.Tags[payload.Tag]++

	if s.Tags[payload.Tag] > 1 {
		return errDuplicateTag
	}

	return nil
}

func Test_EventContext_Publish_When_ApplyEventFailsAfterMutatingAMap(t *testing.T) {
	// setup
	ctx := context.Background()
	es := GivenEventStore(t, memengine.NewStorageEngine())
	ec := es.GetContext()

	// arrange
	aggregate, err := NewComposed[taggedState](ctx, ec, "")
	require.NoError(t, err)
	require.NoError(t, aggregate.Publish("tagged", tagged{Tag: "a"}))

	// act
	err = aggregate.Publish("tagged", tagged{Tag: "a"})

	// assert
	assert.ErrorIs(t, err, ErrApplyEvent)
	assert.ErrorIs(t, err, errDuplicateTag)
	assert.Equal(t, int64(1), aggregate.Version())
	assert.Equal(t, map[string]int{"a": 1}, aggregate.State().Tags, "the failed fold leaves the state untouched")
	assert.Len(t, ec.PendingEvents(), 1)
}
