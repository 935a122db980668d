package helper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
)

const (
	CounterAggregateType        = "counter"
	CounterIncrementedEventType = "counter_incremented"
)

var (
	ErrInvalidIncrement    = errors.New("increment must be positive")
	ErrUnknownCounterEvent = errors.New("unknown counter event")
)

// Counter is a composed aggregate state that sums up increments.
type Counter struct {
	Count int64 `json:"count"`
}

// Increment is the only command a Counter accepts.
type Increment struct {
	By int64
}

// CounterIncremented is the payload of CounterIncrementedEventType.
type CounterIncremented struct {
	By int64 `json:"by"`
}

func (c *Counter) AggregateType() string {
	return CounterAggregateType
}

func (c *Counter) ApplyEvent(event eventstore.Event) error {
	if event.EventType != CounterIncrementedEventType {
		return ErrUnknownCounterEvent
	}

	var payload CounterIncremented
	if err := event.Decode(&payload); err != nil {
		return err
	}

	c.Count += payload.By

	return nil
}

func (c *Counter) Request(command Increment) (string, any, error) {
	if command.By <= 0 {
		return "", nil, ErrInvalidIncrement
	}

	return CounterIncrementedEventType, CounterIncremented{By: command.By}, nil
}

// CounterAggregate is the composed aggregate around Counter.
type CounterAggregate = eventstore.Composed[Counter, *Counter]

// GivenEventStore creates an EventStore on top of engine or fails the test.
func GivenEventStore(t testing.TB, engine eventstore.StorageEngine, options ...eventstore.Option) *eventstore.EventStore {
	es, err := eventstore.NewEventStore(engine, options...)
	require.NoError(t, err, "error in arranging test data")

	return es
}

// GivenCommittedCounter creates a counter, increments it once per value in increments, commits,
// and returns its id.
func GivenCommittedCounter(t testing.TB, ctx context.Context, es *eventstore.EventStore, increments ...int64) int64 {
	id, err := eventstore.WithContextReturning(ctx, es, func(ctx context.Context, ec *eventstore.EventContext) (int64, error) {
		counter, err := eventstore.NewComposed[Counter](ctx, ec, "")
		if err != nil {
			return 0, err
		}

		for _, by := range increments {
			if err = eventstore.Request(counter, Increment{By: by}); err != nil {
				return 0, err
			}
		}

		return counter.ID(), nil
	})
	require.NoError(t, err, "error in arranging test data")

	return id
}

// GivenLoadedCounter loads the counter with the given id through a fresh EventContext or fails the test.
func GivenLoadedCounter(t testing.TB, ctx context.Context, es *eventstore.EventStore, id int64) *CounterAggregate {
	counter, err := eventstore.LoadComposed[Counter](ctx, es.GetContext(), id)
	require.NoError(t, err, "error in arranging test data")

	return counter
}
