package sqlengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
	. "github.com/AntonStoeckl/aggregate-eventstore-go/testutil/helper/enginewrapper" //nolint:revive
)

func givenEvent(t testing.TB, aggregateID int64, aggregateType string, version int64, eventType string) eventstore.Event {
	event, err := eventstore.NewEvent(aggregateID, aggregateType, version, eventType, map[string]int64{"v": version})
	require.NoError(t, err, "error in arranging test data")

	return event
}

func givenSnapshot(t testing.TB, aggregateID int64, aggregateType string, version int64) eventstore.Snapshot {
	snapshot, err := eventstore.NewSnapshot(aggregateID, aggregateType, version, map[string]int64{"version": version})
	require.NoError(t, err, "error in arranging test data")

	return snapshot
}

func Test_CreateAggregateInstance_AllocatesDistinctIDs(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateSQLWrapperWithTestConfig(t)
	defer wrapper.Close()
	engine := wrapper.GetSQLEngine()

	// act
	first, err1 := engine.CreateAggregateInstance(ctxWithTimeout, "account", "")
	second, err2 := engine.CreateAggregateInstance(ctxWithTimeout, "account", "")
	third, err3 := engine.CreateAggregateInstance(ctxWithTimeout, "user", "")

	// assert
	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.NoError(t, err3)
	assert.Positive(t, first)
	assert.NotEqual(t, first, second)
	assert.NotEqual(t, second, third)
}

func Test_CreateAggregateInstance_WithNaturalKey_ThenLookup(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateSQLWrapperWithTestConfig(t)
	defer wrapper.Close()
	engine := wrapper.GetSQLEngine()

	// arrange
	id, err := engine.CreateAggregateInstance(ctxWithTimeout, "user", "alice@example.com")
	require.NoError(t, err)

	// act
	found, ok, err := engine.GetAggregateInstanceID(ctxWithTimeout, "user", "alice@example.com")

	// assert
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, found)

	_, ok, err = engine.GetAggregateInstanceID(ctxWithTimeout, "user", "bob@example.com")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = engine.GetAggregateInstanceID(ctxWithTimeout, "user", "")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func Test_CreateAggregateInstance_When_NaturalKeyExists(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateSQLWrapperWithTestConfig(t)
	defer wrapper.Close()
	engine := wrapper.GetSQLEngine()

	// arrange
	_, err := engine.CreateAggregateInstance(ctxWithTimeout, "user", "alice@example.com")
	require.NoError(t, err)

	// act
	_, err = engine.CreateAggregateInstance(ctxWithTimeout, "user", "alice@example.com")

	// assert
	assert.ErrorIs(t, err, eventstore.ErrNaturalKeyConflict)

	_, err = engine.CreateAggregateInstance(ctxWithTimeout, "account", "alice@example.com")
	assert.NoError(t, err, "natural keys are scoped by aggregate type")
}

func Test_WriteUpdates_ThenReadEvents(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateSQLWrapperWithTestConfig(t)
	defer wrapper.Close()
	engine := wrapper.GetSQLEngine()

	// arrange
	withMetadata := givenEvent(t, 1, "account", 2, "withdrawn")
	require.NoError(t, withMetadata.AttachMetadata(map[string]string{"user": "chavez"}))

	err := engine.WriteUpdates(ctxWithTimeout, eventstore.Events{
		givenEvent(t, 1, "account", 1, "deposited"),
		withMetadata,
		givenEvent(t, 2, "account", 1, "deposited"),
		givenEvent(t, 3, "user", 1, "user_created"),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, engine.WriteUpdates(ctxWithTimeout, eventstore.Events{givenEvent(t, 1, "account", 3, "deposited")}, nil))

	// act
	all, err1 := engine.ReadEvents(ctxWithTimeout, 1, "account", 0)
	afterTwo, err2 := engine.ReadEvents(ctxWithTimeout, 1, "account", 2)

	// assert
	assert.NoError(t, err1)
	assert.NoError(t, err2)

	require.Len(t, all, 3)
	for i, event := range all {
		assert.Equal(t, int64(i+1), event.Version)
		assert.Equal(t, int64(1), event.AggregateID)
		assert.Equal(t, "account", event.AggregateType)
	}

	assert.Equal(t, "deposited", all[0].EventType)
	assert.Equal(t, "withdrawn", all[1].EventType)
	assert.JSONEq(t, `{"v":2}`, string(all[1].Data))
	assert.False(t, all[0].HasMetadata(), "absent metadata is stored as NULL")

	metadata, err := all[1].DecodeMetadata()
	assert.NoError(t, err)
	assert.Equal(t, map[string]string{"user": "chavez"}, metadata)

	require.Len(t, afterTwo, 1)
	assert.Equal(t, int64(3), afterTwo[0].Version)
}

func Test_ReadEvents_When_NoneExist(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateSQLWrapperWithTestConfig(t)
	defer wrapper.Close()

	// act
	events, err := wrapper.GetSQLEngine().ReadEvents(ctxWithTimeout, 1, "unknown", 0)

	// assert
	assert.NoError(t, err)
	assert.Empty(t, events)
}

func Test_WriteUpdates_ManyEventsInOneBatch(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wrapper := CreateSQLWrapperWithTestConfig(t)
	defer wrapper.Close()
	engine := wrapper.GetSQLEngine()

	// arrange
	const numEvents = 1234

	events := make(eventstore.Events, 0, numEvents)
	for version := int64(1); version <= numEvents; version++ {
		events = append(events, givenEvent(t, 1, "account", version, "deposited"))
	}

	// act
	err := engine.WriteUpdates(ctxWithTimeout, events, nil)

	// assert
	assert.NoError(t, err)

	read, err := engine.ReadEvents(ctxWithTimeout, 1, "account", 0)
	assert.NoError(t, err)
	assert.Len(t, read, numEvents)
	assert.Equal(t, int64(numEvents), read[len(read)-1].Version)
}

func Test_WriteUpdates_When_VersionExists(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateSQLWrapperWithTestConfig(t)
	defer wrapper.Close()
	engine := wrapper.GetSQLEngine()

	// arrange
	require.NoError(t, engine.WriteUpdates(ctxWithTimeout, eventstore.Events{givenEvent(t, 1, "account", 1, "deposited")}, nil))

	// act
	err := engine.WriteUpdates(
		ctxWithTimeout,
		eventstore.Events{givenEvent(t, 1, "account", 2, "deposited"), givenEvent(t, 1, "account", 1, "deposited")},
		[]eventstore.Snapshot{givenSnapshot(t, 1, "account", 2)},
	)

	// assert
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)

	events, err := engine.ReadEvents(ctxWithTimeout, 1, "account", 0)
	assert.NoError(t, err)
	assert.Len(t, events, 1, "the whole batch was rolled back")

	_, found, err := engine.ReadSnapshot(ctxWithTimeout, 1, "account")
	assert.NoError(t, err)
	assert.False(t, found, "the snapshot of the failed batch was rolled back")
}

func Test_WriteUpdates_When_BatchIsEmpty(t *testing.T) {
	// setup
	wrapper := CreateSQLWrapperWithTestConfig(t)
	defer wrapper.Close()

	// act
	err := wrapper.GetSQLEngine().WriteUpdates(context.Background(), nil, nil)

	// assert
	assert.NoError(t, err)
}

func Test_ReadSnapshot_ReturnsTheHighestVersion(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateSQLWrapperWithTestConfig(t)
	defer wrapper.Close()
	engine := wrapper.GetSQLEngine()

	// arrange
	require.NoError(t, engine.WriteUpdates(ctxWithTimeout, nil, []eventstore.Snapshot{
		givenSnapshot(t, 1, "account", 10),
		givenSnapshot(t, 1, "account", 30),
		givenSnapshot(t, 2, "account", 40),
	}))
	require.NoError(t, engine.WriteUpdates(ctxWithTimeout, nil, []eventstore.Snapshot{givenSnapshot(t, 1, "account", 20)}))

	// act
	snapshot, found, err := engine.ReadSnapshot(ctxWithTimeout, 1, "account")

	// assert
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1), snapshot.AggregateID)
	assert.Equal(t, "account", snapshot.AggregateType)
	assert.Equal(t, int64(30), snapshot.Version)
	assert.JSONEq(t, `{"version":30}`, string(snapshot.Data))
}

func Test_ReadSnapshot_When_NoneExists(t *testing.T) {
	// setup
	wrapper := CreateSQLWrapperWithTestConfig(t)
	defer wrapper.Close()

	// act
	_, found, err := wrapper.GetSQLEngine().ReadSnapshot(context.Background(), 1, "account")

	// assert
	assert.NoError(t, err)
	assert.False(t, found)
}

func Test_CreateSchema_IsIdempotent(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateSQLWrapperWithTestConfig(t)
	defer wrapper.Close()
	engine := wrapper.GetSQLEngine()

	// arrange
	require.NoError(t, engine.WriteUpdates(ctxWithTimeout, eventstore.Events{givenEvent(t, 1, "account", 1, "deposited")}, nil))

	// act
	err := engine.CreateSchema(ctxWithTimeout)

	// assert
	assert.NoError(t, err)

	events, err := engine.ReadEvents(ctxWithTimeout, 1, "account", 0)
	assert.NoError(t, err)
	assert.Len(t, events, 1, "existing data survives")
}

func Test_DropSchema_ThenCreateSchema_StartsEmpty(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrapper := CreateSQLWrapperWithTestConfig(t)
	defer wrapper.Close()
	engine := wrapper.GetSQLEngine()

	// arrange
	require.NoError(t, engine.WriteUpdates(ctxWithTimeout, eventstore.Events{givenEvent(t, 1, "account", 1, "deposited")}, nil))

	// act
	require.NoError(t, engine.DropSchema(ctxWithTimeout))
	require.NoError(t, engine.CreateSchema(ctxWithTimeout))

	// assert
	events, err := engine.ReadEvents(ctxWithTimeout, 1, "account", 0)
	assert.NoError(t, err)
	assert.Empty(t, events)

	err = engine.WriteUpdates(ctxWithTimeout, eventstore.Events{givenEvent(t, 1, "account", 1, "deposited")}, nil)
	assert.NoError(t, err, "the type id caches were reset with the schema")
}
