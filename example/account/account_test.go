package account_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore/memengine"
	. "github.com/AntonStoeckl/aggregate-eventstore-go/example/account"
	"github.com/AntonStoeckl/aggregate-eventstore-go/testutil/helper"
	"github.com/AntonStoeckl/aggregate-eventstore-go/testutil/helper/enginewrapper"
)

func givenEventStore(t *testing.T) *eventstore.EventStore {
	return helper.GivenEventStore(t, memengine.NewStorageEngine(memengine.WithUniqueVersions()))
}

func Test_Account_DepositWithdrawCommitThenReload(t *testing.T) {
	// setup
	ctx := context.Background()
	es := givenEventStore(t)

	// arrange
	ec := es.GetContext()
	acc, err := New(ctx, ec)
	require.NoError(t, err)

	// act
	require.NoError(t, acc.Deposit(400))
	require.NoError(t, acc.Withdraw(300))
	require.NoError(t, acc.Withdraw(10))
	err = ec.Commit(ctx)

	// assert
	assert.NoError(t, err)
	assert.Equal(t, int64(90), acc.Balance())
	assert.Equal(t, int64(3), acc.Version())

	reloaded, err := Load(ctx, es.GetContext(), acc.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(90), reloaded.Balance())
	assert.Equal(t, int64(3), reloaded.Version())
}

func Test_Account_Withdraw_When_BalanceIsInsufficient(t *testing.T) {
	// setup
	ctx := context.Background()
	es := givenEventStore(t)

	// arrange
	ec := es.GetContext()
	acc, err := New(ctx, ec)
	require.NoError(t, err)
	require.NoError(t, acc.Deposit(100))

	// act
	err = acc.Withdraw(101)

	// assert
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(100), acc.Balance())
	assert.Equal(t, int64(1), acc.Version())
	assert.Len(t, ec.PendingEvents(), 1, "the rejected withdrawal is not captured")
}

func Test_Account_When_AmountIsNotPositive(t *testing.T) {
	// setup
	ctx := context.Background()
	es := givenEventStore(t)

	// arrange
	ec := es.GetContext()
	acc, err := New(ctx, ec)
	require.NoError(t, err)

	// act + assert
	assert.ErrorIs(t, acc.Deposit(0), ErrInvalidAmount)
	assert.ErrorIs(t, acc.Deposit(-5), ErrInvalidAmount)
	assert.ErrorIs(t, acc.Withdraw(0), ErrInvalidAmount)
	assert.Zero(t, acc.Version())
	assert.Empty(t, ec.PendingEvents())
}

func Test_Account_SnapshotsEveryTenEvents(t *testing.T) {
	// setup
	ctx := context.Background()
	engine := memengine.NewStorageEngine(memengine.WithUniqueVersions())
	es := helper.GivenEventStore(t, engine)

	// arrange
	ec := es.GetContext()
	acc, err := New(ctx, ec)
	require.NoError(t, err)

	// act
	for i := 0; i < 100; i++ {
		require.NoError(t, acc.Deposit(100))
	}

	require.NoError(t, ec.Commit(ctx))

	// assert
	assert.Equal(t, 100, engine.EventCount())
	assert.Equal(t, 10, engine.SnapshotCount())

	reloaded, err := Load(ctx, es.GetContext(), acc.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), reloaded.Balance())
	assert.Equal(t, int64(100), reloaded.Version())
}

func Test_Account_ReloadFromSnapshotAndTrailingEvents(t *testing.T) {
	// setup
	ctx := context.Background()
	spy := helper.NewMetricsCollectorSpy(true)
	es := helper.GivenEventStore(t, memengine.NewStorageEngine(memengine.WithUniqueVersions()), eventstore.WithMetrics(spy))

	// arrange
	ec := es.GetContext()
	acc, err := New(ctx, ec)
	require.NoError(t, err)

	for i := 0; i < 13; i++ {
		require.NoError(t, acc.Deposit(10))
	}

	require.NoError(t, acc.Withdraw(30))
	require.NoError(t, ec.Commit(ctx))
	spy.Reset()

	// act
	reloaded, err := Load(ctx, es.GetContext(), acc.ID())

	// assert
	require.NoError(t, err)
	assert.Equal(t, int64(100), reloaded.Balance())
	assert.Equal(t, int64(14), reloaded.Version())

	values := spy.GetValueRecords()
	require.Len(t, values, 1, "one snapshot read followed by one read of the trailing events")
	assert.Equal(t, eventstore.MetricEventsRead, values[0].Metric)
	assert.Equal(t, float64(4), values[0].Value, "only the events after the snapshot at version 10 are read")

	snapshot, found, err := es.GetSnapshot(ctx, acc.ID(), AggregateType)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(10), snapshot.Version)
	assert.JSONEq(t, `{"balance":100}`, string(snapshot.Data))
}

func Test_Account_Load_When_NotFound(t *testing.T) {
	// setup
	es := givenEventStore(t)

	// act
	_, err := Load(context.Background(), es.GetContext(), 4711)

	// assert
	assert.ErrorIs(t, err, eventstore.ErrAggregateNotFound)
}

func Test_Account_WithoutContext(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.ErrorIs(t, err, eventstore.ErrNoContext)

	_, err = Load(context.Background(), nil, 1)
	assert.ErrorIs(t, err, eventstore.ErrNoContext)
}

func Test_Account_ApplyEvent_When_EventTypeIsUnknown(t *testing.T) {
	// setup
	ctx := context.Background()
	es := givenEventStore(t)

	acc, err := New(ctx, es.GetContext())
	require.NoError(t, err)

	event, err := eventstore.NewEvent(acc.ID(), AggregateType, 1, "closed", struct{}{})
	require.NoError(t, err)

	// act
	err = acc.ApplyEvent(event)

	// assert
	assert.ErrorIs(t, err, ErrUnknownEventType)
	assert.Zero(t, acc.Version())
}

func Test_Account_OnSQLEngine(t *testing.T) {
	// setup
	ctx := context.Background()
	wrapper := enginewrapper.CreateSQLWrapperWithTestConfig(t)
	defer wrapper.Close()
	es := helper.GivenEventStore(t, wrapper.GetStorageEngine())

	// arrange
	ec := es.GetContext()
	acc, err := New(ctx, ec)
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		require.NoError(t, acc.Deposit(50))
	}

	require.NoError(t, acc.Withdraw(90))

	// act
	err = ec.Commit(ctx)

	// assert
	require.NoError(t, err)

	reloaded, err := Load(ctx, es.GetContext(), acc.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(510), reloaded.Balance())
	assert.Equal(t, int64(13), reloaded.Version())
}
