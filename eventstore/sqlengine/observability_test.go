package sqlengine_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore/sqlengine"
	"github.com/AntonStoeckl/aggregate-eventstore-go/testutil/config"
	. "github.com/AntonStoeckl/aggregate-eventstore-go/testutil/helper"               //nolint:revive
	. "github.com/AntonStoeckl/aggregate-eventstore-go/testutil/helper/enginewrapper" //nolint:revive
)

func logToStdout(t testing.TB) bool {
	cfg, err := config.ParseEnv()
	require.NoError(t, err)

	return cfg.LogToStdout
}

func Test_Observability_ReadEvents_LogsTheSQLWithDuration(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logHandler := NewLogHandlerSpy(logToStdout(t))
	wrapper := CreateSQLWrapperWithTestConfig(t, sqlengine.WithLogger(slog.New(logHandler)))
	defer wrapper.Close()

	// act
	_, err := wrapper.GetSQLEngine().ReadEvents(ctxWithTimeout, 1, "account", 0)

	// assert
	assert.NoError(t, err)
	assert.True(
		t,
		logHandler.HasDebugLogWithMessage("executed sql for: read events").WithDurationMS().WithKey("query").Assert(),
		"debug log with the sql and its duration should be recorded",
	)
}

func Test_Observability_WriteUpdates_LogsTheSQLOfEveryStep(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logHandler := NewLogHandlerSpy(logToStdout(t))
	wrapper := CreateSQLWrapperWithTestConfig(t, sqlengine.WithLogger(slog.New(logHandler)))
	defer wrapper.Close()

	// arrange
	logHandler.Reset()

	// act
	err := wrapper.GetSQLEngine().WriteUpdates(
		ctxWithTimeout,
		eventstore.Events{givenEvent(t, 1, "account", 1, "deposited")},
		[]eventstore.Snapshot{givenSnapshot(t, 1, "account", 1)},
	)

	// assert
	assert.NoError(t, err)
	assert.True(t, logHandler.HasDebugLogWithMessage("executed sql for: resolve type id").WithDurationMS().Assert())
	assert.True(t, logHandler.HasDebugLogWithMessage("executed sql for: write events").WithDurationMS().Assert())
	assert.True(t, logHandler.HasDebugLogWithMessage("executed sql for: write snapshots").WithDurationMS().Assert())
}

func Test_Observability_WriteUpdates_LogsConcurrencyConflicts(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logHandler := NewLogHandlerSpy(logToStdout(t))
	wrapper := CreateSQLWrapperWithTestConfig(t, sqlengine.WithContextualLogger(slog.New(logHandler)))
	defer wrapper.Close()
	engine := wrapper.GetSQLEngine()

	// arrange
	events := eventstore.Events{givenEvent(t, 1, "account", 1, "deposited")}
	require.NoError(t, engine.WriteUpdates(ctxWithTimeout, events, nil))

	// act
	err := engine.WriteUpdates(ctxWithTimeout, events, nil)

	// assert
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	assert.True(
		t,
		logHandler.HasInfoLogWithMessage("concurrency conflict detected").WithAttribute("event_count", "1").Assert(),
		"info log for the conflict should be recorded",
	)
	assert.Zero(t, logHandler.CountRecordsWithMessage(slog.LevelError, "database execution failed"),
		"a conflict is not an error of the engine")
}

func Test_Observability_WithoutLogger(t *testing.T) {
	// setup
	wrapper := CreateSQLWrapperWithTestConfig(t)
	defer wrapper.Close()

	// act
	_, err := wrapper.GetSQLEngine().ReadEvents(context.Background(), 1, "account", 0)

	// assert
	assert.NoError(t, err, "the engine works without any logger")
}
