package sqlengine

import (
	"context"
	"math"
	"time"
)

const (
	logMsgSQLExecuted         = "executed sql for: "
	logMsgBuildQueryFailed    = "failed to build sql query"
	logMsgDBQueryFailed       = "database query execution failed"
	logMsgDBExecFailed        = "database execution failed"
	logMsgScanRowFailed       = "failed to scan database row"
	logMsgBuildRecordFailed   = "failed to build record from database row"
	logMsgCloseRowsFailed     = "failed to close database rows"
	logMsgBeginTxFailed       = "failed to begin transaction"
	logMsgCommitTxFailed      = "failed to commit transaction"
	logMsgRollbackFailed      = "failed to roll back transaction"
	logMsgConcurrencyConflict = "concurrency conflict detected"
	logMsgUniqueViolation     = "unique constraint violated"
	logAttrError              = "error"
	logAttrQuery              = "query"
	logAttrDurationMS         = "duration_ms"
	logAttrEventCount         = "event_count"
	logAttrSnapshotCount      = "snapshot_count"
)

// logQueryWithDuration logs SQL queries with execution time at debug level if a logger is configured.
func (se *StorageEngine) logQueryWithDuration(
	ctx context.Context,
	sqlQuery string,
	action string,
	duration time.Duration,
) {
	if se.logger != nil {
		se.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery)
	}

	if se.contextualLogger != nil {
		se.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// logWarn logs non-critical issues if a logger is configured.
func (se *StorageEngine) logWarn(ctx context.Context, message string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if se.logger != nil {
		se.logger.Warn(message, allArgs...)
	}

	if se.contextualLogger != nil {
		se.contextualLogger.WarnContext(ctx, message, allArgs...)
	}
}

// logError logs error information at the error level if a logger is configured.
func (se *StorageEngine) logError(ctx context.Context, message string, err error, args ...any) {
	allArgs := []any{logAttrError, err.Error()}
	allArgs = append(allArgs, args...)

	if se.logger != nil {
		se.logger.Error(message, allArgs...)
	}

	if se.contextualLogger != nil {
		se.contextualLogger.ErrorContext(ctx, message, allArgs...)
	}
}

// logInfo logs operational information if a logger is configured.
func (se *StorageEngine) logInfo(ctx context.Context, message string, args ...any) {
	if se.logger != nil {
		se.logger.Info(message, args...)
	}

	if se.contextualLogger != nil {
		se.contextualLogger.InfoContext(ctx, message, args...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
