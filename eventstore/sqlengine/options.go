package sqlengine

import (
	"errors"

	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
)

var (
	// ErrUnsupportedDialect is returned when a dialect is not supported or not available for the adapter.
	ErrUnsupportedDialect = errors.New("unsupported sql dialect")
)

// Dialect names the SQL flavor the StorageEngine talks.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// Option defines a functional option for configuring StorageEngine.
type Option func(*StorageEngine) error

// WithTablePrefix prefixes all table names, e.g. "es_" gives "es_events".
func WithTablePrefix(prefix string) Option {
	return func(se *StorageEngine) error {
		se.tables = newTableNames(prefix)
		return nil
	}
}

// WithDialect sets the SQL dialect. The default is DialectPostgres.
func WithDialect(dialect Dialect) Option {
	return func(se *StorageEngine) error {
		switch dialect {
		case DialectPostgres, DialectSQLite:
			se.dialect = dialect
			return nil

		default:
			return ErrUnsupportedDialect
		}
	}
}

// WithLogger sets the logger for the StorageEngine.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL queries with execution timing (development use)
// Warn level: Non-critical issues like rollback or cleanup failures
// Error level: Critical failures that cause operation failures.
func WithLogger(logger eventstore.Logger) Option {
	return func(se *StorageEngine) error {
		se.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the StorageEngine.
// It receives the same messages as the Logger, together with the context of the call for trace correlation.
func WithContextualLogger(logger eventstore.ContextualLogger) Option {
	return func(se *StorageEngine) error {
		se.contextualLogger = logger
		return nil
	}
}
