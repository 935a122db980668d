package sqlengine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCreatingSchemaFailed is returned when the tables cannot be created.
	ErrCreatingSchemaFailed = errors.New("creating schema failed")

	// ErrDroppingSchemaFailed is returned when the tables cannot be dropped.
	ErrDroppingSchemaFailed = errors.New("dropping schema failed")
)

const (
	tableAggregateTypes     = "aggregate_types"
	tableEventTypes         = "event_types"
	tableAggregateInstances = "aggregate_instances"
	tableEvents             = "events"
	tableSnapshots          = "snapshots"
	logActionCreateSchema   = "create schema"
	logActionDropSchema     = "drop schema"
)

type tableNames struct {
	aggregateTypes     string
	eventTypes         string
	aggregateInstances string
	events             string
	snapshots          string
}

func newTableNames(prefix string) tableNames {
	return tableNames{
		aggregateTypes:     prefix + tableAggregateTypes,
		eventTypes:         prefix + tableEventTypes,
		aggregateInstances: prefix + tableAggregateInstances,
		events:             prefix + tableEvents,
		snapshots:          prefix + tableSnapshots,
	}
}

// columnTypes holds the dialect specific parts of the DDL.
type columnTypes struct {
	primaryKey string
	integer    string
}

func (se *StorageEngine) columnTypes() columnTypes {
	if se.dialect == DialectSQLite {
		return columnTypes{primaryKey: "INTEGER PRIMARY KEY AUTOINCREMENT", integer: "INTEGER"}
	}

	return columnTypes{primaryKey: "BIGSERIAL PRIMARY KEY", integer: "BIGINT"}
}

func (se *StorageEngine) createStatements() []string {
	t := se.tables
	c := se.columnTypes()

	return []string{
		fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (id %s, name TEXT NOT NULL UNIQUE)`,
			t.aggregateTypes, c.primaryKey,
		),
		fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (id %s, name TEXT NOT NULL UNIQUE)`,
			t.eventTypes, c.primaryKey,
		),
		fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (
				id %s,
				aggregate_type_id %s NOT NULL REFERENCES %s (id),
				natural_key TEXT NULL,
				UNIQUE (aggregate_type_id, natural_key)
			)`,
			t.aggregateInstances, c.primaryKey, c.integer, t.aggregateTypes,
		),
		fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (
				id %s,
				aggregate_id %s NOT NULL,
				aggregate_type_id %s NOT NULL REFERENCES %s (id),
				version %s NOT NULL,
				event_type_id %s NOT NULL REFERENCES %s (id),
				data TEXT NOT NULL,
				metadata TEXT NULL,
				UNIQUE (aggregate_id, version)
			)`,
			t.events, c.primaryKey, c.integer, c.integer, t.aggregateTypes, c.integer, c.integer, t.eventTypes,
		),
		fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (
				id %s,
				aggregate_id %s NOT NULL,
				aggregate_type_id %s NOT NULL REFERENCES %s (id),
				version %s NOT NULL,
				data TEXT NOT NULL,
				UNIQUE (aggregate_id, version)
			)`,
			t.snapshots, c.primaryKey, c.integer, c.integer, t.aggregateTypes, c.integer,
		),
	}
}

func (se *StorageEngine) dropStatements() []string {
	t := se.tables

	// referencing tables first
	return []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t.snapshots),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t.events),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t.aggregateInstances),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t.eventTypes),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, t.aggregateTypes),
	}
}

// CreateSchema creates all tables that do not exist yet.
func (se *StorageEngine) CreateSchema(ctx context.Context) error {
	if err := se.execStatements(ctx, se.createStatements(), logActionCreateSchema); err != nil {
		return errors.Join(ErrCreatingSchemaFailed, err)
	}

	return nil
}

// DropSchema drops all tables and clears the type id caches.
func (se *StorageEngine) DropSchema(ctx context.Context) error {
	if err := se.execStatements(ctx, se.dropStatements(), logActionDropSchema); err != nil {
		return errors.Join(ErrDroppingSchemaFailed, err)
	}

	se.aggregateTypeIDs.reset()
	se.eventTypeIDs.reset()

	return nil
}

func (se *StorageEngine) execStatements(ctx context.Context, statements []string, action string) error {
	for _, statement := range statements {
		start := time.Now()
		_, err := se.db.Exec(ctx, statement)
		se.logQueryWithDuration(ctx, statement, action, time.Since(start))

		if err != nil {
			se.logError(ctx, logMsgDBExecFailed, err, logAttrQuery, statement)
			return err
		}
	}

	return nil
}
