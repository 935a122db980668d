package sqlengine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore/sqlengine/internal/adapters"
)

var (
	ErrBuildingQueryFailed    = errors.New("building query failed")
	ErrQueryingFailed         = errors.New("querying failed")
	ErrScanningDBRowFailed    = errors.New("scanning db row failed")
	ErrBuildingRecordFailed   = errors.New("building record from db row failed")
	ErrResolvingTypeIDFailed  = errors.New("resolving type id failed")
	ErrCreatingInstanceFailed = errors.New("creating aggregate instance failed")
	ErrWritingUpdatesFailed   = errors.New("writing updates failed")
	ErrNoIDReturned           = errors.New("insert returned no id")
)

const (
	logActionResolveType      = "resolve type id"
	logActionCreateInstance   = "create aggregate instance"
	logActionGetInstance      = "get aggregate instance id"
	logActionReadEvents       = "read events"
	logActionReadSnapshot     = "read snapshot"
	logActionWriteEvents      = "write events"
	logActionWriteSnapshots   = "write snapshots"
	maxRowsPerInsertStatement = 500
)

// StorageEngine persists aggregate instances, events, and snapshots in a relational database.
type StorageEngine struct {
	db               adapters.DBAdapter
	dialect          Dialect
	tables           tableNames
	aggregateTypeIDs *typeIDCache
	eventTypeIDs     *typeIDCache
	logger           eventstore.Logger
	contextualLogger eventstore.ContextualLogger
}

// NewStorageEngineFromPGXPool creates a new StorageEngine using a pgx Pool.
func NewStorageEngineFromPGXPool(db *pgxpool.Pool, options ...Option) (*StorageEngine, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newPGXStorageEngine(adapters.NewPGXAdapter(db), options...)
}

// NewStorageEngineFromPGXPoolAndReplica creates a new StorageEngine using a primary pgx Pool and a replica.
// Reads go to the replica when the context asks for eventual consistency, see eventstore.WithEventualConsistency.
func NewStorageEngineFromPGXPoolAndReplica(
	db *pgxpool.Pool,
	replica *pgxpool.Pool,
	options ...Option,
) (*StorageEngine, error) {

	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	if replica == nil {
		return newPGXStorageEngine(adapters.NewPGXAdapter(db), options...)
	}

	return newPGXStorageEngine(adapters.NewPGXAdapterWithReplica(db, replica), options...)
}

// NewStorageEngineFromSQLDB creates a new StorageEngine using a database/sql DB.
// The dialect defaults to DialectPostgres, use WithDialect for SQLite.
func NewStorageEngineFromSQLDB(db *sql.DB, options ...Option) (*StorageEngine, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newStorageEngine(adapters.NewSQLAdapter(db), DialectPostgres, options...)
}

// NewStorageEngineFromSQLX creates a new StorageEngine using a sqlx DB.
// The dialect is derived from the driver name and can be overridden with WithDialect.
func NewStorageEngineFromSQLX(db *sqlx.DB, options ...Option) (*StorageEngine, error) {
	if db == nil {
		return nil, eventstore.ErrNilDatabaseConnection
	}

	return newStorageEngine(adapters.NewSQLXAdapter(db), dialectFromDriverName(db.DriverName()), options...)
}

func newPGXStorageEngine(adapter adapters.DBAdapter, options ...Option) (*StorageEngine, error) {
	se, err := newStorageEngine(adapter, DialectPostgres, options...)
	if err != nil {
		return nil, err
	}

	if se.dialect != DialectPostgres {
		return nil, ErrUnsupportedDialect
	}

	return se, nil
}

func newStorageEngine(adapter adapters.DBAdapter, dialect Dialect, options ...Option) (*StorageEngine, error) {
	se := &StorageEngine{
		db:               adapter,
		dialect:          dialect,
		tables:           newTableNames(""),
		aggregateTypeIDs: newTypeIDCache(),
		eventTypeIDs:     newTypeIDCache(),
	}

	for _, option := range options {
		if err := option(se); err != nil {
			return nil, err
		}
	}

	return se, nil
}

func dialectFromDriverName(driverName string) Dialect {
	if strings.HasPrefix(driverName, "sqlite") {
		return DialectSQLite
	}

	return DialectPostgres
}

// Dialect returns the SQL dialect the engine talks.
func (se *StorageEngine) Dialect() Dialect {
	return se.dialect
}

// CreateAggregateInstance inserts a new aggregate instance row and returns its id.
// An empty naturalKey is stored as NULL, so only non-empty keys are unique per aggregate type.
func (se *StorageEngine) CreateAggregateInstance(ctx context.Context, aggregateType string, naturalKey string) (int64, error) {
	aggregateTypeID, err := se.resolveTypeID(ctx, se.aggregateTypeIDs, se.tables.aggregateTypes, aggregateType)
	if err != nil {
		return 0, err
	}

	id, err := se.insertReturningID(ctx, se.db, se.buildInsertInstanceStatement(aggregateTypeID, naturalKey), logActionCreateInstance)
	if err != nil {
		if adapters.IsUniqueViolation(err) {
			return 0, errors.Join(eventstore.ErrNaturalKeyConflict, err)
		}

		return 0, errors.Join(ErrCreatingInstanceFailed, err)
	}

	return id, nil
}

// GetAggregateInstanceID looks up the id bound to a natural key.
func (se *StorageEngine) GetAggregateInstanceID(ctx context.Context, aggregateType string, naturalKey string) (int64, bool, error) {
	if naturalKey == "" {
		return 0, false, nil
	}

	sqlQuery, args, err := se.buildSelectInstanceIDQuery(aggregateType, naturalKey)
	if err != nil {
		se.logError(ctx, logMsgBuildQueryFailed, err)
		return 0, false, err
	}

	var id int64

	found, err := se.queryOne(ctx, se.db, sqlQuery, args, logActionGetInstance, &id)
	if err != nil {
		return 0, false, err
	}

	return id, found, nil
}

// ReadEvents returns the events of one aggregate instance with a version greater than afterVersion, ordered by version.
func (se *StorageEngine) ReadEvents(
	ctx context.Context,
	aggregateID int64,
	aggregateType string,
	afterVersion int64,
) (eventstore.Events, error) {

	sqlQuery, args, err := se.buildSelectEventsQuery(aggregateID, aggregateType, afterVersion)
	if err != nil {
		se.logError(ctx, logMsgBuildQueryFailed, err)
		return nil, err
	}

	start := time.Now()
	rows, err := se.db.Query(ctx, sqlQuery, args...)
	se.logQueryWithDuration(ctx, sqlQuery, logActionReadEvents, time.Since(start))

	if err != nil {
		se.logError(ctx, logMsgDBQueryFailed, err, logAttrQuery, sqlQuery)
		return nil, errors.Join(ErrQueryingFailed, err)
	}

	defer se.closeRows(ctx, rows)

	events := make(eventstore.Events, 0)

	for rows.Next() {
		var (
			row      eventRow
			metadata sql.NullString
		)

		if err := rows.Scan(&row.aggregateID, &row.aggregateType, &row.version, &row.eventType, &row.data, &metadata); err != nil {
			se.logError(ctx, logMsgScanRowFailed, err)
			return nil, errors.Join(ErrScanningDBRowFailed, err)
		}

		if metadata.Valid {
			row.metadata = metadata.String
		}

		event, err := row.toEvent()
		if err != nil {
			se.logError(ctx, logMsgBuildRecordFailed, err)
			return nil, errors.Join(ErrBuildingRecordFailed, err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		se.logError(ctx, logMsgDBQueryFailed, err, logAttrQuery, sqlQuery)
		return nil, errors.Join(ErrQueryingFailed, err)
	}

	return events, nil
}

// ReadSnapshot returns the snapshot with the highest version for one aggregate instance.
func (se *StorageEngine) ReadSnapshot(
	ctx context.Context,
	aggregateID int64,
	aggregateType string,
) (eventstore.Snapshot, bool, error) {

	sqlQuery, args, err := se.buildSelectSnapshotQuery(aggregateID, aggregateType)
	if err != nil {
		se.logError(ctx, logMsgBuildQueryFailed, err)
		return eventstore.Snapshot{}, false, err
	}

	var row snapshotRow

	found, err := se.queryOne(
		ctx, se.db, sqlQuery, args, logActionReadSnapshot,
		&row.aggregateID, &row.aggregateType, &row.version, &row.data,
	)
	if err != nil || !found {
		return eventstore.Snapshot{}, false, err
	}

	snapshot, err := row.toSnapshot()
	if err != nil {
		se.logError(ctx, logMsgBuildRecordFailed, err)
		return eventstore.Snapshot{}, false, errors.Join(ErrBuildingRecordFailed, err)
	}

	return snapshot, true, nil
}

// WriteUpdates inserts all events and snapshots in one transaction.
// A clash with an existing (aggregate id, version) pair rolls back the whole batch and
// returns an error matching eventstore.ErrConcurrencyConflict.
func (se *StorageEngine) WriteUpdates(ctx context.Context, events eventstore.Events, snapshots []eventstore.Snapshot) error {
	if len(events) == 0 && len(snapshots) == 0 {
		return nil
	}

	// type ids are resolved outside the transaction, a failed insert must not abort it on postgres
	eventRecords, err := se.buildEventRecords(ctx, events)
	if err != nil {
		return err
	}

	snapshotRecords, err := se.buildSnapshotRecords(ctx, snapshots)
	if err != nil {
		return err
	}

	tx, err := se.db.Begin(ctx)
	if err != nil {
		se.logError(ctx, logMsgBeginTxFailed, err)
		return errors.Join(ErrWritingUpdatesFailed, err)
	}

	if err := se.insertRows(ctx, tx, se.tables.events, eventRecords, logActionWriteEvents); err != nil {
		se.rollback(ctx, tx)
		return err
	}

	if err := se.insertRows(ctx, tx, se.tables.snapshots, snapshotRecords, logActionWriteSnapshots); err != nil {
		se.rollback(ctx, tx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if adapters.IsUniqueViolation(err) {
			se.logInfo(ctx, logMsgConcurrencyConflict, logAttrEventCount, len(events))
			return errors.Join(eventstore.ErrConcurrencyConflict, err)
		}

		se.logError(ctx, logMsgCommitTxFailed, err)
		return errors.Join(ErrWritingUpdatesFailed, err)
	}

	return nil
}

func (se *StorageEngine) buildEventRecords(ctx context.Context, events eventstore.Events) ([]any, error) {
	records := make([]any, 0, len(events))

	for _, event := range events {
		aggregateTypeID, err := se.resolveTypeID(ctx, se.aggregateTypeIDs, se.tables.aggregateTypes, event.AggregateType)
		if err != nil {
			return nil, err
		}

		eventTypeID, err := se.resolveTypeID(ctx, se.eventTypeIDs, se.tables.eventTypes, event.EventType)
		if err != nil {
			return nil, err
		}

		var metadata any
		if event.HasMetadata() {
			metadata = string(event.Metadata)
		}

		records = append(records, goqu.Record{
			colAggregateID:     event.AggregateID,
			colAggregateTypeID: aggregateTypeID,
			colVersion:         event.Version,
			colEventTypeID:     eventTypeID,
			colData:            string(event.Data),
			colMetadata:        metadata,
		})
	}

	return records, nil
}

func (se *StorageEngine) buildSnapshotRecords(ctx context.Context, snapshots []eventstore.Snapshot) ([]any, error) {
	records := make([]any, 0, len(snapshots))

	for _, snapshot := range snapshots {
		aggregateTypeID, err := se.resolveTypeID(ctx, se.aggregateTypeIDs, se.tables.aggregateTypes, snapshot.AggregateType)
		if err != nil {
			return nil, err
		}

		records = append(records, goqu.Record{
			colAggregateID:     snapshot.AggregateID,
			colAggregateTypeID: aggregateTypeID,
			colVersion:         snapshot.Version,
			colData:            string(snapshot.Data),
		})
	}

	return records, nil
}

func (se *StorageEngine) insertRows(
	ctx context.Context,
	tx adapters.DBTx,
	table string,
	records []any,
	action string,
) error {

	for chunk := range chunkRecords(records, maxRowsPerInsertStatement) {
		sqlQuery, args, err := se.buildInsertRowsQuery(table, chunk)
		if err != nil {
			se.logError(ctx, logMsgBuildQueryFailed, err)
			return err
		}

		start := time.Now()
		_, err = tx.Exec(ctx, sqlQuery, args...)
		se.logQueryWithDuration(ctx, sqlQuery, action, time.Since(start))

		if err != nil {
			if adapters.IsUniqueViolation(err) {
				se.logInfo(ctx, logMsgConcurrencyConflict, logAttrEventCount, len(records))
				return errors.Join(eventstore.ErrConcurrencyConflict, err)
			}

			se.logError(ctx, logMsgDBExecFailed, err, logAttrQuery, sqlQuery)
			return errors.Join(ErrWritingUpdatesFailed, err)
		}
	}

	return nil
}

func chunkRecords(records []any, size int) func(yield func([]any) bool) {
	return func(yield func([]any) bool) {
		for start := 0; start < len(records); start += size {
			end := min(start+size, len(records))

			if !yield(records[start:end]) {
				return
			}
		}
	}
}

// resolveTypeID returns the id of a type name, inserting the name on first use.
// Losing an insert race to another writer is resolved by selecting again.
func (se *StorageEngine) resolveTypeID(ctx context.Context, cache *typeIDCache, table string, name string) (int64, error) {
	if id, ok := cache.get(name); ok {
		return id, nil
	}

	id, found, err := se.selectTypeID(ctx, table, name)
	if err != nil {
		return 0, errors.Join(ErrResolvingTypeIDFailed, err)
	}

	if !found {
		id, err = se.insertReturningID(ctx, se.db, se.buildInsertTypeStatement(table, name), logActionResolveType)
		if err != nil {
			if !adapters.IsUniqueViolation(err) {
				return 0, errors.Join(ErrResolvingTypeIDFailed, err)
			}

			id, found, err = se.selectTypeID(ctx, table, name)
			if err != nil {
				return 0, errors.Join(ErrResolvingTypeIDFailed, err)
			}

			if !found {
				return 0, ErrResolvingTypeIDFailed
			}
		}
	}

	cache.put(name, id)

	return id, nil
}

func (se *StorageEngine) selectTypeID(ctx context.Context, table string, name string) (int64, bool, error) {
	sqlQuery, args, err := se.buildSelectTypeIDQuery(table, name)
	if err != nil {
		se.logError(ctx, logMsgBuildQueryFailed, err)
		return 0, false, err
	}

	var id int64

	// type rows must be visible right after they were inserted
	found, err := se.queryOne(eventstore.WithStrongConsistency(ctx), se.db, sqlQuery, args, logActionResolveType, &id)
	if err != nil {
		return 0, false, err
	}

	return id, found, nil
}

// insertReturningID inserts one row and returns its generated id.
// Postgres reports it with RETURNING, SQLite through the driver's last insert id.
func (se *StorageEngine) insertReturningID(
	ctx context.Context,
	querier adapters.Querier,
	insert *goqu.InsertDataset,
	action string,
) (int64, error) {

	if se.dialect == DialectSQLite {
		sqlQuery, args, err := toSQL(insert.Prepared(true))
		if err != nil {
			se.logError(ctx, logMsgBuildQueryFailed, err)
			return 0, err
		}

		start := time.Now()
		result, err := querier.Exec(ctx, sqlQuery, args...)
		se.logQueryWithDuration(ctx, sqlQuery, action, time.Since(start))

		if err != nil {
			se.logExecFailure(ctx, err, sqlQuery)
			return 0, err
		}

		return result.LastInsertId()
	}

	sqlQuery, args, err := toSQL(insert.Returning(colID).Prepared(true))
	if err != nil {
		se.logError(ctx, logMsgBuildQueryFailed, err)
		return 0, err
	}

	var id int64

	found, err := se.queryOne(ctx, querier, sqlQuery, args, action, &id)
	if err != nil {
		return 0, err
	}

	if !found {
		return 0, ErrNoIDReturned
	}

	return id, nil
}

// queryOne runs a query and scans the first row into dest. It reports false if there is no row.
func (se *StorageEngine) queryOne(
	ctx context.Context,
	querier adapters.Querier,
	sqlQuery string,
	args []any,
	action string,
	dest ...any,
) (bool, error) {

	start := time.Now()
	rows, err := querier.Query(ctx, sqlQuery, args...)
	se.logQueryWithDuration(ctx, sqlQuery, action, time.Since(start))

	if err != nil {
		se.logExecFailure(ctx, err, sqlQuery)
		return false, err
	}

	defer se.closeRows(ctx, rows)

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			se.logExecFailure(ctx, err, sqlQuery)
			return false, err
		}

		return false, nil
	}

	if err := rows.Scan(dest...); err != nil {
		se.logError(ctx, logMsgScanRowFailed, err)
		return false, errors.Join(ErrScanningDBRowFailed, err)
	}

	return true, nil
}

// logExecFailure logs unique violations at info level, they are expected under concurrent writers.
func (se *StorageEngine) logExecFailure(ctx context.Context, err error, sqlQuery string) {
	if adapters.IsUniqueViolation(err) {
		se.logInfo(ctx, logMsgUniqueViolation, logAttrQuery, sqlQuery)
		return
	}

	se.logError(ctx, logMsgDBQueryFailed, err, logAttrQuery, sqlQuery)
}

func (se *StorageEngine) closeRows(ctx context.Context, rows adapters.DBRows) {
	if err := rows.Close(); err != nil {
		se.logWarn(ctx, logMsgCloseRowsFailed, err)
	}
}

func (se *StorageEngine) rollback(ctx context.Context, tx adapters.DBTx) {
	if err := tx.Rollback(ctx); err != nil {
		se.logWarn(ctx, logMsgRollbackFailed, err)
	}
}

type typeIDCache struct {
	mu  sync.RWMutex
	ids map[string]int64
}

func newTypeIDCache() *typeIDCache {
	return &typeIDCache{ids: make(map[string]int64)}
}

func (c *typeIDCache) get(name string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.ids[name]

	return id, ok
}

func (c *typeIDCache) put(name string, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ids[name] = id
}

func (c *typeIDCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.ids)
}

type eventRow struct {
	aggregateID   int64
	aggregateType string
	version       int64
	eventType     string
	data          string
	metadata      string
}

func (r eventRow) toEvent() (eventstore.Event, error) {
	var metadata []byte
	if r.metadata != "" {
		metadata = []byte(r.metadata)
	}

	return eventstore.BuildEvent(r.aggregateID, r.aggregateType, r.version, r.eventType, []byte(r.data), metadata)
}

type snapshotRow struct {
	aggregateID   int64
	aggregateType string
	version       int64
	data          string
}

func (r snapshotRow) toSnapshot() (eventstore.Snapshot, error) {
	return eventstore.BuildSnapshot(r.aggregateID, r.aggregateType, r.version, []byte(r.data))
}

// Ensure StorageEngine implements eventstore.StorageEngine.
var _ eventstore.StorageEngine = (*StorageEngine)(nil)
