// Package sqlengine provides an SQL implementation of the eventstore.StorageEngine interface.
//
// It stores aggregate instances, events, and snapshots in PostgreSQL or SQLite,
// supporting multiple database adapters (pgx, sql.DB, sqlx) with atomic batch writes
// and concurrency control through a unique (aggregate_id, version) constraint.
//
// Key features:
//   - Multiple database adapter support (PGX, SQL, SQLX)
//   - PostgreSQL and SQLite dialects
//   - Atomic WriteUpdates in one transaction with concurrency conflict detection
//   - Cached aggregate type and event type ids
//   - Optional read replica for eventually consistent reads (PGX only)
//   - Schema creation helpers, no migrations
//
// Usage examples:
//
//	// PostgreSQL with pgx
//	db, _ := pgxpool.New(context.Background(), dsn)
//	engine, _ := sqlengine.NewStorageEngineFromPGXPool(db)
//	_ = engine.CreateSchema(ctx)
//
//	// SQLite with database/sql and the modernc driver
//	db, _ := sql.Open("sqlite", "file:events.db?_pragma=busy_timeout(5000)")
//	engine, _ := sqlengine.NewStorageEngineFromSQLDB(db, sqlengine.WithDialect(sqlengine.DialectSQLite))
//
//	store, _ := eventstore.NewEventStore(engine)
package sqlengine
