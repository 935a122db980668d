package config

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore/memengine"
	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore/sqlengine"
)

const sqliteDriverName = "sqlite"

// SQLiteDSN returns the DSN for the SQLite database file at path.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// PostgresPGXPoolConfig creates a pgxpool.Config for dsn with the pool settings of the example.
func PostgresPGXPoolConfig(dsn string) (*pgxpool.Config, error) {
	const defaultMaxConnections = int32(8)
	const defaultMinConnections = int32(2)
	const defaultMaxConnLifetime = time.Hour
	const defaultMaxConnIdleTime = time.Minute * 5
	const defaultHealthCheckPeriod = time.Minute
	const defaultConnectTimeout = time.Second * 5

	dbConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	dbConfig.MaxConns = defaultMaxConnections
	dbConfig.MinConns = defaultMinConnections
	dbConfig.MaxConnLifetime = defaultMaxConnLifetime
	dbConfig.MaxConnIdleTime = defaultMaxConnIdleTime
	dbConfig.HealthCheckPeriod = defaultHealthCheckPeriod
	dbConfig.ConnConfig.ConnectTimeout = defaultConnectTimeout

	return dbConfig, nil
}

// OpenStorageEngine opens the storage engine cfg selects and creates its schema if needed.
// The returned close function releases the database connections.
func OpenStorageEngine(
	ctx context.Context,
	cfg Config,
	options ...sqlengine.Option,
) (eventstore.StorageEngine, func(), error) {

	allOptions := append([]sqlengine.Option{sqlengine.WithTablePrefix(cfg.TablePrefix)}, options...)

	switch cfg.Engine {
	case EngineSQLite:
		db, err := sqlx.ConnectContext(ctx, sqliteDriverName, SQLiteDSN(cfg.SQLitePath))
		if err != nil {
			return nil, nil, err
		}

		closeDB := func() { _ = db.Close() }

		engine, err := sqlengine.NewStorageEngineFromSQLX(db, allOptions...)
		if err != nil {
			closeDB()
			return nil, nil, err
		}

		if err = engine.CreateSchema(ctx); err != nil {
			closeDB()
			return nil, nil, err
		}

		return engine, closeDB, nil

	case EnginePostgres:
		poolConfig, err := PostgresPGXPoolConfig(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, err
		}

		engine, err := sqlengine.NewStorageEngineFromPGXPool(pool, allOptions...)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}

		if err = engine.CreateSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}

		return engine, pool.Close, nil

	case EngineMemory:
		return memengine.NewStorageEngine(memengine.WithUniqueVersions()), func() {}, nil

	default:
		return nil, nil, ErrUnknownEngine
	}
}
