package enginewrapper

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore/memengine"
	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore/sqlengine"
	"github.com/AntonStoeckl/aggregate-eventstore-go/testutil/config"
)

// Wrapper abstracts over the different engine and adapter types.
type Wrapper interface {
	GetStorageEngine() eventstore.StorageEngine
	AdapterType() string
	Close()
}

// MemoryWrapper wraps the in-memory engine.
type MemoryWrapper struct {
	engine *memengine.StorageEngine
}

func (w *MemoryWrapper) GetStorageEngine() eventstore.StorageEngine {
	return w.engine
}

func (w *MemoryWrapper) AdapterType() string {
	return config.AdapterMemory
}

func (w *MemoryWrapper) Close() {}

// SQLWrapper wraps a sqlengine.StorageEngine together with the connection it owns.
type SQLWrapper struct {
	t           testing.TB
	adapterType string
	engine      *sqlengine.StorageEngine
	closeDB     func()
}

func (w *SQLWrapper) GetStorageEngine() eventstore.StorageEngine {
	return w.engine
}

// GetSQLEngine returns the concrete engine, for tests of sqlengine specifics like the schema helpers.
func (w *SQLWrapper) GetSQLEngine() *sqlengine.StorageEngine {
	return w.engine
}

func (w *SQLWrapper) AdapterType() string {
	return w.adapterType
}

// Close drops the test's tables and closes the connection.
func (w *SQLWrapper) Close() {
	err := w.engine.DropSchema(context.Background())
	require.NoError(w.t, err, "error dropping the schema in test teardown")

	w.closeDB()
}

// CreateWrapperWithTestConfig creates the wrapper selected by the environment.
// The in-memory engine enforces unique versions, so concurrency tests behave like the SQL engines.
func CreateWrapperWithTestConfig(t testing.TB, options ...sqlengine.Option) Wrapper {
	cfg := parseConfig(t)

	if cfg.AdapterType == config.AdapterMemory {
		return &MemoryWrapper{engine: memengine.NewStorageEngine(memengine.WithUniqueVersions())}
	}

	return createSQLWrapper(t, cfg, options...)
}

// CreateSQLWrapperWithTestConfig creates a SQL wrapper selected by the environment.
// The memory adapter type falls back to SQLite.
func CreateSQLWrapperWithTestConfig(t testing.TB, options ...sqlengine.Option) *SQLWrapper {
	cfg := parseConfig(t)

	if cfg.AdapterType == config.AdapterMemory {
		cfg.AdapterType = config.AdapterSQLite
	}

	return createSQLWrapper(t, cfg, options...)
}

// TryCreateSQLEngine creates a SQL engine with the given options and returns the error, for testing error cases.
func TryCreateSQLEngine(t testing.TB, options ...sqlengine.Option) error {
	cfg := parseConfig(t)
	ctx := context.Background()

	switch cfg.AdapterType {
	case config.AdapterPGXPool:
		pool := openPGXPool(t, ctx, cfg.PostgresDSN)
		defer pool.Close()

		_, err := sqlengine.NewStorageEngineFromPGXPool(pool, options...)
		return err

	default:
		db, err := config.SQLiteSQLDBTestConfig(ctx, t.TempDir())
		require.NoError(t, err, "error opening the sqlite database in test setup")
		defer func() { _ = db.Close() }()

		_, err = sqlengine.NewStorageEngineFromSQLDB(db, append([]sqlengine.Option{sqlengine.WithDialect(sqlengine.DialectSQLite)}, options...)...)
		return err
	}
}

func parseConfig(t testing.TB) config.TestConfig {
	cfg, err := config.ParseEnv()
	require.NoError(t, err, "error parsing the test config from env")

	cfg.AdapterType = strings.ToLower(cfg.AdapterType)

	if cfg.IsPostgres() && cfg.PostgresDSN == "" {
		t.Skip(config.ErrMissingPostgresDSN.Error())
	}

	return cfg
}

func createSQLWrapper(t testing.TB, cfg config.TestConfig, options ...sqlengine.Option) *SQLWrapper {
	ctx := context.Background()

	// every test gets its own tables, so tests sharing one postgres database do not interfere
	allOptions := append([]sqlengine.Option{sqlengine.WithTablePrefix(uniqueTablePrefix())}, options...)

	var (
		engine  *sqlengine.StorageEngine
		closeDB func()
		err     error
	)

	switch cfg.AdapterType {
	case config.AdapterSQLite:
		db, openErr := config.SQLiteSQLDBTestConfig(ctx, t.TempDir())
		require.NoError(t, openErr, "error opening the sqlite database in test setup")

		engine, err = sqlengine.NewStorageEngineFromSQLDB(db, append([]sqlengine.Option{sqlengine.WithDialect(sqlengine.DialectSQLite)}, allOptions...)...)
		closeDB = func() { _ = db.Close() }

	case config.AdapterSQLiteSQLX:
		db, openErr := config.SQLiteSQLXTestConfig(ctx, t.TempDir())
		require.NoError(t, openErr, "error opening the sqlite database in test setup")

		engine, err = sqlengine.NewStorageEngineFromSQLX(db, allOptions...)
		closeDB = func() { _ = db.Close() }

	case config.AdapterPGXPool:
		pool := openPGXPool(t, ctx, cfg.PostgresDSN)

		engine, err = sqlengine.NewStorageEngineFromPGXPool(pool, allOptions...)
		closeDB = pool.Close

	case config.AdapterSQLDB:
		db, openErr := config.PostgresSQLDBTestConfig(ctx, cfg.PostgresDSN)
		require.NoError(t, openErr, "error connecting to the database in test setup")

		engine, err = sqlengine.NewStorageEngineFromSQLDB(db, allOptions...)
		closeDB = func() { _ = db.Close() }

	case config.AdapterSQLXDB:
		db, openErr := config.PostgresSQLXTestConfig(ctx, cfg.PostgresDSN)
		require.NoError(t, openErr, "error connecting to the database in test setup")

		engine, err = sqlengine.NewStorageEngineFromSQLX(db, allOptions...)
		closeDB = func() { _ = db.Close() }

	default:
		t.Fatalf("unsupported adapter type from env: %s", cfg.AdapterType)
	}

	require.NoError(t, err, "error creating the storage engine in test setup")
	require.NoError(t, engine.CreateSchema(ctx), "error creating the schema in test setup")

	return &SQLWrapper{t: t, adapterType: cfg.AdapterType, engine: engine, closeDB: closeDB}
}

func openPGXPool(t testing.TB, ctx context.Context, dsn string) *pgxpool.Pool {
	poolConfig, err := config.PostgresPGXPoolTestConfig(dsn)
	require.NoError(t, err, "error parsing the pgx pool config in test setup")

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	require.NoError(t, err, "error connecting to DB pool in test setup")

	return pool
}

func uniqueTablePrefix() string {
	return "t" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12] + "_"
}
