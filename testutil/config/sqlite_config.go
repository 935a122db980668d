package config

import (
	"context"
	"database/sql"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

const sqliteDriverName = "sqlite"

// SQLiteDSN returns a DSN for a file database in dir. The busy timeout lets concurrent
// writers of one test wait for each other instead of failing with SQLITE_BUSY.
func SQLiteDSN(dir string) string {
	return "file:" + filepath.Join(dir, "eventstore.db") + "?_pragma=busy_timeout(5000)"
}

// SQLiteSQLDBTestConfig opens and pings a *sql.DB for a SQLite database in dir.
func SQLiteSQLDBTestConfig(ctx context.Context, dir string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, SQLiteDSN(dir))
	if err != nil {
		return nil, err
	}

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, pingErr
	}

	return db, nil
}

// SQLiteSQLXTestConfig opens and pings a *sqlx.DB for a SQLite database in dir.
func SQLiteSQLXTestConfig(ctx context.Context, dir string) (*sqlx.DB, error) {
	return sqlx.ConnectContext(ctx, sqliteDriverName, SQLiteDSN(dir))
}
