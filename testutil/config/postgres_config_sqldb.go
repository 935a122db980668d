package config

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

const (
	postgresDriverName          = "postgres"
	defaultMaxOpenConnections   = 20
	defaultMaxIdleConnections   = 2
	defaultSQLDBMaxConnLifetime = time.Hour
	defaultSQLDBMaxConnIdleTime = time.Minute * 5
)

// PostgresSQLDBTestConfig opens and pings a configured *sql.DB for the test database.
func PostgresSQLDBTestConfig(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open(postgresDriverName, dsn)
	if err != nil {
		return nil, err
	}

	configurePool(db)

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, pingErr
	}

	return db, nil
}

// PostgresSQLXTestConfig opens and pings a configured *sqlx.DB for the test database.
func PostgresSQLXTestConfig(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, postgresDriverName, dsn)
	if err != nil {
		return nil, err
	}

	configurePool(db.DB)

	return db, nil
}

func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(defaultMaxOpenConnections)
	db.SetMaxIdleConns(defaultMaxIdleConnections)
	db.SetConnMaxLifetime(defaultSQLDBMaxConnLifetime)
	db.SetConnMaxIdleTime(defaultSQLDBMaxConnIdleTime)
}
