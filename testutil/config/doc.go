// Package config provides database configuration for storage engine testing.
//
// The adapter under test and the connection settings are read from the environment with caarlos0/env.
// Without any configuration the tests run against an in-process SQLite database in a temp dir.
// PostgreSQL adapters (pgx.Pool, sql.DB, sqlx.DB) are used when ADAPTER_TYPE selects one of them,
// they need EVENTSTORE_POSTGRES_DSN.
package config
