package config

import (
	"errors"

	"github.com/caarlos0/env/v11"
)

// Adapter types selectable with ADAPTER_TYPE.
const (
	AdapterSQLite     = "sqlite"
	AdapterSQLiteSQLX = "sqlite.sqlx"
	AdapterMemory     = "memory"
	AdapterPGXPool    = "pgx.pool"
	AdapterSQLDB      = "sql.db"
	AdapterSQLXDB     = "sqlx.db"
)

// ErrMissingPostgresDSN is returned when a PostgreSQL adapter is selected without a DSN.
var ErrMissingPostgresDSN = errors.New("EVENTSTORE_POSTGRES_DSN must be set for postgres adapters")

// TestConfig holds the environment driven settings of the storage engine tests.
type TestConfig struct {
	AdapterType        string `env:"ADAPTER_TYPE" envDefault:"sqlite"`
	PostgresDSN        string `env:"EVENTSTORE_POSTGRES_DSN"`
	PostgresReplicaDSN string `env:"EVENTSTORE_POSTGRES_REPLICA_DSN"`
	LogToStdout        bool   `env:"EVENTSTORE_TEST_LOG_TO_STDOUT" envDefault:"false"`
}

// ParseEnv reads the TestConfig from the environment.
func ParseEnv() (TestConfig, error) {
	var cfg TestConfig
	if err := env.Parse(&cfg); err != nil {
		return TestConfig{}, err
	}

	return cfg, nil
}

// IsPostgres reports whether the configured adapter talks to PostgreSQL.
func (c TestConfig) IsPostgres() bool {
	switch c.AdapterType {
	case AdapterPGXPool, AdapterSQLDB, AdapterSQLXDB:
		return true
	default:
		return false
	}
}

// Validate checks that the settings needed by the configured adapter are present.
func (c TestConfig) Validate() error {
	if c.IsPostgres() && c.PostgresDSN == "" {
		return ErrMissingPostgresDSN
	}

	return nil
}
