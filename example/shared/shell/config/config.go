package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Storage engines selectable with EVENTSTORE_ENGINE.
const (
	EngineMemory   = "memory"
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
)

var (
	ErrUnknownEngine      = errors.New("unknown storage engine")
	ErrMissingPostgresDSN = errors.New("EVENTSTORE_POSTGRES_DSN must be set for the postgres engine")
	ErrInvalidLogLevel    = errors.New("invalid log level")
)

// Config holds the environment driven settings of the example application.
type Config struct {
	Engine       string `env:"EVENTSTORE_ENGINE" envDefault:"memory"`
	SQLitePath   string `env:"EVENTSTORE_SQLITE_PATH" envDefault:"eventstore.db"`
	PostgresDSN  string `env:"EVENTSTORE_POSTGRES_DSN"`
	TablePrefix  string `env:"EVENTSTORE_TABLE_PREFIX"`
	LogLevel     string `env:"EVENTSTORE_LOG_LEVEL" envDefault:"info"`
	OTelEnabled  bool   `env:"EVENTSTORE_OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint string `env:"EVENTSTORE_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	MetricsAddr  string `env:"EVENTSTORE_METRICS_ADDR"`
	ServiceName  string `env:"EVENTSTORE_SERVICE_NAME" envDefault:"aggregate-eventstore-demo"`
}

// Load reads the Config from the environment and validates it.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, err
	}

	cfg.Engine = strings.ToLower(strings.TrimSpace(cfg.Engine))

	if err = cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Engine {
	case EngineMemory, EngineSQLite:
	case EnginePostgres:
		if c.PostgresDSN == "" {
			return ErrMissingPostgresDSN
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEngine, c.Engine)
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	return nil
}

// SlogLevel parses LogLevel, e.g. "debug" or "WARN".
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}

	return level, nil
}
