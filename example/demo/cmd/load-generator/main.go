package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore/oteladapters"
	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore/promadapters"
	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore/sqlengine"
	"github.com/AntonStoeckl/aggregate-eventstore-go/example/shared/shell"
	"github.com/AntonStoeckl/aggregate-eventstore-go/example/shared/shell/config"
)

const instrumentationName = "eventstore-load-generator"

// Config holds the workload settings given as flags. Infrastructure settings come from the environment.
type Config struct {
	Rate           int
	Accounts       int
	Users          int
	InitialBalance int64
	Duration       time.Duration
}

// ObservabilityConfig holds the observability adapters shared by the EventStore and the command handler.
type ObservabilityConfig struct {
	ContextualLogger eventstore.ContextualLogger
	MetricsCollector eventstore.MetricsCollector
	TracingCollector eventstore.TracingCollector
	shutdown         []func() error
}

func main() {
	cfg := parseFlags()

	envCfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}

	level, _ := envCfg.SlogLevel()
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	obsConfig := newObservabilityConfig(ctx, envCfg, handler, logger)
	defer obsConfig.Shutdown(logger)

	engine, closeEngine, err := config.OpenStorageEngine(ctx, envCfg, sqlengine.WithLogger(logger))
	if err != nil {
		logger.Error("failed to open the storage engine", "engine", envCfg.Engine, "error", err.Error())
		os.Exit(1)
	}
	defer closeEngine()

	es, err := eventstore.NewEventStore(engine, obsConfig.eventStoreOptions(logger)...)
	if err != nil {
		logger.Error("failed to create the EventStore", "error", err.Error())
		os.Exit(1)
	}

	commandHandler, err := shell.NewCommandHandler(es, obsConfig.commandHandlerOptions(logger)...)
	if err != nil {
		logger.Error("failed to create the command handler", "error", err.Error())
		os.Exit(1)
	}

	loadGen := NewLoadGenerator(es, commandHandler, cfg, logger)
	if err = loadGen.Setup(ctx); err != nil {
		logger.Error("load generator setup failed", "error", err.Error())
		os.Exit(1)
	}

	if cfg.Duration > 0 {
		var cancelRun context.CancelFunc
		ctx, cancelRun = context.WithTimeout(ctx, cfg.Duration)
		defer cancelRun()
	}

	if err = loadGen.Start(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("load generator failed", "error", err.Error())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err = loadGen.Stop(shutdownCtx); err != nil {
		logger.Error("error during shutdown", "error", err.Error())
	}

	logger.Info("load generator stopped")
}

func parseFlags() Config {
	var (
		rate           = flag.Int("rate", 30, "Requests per second")
		accounts       = flag.Int("accounts", 20, "Number of accounts to open before the run")
		users          = flag.Int("users", 10, "Number of users to register before the run")
		initialBalance = flag.Int64("initial-balance", 1000, "Balance every account starts with")
		duration       = flag.Duration("duration", 0, "Run time, 0 runs until interrupted")
	)

	flag.Parse()

	if *rate <= 0 || *accounts <= 0 || *users < 0 || *initialBalance <= 0 {
		log.Fatalf("rate, accounts and initial-balance must be positive, users must not be negative")
	}

	return Config{
		Rate:           *rate,
		Accounts:       *accounts,
		Users:          *users,
		InitialBalance: *initialBalance,
		Duration:       *duration,
	}
}

// newObservabilityConfig wires OpenTelemetry when EVENTSTORE_OTEL_ENABLED is set and serves
// Prometheus metrics when EVENTSTORE_METRICS_ADDR is set. Prometheus wins for metrics if both are on.
func newObservabilityConfig(ctx context.Context, envCfg config.Config, handler slog.Handler, logger *slog.Logger) *ObservabilityConfig {
	obsConfig := &ObservabilityConfig{}

	if envCfg.OTelEnabled {
		providers, err := config.NewObservabilityProviders(ctx, envCfg)
		if err != nil {
			logger.Warn("failed to create the OpenTelemetry providers", "error", err.Error())
		} else {
			obsConfig.shutdown = append(obsConfig.shutdown, providers.Shutdown)
			obsConfig.ContextualLogger = oteladapters.NewSlogBridgeLoggerWithHandler(instrumentationName, handler)
			obsConfig.MetricsCollector = oteladapters.NewMetricsCollector(otel.Meter(instrumentationName))
			obsConfig.TracingCollector = oteladapters.NewTracingCollector(otel.Tracer(instrumentationName))
		}
	}

	if envCfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		collector, err := promadapters.NewMetricsCollector(registry, promadapters.WithConstLabels(prometheus.Labels{"engine": envCfg.Engine}))
		if err != nil {
			logger.Warn("failed to create the prometheus collector", "error", err.Error())
		} else {
			obsConfig.MetricsCollector = collector
			obsConfig.shutdown = append(obsConfig.shutdown, serveMetrics(envCfg.MetricsAddr, registry, logger))
		}
	}

	logger.Info("observability configured",
		"metrics", obsConfig.MetricsCollector != nil,
		"tracing", obsConfig.TracingCollector != nil,
		"contextual_logging", obsConfig.ContextualLogger != nil,
	)

	return obsConfig
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) func() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err.Error())
		}
	}()

	logger.Info("serving prometheus metrics", "addr", addr)

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return server.Shutdown(ctx)
	}
}

func (c *ObservabilityConfig) eventStoreOptions(logger *slog.Logger) []eventstore.Option {
	var options []eventstore.Option

	if c.ContextualLogger != nil {
		options = append(options, eventstore.WithContextualLogger(c.ContextualLogger))
	} else {
		options = append(options, eventstore.WithLogger(logger))
	}

	if c.MetricsCollector != nil {
		options = append(options, eventstore.WithMetrics(c.MetricsCollector))
	}

	if c.TracingCollector != nil {
		options = append(options, eventstore.WithTracing(c.TracingCollector))
	}

	return options
}

func (c *ObservabilityConfig) commandHandlerOptions(logger *slog.Logger) []shell.CommandHandlerOption {
	var options []shell.CommandHandlerOption

	if c.ContextualLogger != nil {
		options = append(options, shell.WithContextualLogger(c.ContextualLogger))
	} else {
		options = append(options, shell.WithLogger(logger))
	}

	if c.MetricsCollector != nil {
		options = append(options, shell.WithMetrics(c.MetricsCollector))
	}

	if c.TracingCollector != nil {
		options = append(options, shell.WithTracing(c.TracingCollector))
	}

	return options
}

// Shutdown stops the exporters and the metrics server in reverse order of creation.
func (c *ObservabilityConfig) Shutdown(logger *slog.Logger) {
	for i := len(c.shutdown) - 1; i >= 0; i-- {
		if err := c.shutdown[i](); err != nil {
			logger.Warn("observability shutdown failed", "error", err.Error())
		}
	}
}
