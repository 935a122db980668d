// Package oteladapters plugs OpenTelemetry into the observability interfaces of the eventstore package.
//
// Wire them with eventstore.WithContextualLogger, eventstore.WithMetrics, and eventstore.WithTracing:
//
//	es, err := eventstore.NewEventStore(
//		engine,
//		eventstore.WithContextualLogger(oteladapters.NewSlogBridgeLogger("eventstore")),
//		eventstore.WithMetrics(oteladapters.NewMetricsCollector(otel.Meter("eventstore"))),
//		eventstore.WithTracing(oteladapters.NewTracingCollector(otel.Tracer("eventstore"))),
//	)
//
// Every operation then produces a span named "eventstore.<operation>", a duration histogram,
// and log records that carry the trace and span ids of that span.
package oteladapters
