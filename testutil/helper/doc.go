// Package helper provides spies and fixtures shared by the event store test suites.
//
// LogHandlerSpy, MetricsCollectorSpy, and TracingCollectorSpy capture what the EventStore and the
// storage engines report, so tests can assert on log messages, metric names, labels, and spans.
// Counter is a tiny composed aggregate state used by engine-agnostic tests.
package helper
