// Package promadapters provides a Prometheus implementation of eventstore.MetricsCollector.
package promadapters

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
)

var (
	ErrNilRegisterer = errors.New("prometheus registerer must not be nil")
	ErrEmptyBuckets  = errors.New("histogram buckets must not be empty")
)

// DefaultBuckets are the histogram buckets for operation durations, in seconds.
var DefaultBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

// Option defines a functional option for configuring MetricsCollector.
type Option func(*MetricsCollector) error

// WithBuckets overrides DefaultBuckets.
func WithBuckets(buckets []float64) Option {
	return func(m *MetricsCollector) error {
		if len(buckets) == 0 {
			return ErrEmptyBuckets
		}

		m.buckets = buckets
		return nil
	}
}

// WithConstLabels adds labels with fixed values to every metric, e.g. the service name.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(m *MetricsCollector) error {
		m.constLabels = labels
		return nil
	}
}

// MetricsCollector maps the eventstore metrics onto Prometheus vectors:
//   - RecordDuration observes a HistogramVec in seconds
//   - IncrementCounter increments a CounterVec
//   - RecordValue sets a GaugeVec
//
// A vector is created and registered on first use of a metric name. Its label names are the
// label keys of that first call, so a later call with different keys is dropped.
type MetricsCollector struct {
	registerer  prometheus.Registerer
	buckets     []float64
	constLabels prometheus.Labels

	mu         sync.Mutex
	histograms map[string]*prometheus.HistogramVec
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewMetricsCollector creates a collector that registers its metrics with registerer,
// for example prometheus.DefaultRegisterer or a prometheus.NewRegistry().
func NewMetricsCollector(registerer prometheus.Registerer, options ...Option) (*MetricsCollector, error) {
	if registerer == nil {
		return nil, ErrNilRegisterer
	}

	m := &MetricsCollector{
		registerer: registerer,
		buckets:    DefaultBuckets,
		histograms: make(map[string]*prometheus.HistogramVec),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}

	for _, option := range options {
		if err := option(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *MetricsCollector) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	vec := m.histogramVec(metric, labelNames(labels))
	if vec == nil {
		return
	}

	if observer, err := vec.GetMetricWith(labels); err == nil {
		observer.Observe(duration.Seconds())
	}
}

func (m *MetricsCollector) IncrementCounter(metric string, labels map[string]string) {
	vec := m.counterVec(metric, labelNames(labels))
	if vec == nil {
		return
	}

	if counter, err := vec.GetMetricWith(labels); err == nil {
		counter.Inc()
	}
}

func (m *MetricsCollector) RecordValue(metric string, value float64, labels map[string]string) {
	vec := m.gaugeVec(metric, labelNames(labels))
	if vec == nil {
		return
	}

	if gauge, err := vec.GetMetricWith(labels); err == nil {
		gauge.Set(value)
	}
}

func (m *MetricsCollector) histogramVec(name string, labels []string) *prometheus.HistogramVec {
	m.mu.Lock()
	defer m.mu.Unlock()

	if vec, ok := m.histograms[name]; ok {
		return vec
	}

	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        name,
		Help:        "Duration of eventstore operations in seconds.",
		Buckets:     m.buckets,
		ConstLabels: m.constLabels,
	}, labels)

	registered, ok := register(m.registerer, vec)
	if !ok {
		return nil
	}

	m.histograms[name] = registered

	return registered
}

func (m *MetricsCollector) counterVec(name string, labels []string) *prometheus.CounterVec {
	m.mu.Lock()
	defer m.mu.Unlock()

	if vec, ok := m.counters[name]; ok {
		return vec
	}

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        name,
		Help:        "Eventstore counter " + name + ".",
		ConstLabels: m.constLabels,
	}, labels)

	registered, ok := register(m.registerer, vec)
	if !ok {
		return nil
	}

	m.counters[name] = registered

	return registered
}

func (m *MetricsCollector) gaugeVec(name string, labels []string) *prometheus.GaugeVec {
	m.mu.Lock()
	defer m.mu.Unlock()

	if vec, ok := m.gauges[name]; ok {
		return vec
	}

	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        name,
		Help:        "Eventstore value " + name + ".",
		ConstLabels: m.constLabels,
	}, labels)

	registered, ok := register(m.registerer, vec)
	if !ok {
		return nil
	}

	m.gauges[name] = registered

	return registered
}

// register returns the vector already known to the registerer if an equal one was registered before,
// e.g. by another collector on prometheus.DefaultRegisterer.
func register[V prometheus.Collector](registerer prometheus.Registerer, vec V) (V, bool) {
	err := registerer.Register(vec)
	if err == nil {
		return vec, true
	}

	var alreadyRegistered prometheus.AlreadyRegisteredError
	if errors.As(err, &alreadyRegistered) {
		if existing, ok := alreadyRegistered.ExistingCollector.(V); ok {
			return existing, true
		}
	}

	var zero V

	return zero, false
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

var _ eventstore.MetricsCollector = (*MetricsCollector)(nil)
