// Package memengine provides an in-memory eventstore.StorageEngine.
//
// It is a reference implementation for tests and examples, not intended for production use:
// everything lives in process memory and lookups are linear scans.
package memengine

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
)

// StorageEngine keeps events, snapshots, and aggregate instances in memory.
type StorageEngine struct {
	mu             sync.RWMutex
	lastID         int64
	instances      map[instanceKey]int64
	events         eventstore.Events
	snapshots      []eventstore.Snapshot
	uniqueVersions bool
}

type instanceKey struct {
	aggregateType string
	naturalKey    string
}

type versionKey struct {
	aggregateID   int64
	aggregateType string
	version       int64
}

// Option defines a functional option for configuring StorageEngine.
type Option func(*StorageEngine)

// WithUniqueVersions makes WriteUpdates reject events whose (aggregate id, aggregate type, version)
// already exists, or appears twice in one batch, with eventstore.ErrConcurrencyConflict.
// A rejected batch leaves the engine unchanged.
func WithUniqueVersions() Option {
	return func(se *StorageEngine) {
		se.uniqueVersions = true
	}
}

// NewStorageEngine creates an empty in-memory StorageEngine.
func NewStorageEngine(options ...Option) *StorageEngine {
	se := &StorageEngine{
		instances: make(map[instanceKey]int64),
		events:    make(eventstore.Events, 0),
		snapshots: make([]eventstore.Snapshot, 0),
	}

	for _, option := range options {
		option(se)
	}

	return se
}

// CreateAggregateInstance allocates the next id.
// A natural key that already exists for the aggregate type fails with eventstore.ErrNaturalKeyConflict.
func (se *StorageEngine) CreateAggregateInstance(_ context.Context, aggregateType string, naturalKey string) (int64, error) {
	se.mu.Lock()
	defer se.mu.Unlock()

	key := instanceKey{aggregateType: aggregateType, naturalKey: naturalKey}

	if naturalKey != "" {
		if _, exists := se.instances[key]; exists {
			return 0, eventstore.ErrNaturalKeyConflict
		}
	}

	se.lastID++

	if naturalKey != "" {
		se.instances[key] = se.lastID
	}

	return se.lastID, nil
}

// GetAggregateInstanceID resolves a natural key to an id.
func (se *StorageEngine) GetAggregateInstanceID(_ context.Context, aggregateType string, naturalKey string) (int64, bool, error) {
	se.mu.RLock()
	defer se.mu.RUnlock()

	id, found := se.instances[instanceKey{aggregateType: aggregateType, naturalKey: naturalKey}]

	return id, found, nil
}

// ReadEvents returns the matching events with a version greater than afterVersion, in ascending order.
func (se *StorageEngine) ReadEvents(
	_ context.Context,
	aggregateID int64,
	aggregateType string,
	afterVersion int64,
) (eventstore.Events, error) {

	se.mu.RLock()
	defer se.mu.RUnlock()

	events := make(eventstore.Events, 0)

	for _, event := range se.events {
		if event.AggregateID == aggregateID && event.AggregateType == aggregateType && event.Version > afterVersion {
			events = append(events, event)
		}
	}

	slices.SortStableFunc(events, func(a, b eventstore.Event) int {
		return cmp.Compare(a.Version, b.Version)
	})

	return events, nil
}

// ReadSnapshot returns the matching snapshot with the highest version.
// Among snapshots with equal versions the one written last wins.
func (se *StorageEngine) ReadSnapshot(
	_ context.Context,
	aggregateID int64,
	aggregateType string,
) (eventstore.Snapshot, bool, error) {

	se.mu.RLock()
	defer se.mu.RUnlock()

	var latest eventstore.Snapshot
	found := false

	for _, snapshot := range se.snapshots {
		if snapshot.AggregateID != aggregateID || snapshot.AggregateType != aggregateType {
			continue
		}

		if !found || snapshot.Version >= latest.Version {
			latest = snapshot
			found = true
		}
	}

	return latest, found, nil
}

// WriteUpdates appends events and snapshots as one batch.
func (se *StorageEngine) WriteUpdates(_ context.Context, events eventstore.Events, snapshots []eventstore.Snapshot) error {
	se.mu.Lock()
	defer se.mu.Unlock()

	if se.uniqueVersions {
		if err := se.checkVersions(events); err != nil {
			return err
		}
	}

	se.events = append(se.events, events...)
	se.snapshots = append(se.snapshots, snapshots...)

	return nil
}

func (se *StorageEngine) checkVersions(events eventstore.Events) error {
	batch := make(map[versionKey]struct{}, len(events))

	for _, event := range events {
		key := versionKey{aggregateID: event.AggregateID, aggregateType: event.AggregateType, version: event.Version}

		if _, duplicate := batch[key]; duplicate {
			return eventstore.ErrConcurrencyConflict
		}

		batch[key] = struct{}{}
	}

	for _, stored := range se.events {
		key := versionKey{aggregateID: stored.AggregateID, aggregateType: stored.AggregateType, version: stored.Version}

		if _, collides := batch[key]; collides {
			return eventstore.ErrConcurrencyConflict
		}
	}

	return nil
}

// EventCount returns the number of stored events.
func (se *StorageEngine) EventCount() int {
	se.mu.RLock()
	defer se.mu.RUnlock()

	return len(se.events)
}

// SnapshotCount returns the number of stored snapshots.
func (se *StorageEngine) SnapshotCount() int {
	se.mu.RLock()
	defer se.mu.RUnlock()

	return len(se.snapshots)
}

// Ensure StorageEngine implements eventstore.StorageEngine.
var _ eventstore.StorageEngine = (*StorageEngine)(nil)
