package eventstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// EventContext is a unit of work: it captures the events and snapshots produced by aggregates
// and persists them with a single atomic Commit.
//
// An EventContext may be shared by several aggregates and goroutines, its buffers are guarded by a mutex.
// Abandoning a context before Commit discards everything it captured.
type EventContext struct {
	id        uuid.UUID
	store     *EventStore
	mu        sync.Mutex
	events    Events
	snapshots []Snapshot
	metadata  map[string]string
}

func newEventContext(store *EventStore) *EventContext {
	return &EventContext{
		id:        uuid.New(),
		store:     store,
		events:    make(Events, 0),
		snapshots: make([]Snapshot, 0),
		metadata:  make(map[string]string),
	}
}

// ID returns the id of this unit of work. It is used for log and trace correlation only and is not persisted.
func (ec *EventContext) ID() uuid.UUID {
	return ec.id
}

// Store returns the EventStore this context is bound to.
func (ec *EventContext) Store() *EventStore {
	return ec.store
}

// AddMetadata adds a key/value pair to the metadata attached to every event published afterward.
// Events published before the call are not affected.
func (ec *EventContext) AddMetadata(key, value string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	ec.metadata[key] = value
}

// NextAggregateID allocates the id of a new aggregate instance, optionally bound to a natural key.
func (ec *EventContext) NextAggregateID(ctx context.Context, aggregateType string, naturalKey string) (int64, error) {
	return ec.store.NextAggregateID(ctx, aggregateType, naturalKey)
}

// Load hydrates aggregate from its latest snapshot and the events recorded after it.
//
// The aggregate must carry its id and aggregate type. Returns ErrAggregateNotFound if neither
// a snapshot nor any event exists.
func (ec *EventContext) Load(ctx context.Context, aggregate Aggregate) error {
	snapshot, found, err := ec.store.GetSnapshot(ctx, aggregate.ID(), aggregate.AggregateType())
	if err != nil {
		return err
	}

	if found {
		if err = aggregate.ApplySnapshot(snapshot); err != nil {
			return errors.Join(ErrApplySnapshot, err)
		}
	}

	events, err := ec.store.GetEvents(ctx, aggregate.ID(), aggregate.AggregateType(), aggregate.Version())
	if err != nil {
		return err
	}

	if !found && len(events) == 0 {
		return fmt.Errorf("%w: %s %d", ErrAggregateNotFound, aggregate.AggregateType(), aggregate.ID())
	}

	for _, event := range events {
		if event.Version != aggregate.Version()+1 {
			return fmt.Errorf(
				"%w: expected version %d, got %d",
				ErrApplyEvent, aggregate.Version()+1, event.Version,
			)
		}

		if err = aggregate.ApplyEvent(event); err != nil {
			return errors.Join(ErrApplyEvent, err)
		}
	}

	return nil
}

// Publish captures one event produced by source.
//
// The event gets version source.Version()+1 and a copy of the current metadata, then it is folded into source.
// If the new version is a multiple of the snapshot frequency, a snapshot is taken after the fold, so the
// snapshot includes the triggering event and carries its version.
//
// If encoding or folding fails, nothing is captured and source is unchanged. If only the snapshot
// cannot be encoded, the event stays captured and the error wraps ErrSnapshotSerialization.
func (ec *EventContext) Publish(source Aggregate, eventType string, payload any) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	newVersion := source.Version() + 1

	event, err := NewEvent(source.ID(), source.AggregateType(), newVersion, eventType, payload)
	if err != nil {
		return err
	}

	if err = event.AttachMetadata(ec.metadata); err != nil {
		return err
	}

	if err = source.ApplyEvent(event); err != nil {
		return errors.Join(ErrApplyEvent, err)
	}

	ec.events = append(ec.events, event)

	if !shouldSnapshot(source.SnapshotFrequency(), newVersion) {
		return nil
	}

	snapshot, err := source.TakeSnapshot()
	if err != nil {
		ec.store.logWarn(context.Background(), logMsgSnapshotSkipped, err,
			logAttrContextID, ec.id.String(),
			logAttrAggregateType, source.AggregateType(),
			logAttrAggregateID, source.ID(),
			logAttrVersion, newVersion,
		)

		if !errors.Is(err, ErrSnapshotSerialization) {
			err = errors.Join(ErrSnapshotSerialization, err)
		}

		return err
	}

	ec.snapshots = append(ec.snapshots, snapshot)

	return nil
}

// Commit persists all captured events and snapshots in one atomic WriteUpdates call.
//
// On success the buffers are cleared, so a second Commit is a no-op. On failure nothing is durable,
// the buffers are kept, and the in-memory aggregates must not be treated as persisted.
func (ec *EventContext) Commit(ctx context.Context) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if len(ec.events) == 0 && len(ec.snapshots) == 0 {
		return nil
	}

	if err := ec.store.WriteUpdates(ctx, ec.events, ec.snapshots); err != nil {
		return err
	}

	ec.events = make(Events, 0)
	ec.snapshots = make([]Snapshot, 0)

	return nil
}

// PendingEvents returns a copy of the captured, not yet committed events.
func (ec *EventContext) PendingEvents() Events {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	events := make(Events, len(ec.events))
	copy(events, ec.events)

	return events
}

// PendingSnapshots returns a copy of the captured, not yet committed snapshots.
func (ec *EventContext) PendingSnapshots() []Snapshot {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	snapshots := make([]Snapshot, len(ec.snapshots))
	copy(snapshots, ec.snapshots)

	return snapshots
}
