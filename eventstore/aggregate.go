package eventstore

// Aggregate is the capability contract every event-sourced domain object satisfies.
//
// Version is 0 for an aggregate that was never persisted. SnapshotFrequency 0 disables snapshotting,
// N > 0 captures a snapshot every N versions.
//
// ApplySnapshot replaces the whole state and sets the version to the snapshot's version.
// ApplyEvent folds one event and sets the version to the event's version, it must leave the
// aggregate unchanged when it returns an error.
type Aggregate interface {
	ID() int64
	AggregateType() string
	Version() int64
	SnapshotFrequency() int64
	ApplySnapshot(snapshot Snapshot) error
	ApplyEvent(event Event) error
	TakeSnapshot() (Snapshot, error)
}

// DefaultSnapshotFrequency is used by Composed aggregates whose state does not implement SnapshotFrequencier.
const DefaultSnapshotFrequency int64 = 10

// SnapshotFrequencier is implemented by Composed state types that want a non-default snapshot cadence.
type SnapshotFrequencier interface {
	SnapshotFrequency() int64
}

func shouldSnapshot(frequency, version int64) bool {
	return frequency > 0 && version%frequency == 0
}
