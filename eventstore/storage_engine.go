package eventstore

import "context"

// StorageEngine is the persistence boundary of the event store.
//
// Implementations must:
//   - hand out unique aggregate ids per aggregate type and keep the (type, natural key) mapping unique
//   - return events in ascending version order
//   - return the snapshot with the highest version
//   - persist all events and snapshots of one WriteUpdates call atomically
//   - reject a second event with the same (aggregate_id, aggregate_type, version) with ErrConcurrencyConflict
//
// An empty natural key means the instance has none.
type StorageEngine interface {
	CreateAggregateInstance(ctx context.Context, aggregateType string, naturalKey string) (int64, error)
	GetAggregateInstanceID(ctx context.Context, aggregateType string, naturalKey string) (int64, bool, error)
	ReadEvents(ctx context.Context, aggregateID int64, aggregateType string, afterVersion int64) (Events, error)
	ReadSnapshot(ctx context.Context, aggregateID int64, aggregateType string) (Snapshot, bool, error)
	WriteUpdates(ctx context.Context, events Events, snapshots []Snapshot) error
}
