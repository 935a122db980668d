package eventstore

import (
	"errors"
)

var (
	// ErrEventSerialization is returned when an event payload cannot be encoded.
	ErrEventSerialization = errors.New("event payload serialization failed")

	// ErrEventDeserialization is returned when an event payload cannot be decoded into the requested type.
	ErrEventDeserialization = errors.New("event payload deserialization failed")

	// ErrMetadataSerialization is returned when event metadata cannot be encoded or decoded.
	ErrMetadataSerialization = errors.New("event metadata serialization failed")

	// ErrSnapshotSerialization is returned when aggregate state cannot be encoded into a snapshot.
	ErrSnapshotSerialization = errors.New("snapshot serialization failed")

	// ErrSnapshotDeserialization is returned when snapshot data cannot be decoded into the requested type.
	ErrSnapshotDeserialization = errors.New("snapshot deserialization failed")

	// ErrAggregateNotFound is returned when hydration found neither a snapshot nor any event.
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrApplyEvent is returned when an aggregate rejects an event during the fold.
	ErrApplyEvent = errors.New("applying event failed")

	// ErrApplySnapshot is returned when an aggregate cannot apply a snapshot.
	ErrApplySnapshot = errors.New("applying snapshot failed")

	// ErrNoContext is returned when an operation needs an EventContext but the aggregate is detached.
	ErrNoContext = errors.New("aggregate is not attached to an event context")

	// ErrStorageEngine tags every failure that originates in a StorageEngine.
	ErrStorageEngine = errors.New("storage engine error")

	// ErrConcurrencyConflict is returned when a commit collides on (aggregate_id, version).
	ErrConcurrencyConflict = errors.New("concurrency conflict, version already exists")

	// ErrNaturalKeyConflict is returned when an aggregate instance with the same natural key already exists.
	ErrNaturalKeyConflict = errors.New("aggregate instance with this natural key already exists")

	// ErrNilStorageEngine is returned when a nil StorageEngine is supplied.
	ErrNilStorageEngine = errors.New("storage engine must not be nil")

	// ErrNilDatabaseConnection is returned when a nil database connection is supplied.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrEmptyAggregateType is returned when an empty aggregate type is supplied.
	ErrEmptyAggregateType = errors.New("aggregate type must not be empty")
)

// StorageEngineError wraps a failure reported by a StorageEngine together with the operation that failed.
// It matches ErrStorageEngine with errors.Is and unwraps to the engine's own error,
// so errors.Is(err, ErrConcurrencyConflict) still works for version collisions.
type StorageEngineError struct {
	Op  string
	Err error
}

func (e *StorageEngineError) Error() string {
	return "storage engine error during " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying engine error.
func (e *StorageEngineError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrStorageEngine.
func (e *StorageEngineError) Is(target error) bool {
	return target == ErrStorageEngine
}

// IsConcurrencyConflict reports whether err was caused by an optimistic concurrency collision.
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

func wrapStorageEngineError(op string, err error) error {
	var engineErr *StorageEngineError
	if errors.As(err, &engineErr) {
		return err
	}

	return &StorageEngineError{Op: op, Err: err}
}
