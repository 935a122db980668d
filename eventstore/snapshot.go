package eventstore

import (
	"errors"
)

var (
	// ErrInvalidSnapshotJSON is returned when stored snapshot data is not valid JSON.
	ErrInvalidSnapshotJSON = errors.New("snapshot json is not valid")
)

// Snapshot is the materialized state of an aggregate instance at a specific version.
//
// Several snapshots may exist for one aggregate instance, the one with the highest Version is authoritative.
type Snapshot struct {
	AggregateID   int64
	AggregateType string
	Version       int64
	Data          []byte
}

// NewSnapshot encodes state and returns the resulting Snapshot.
func NewSnapshot(
	aggregateID int64,
	aggregateType string,
	version int64,
	state any,
) (Snapshot, error) {

	data, err := json.Marshal(state)
	if err != nil {
		return Snapshot{}, errors.Join(ErrSnapshotSerialization, err)
	}

	return Snapshot{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		Data:          data,
	}, nil
}

// BuildSnapshot is a factory method for Snapshot used by storage engines to rebuild persisted rows.
func BuildSnapshot(
	aggregateID int64,
	aggregateType string,
	version int64,
	data []byte,
) (Snapshot, error) {

	if !json.Valid(data) {
		return Snapshot{}, ErrInvalidSnapshotJSON
	}

	return Snapshot{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		Data:          data,
	}, nil
}

// Decode unmarshals the snapshot data into target.
func (s Snapshot) Decode(target any) error {
	if err := json.Unmarshal(s.Data, target); err != nil {
		return errors.Join(ErrSnapshotDeserialization, err)
	}

	return nil
}
