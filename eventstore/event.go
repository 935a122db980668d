package eventstore

import (
	"errors"

	jsoniter "github.com/json-iterator/go"
)

var (
	// ErrInvalidPayloadJSON is returned when stored event data is not valid JSON.
	ErrInvalidPayloadJSON = errors.New("payload json is not valid")

	// ErrInvalidMetadataJSON is returned when stored event metadata is not valid JSON.
	ErrInvalidMetadataJSON = errors.New("metadata json is not valid")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Events is an alias type for a slice of Event.
type Events = []Event

// Event is one immutable fact in the history of an aggregate instance.
//
// Version is assigned by the EventContext at publish time as the aggregate's current version plus one,
// it is never assigned by a StorageEngine. Data and Metadata hold JSON, Metadata is nil when no metadata was attached.
type Event struct {
	AggregateID   int64
	AggregateType string
	Version       int64
	EventType     string
	Data          []byte
	Metadata      []byte
}

// NewEvent encodes payload and returns the resulting Event.
func NewEvent(
	aggregateID int64,
	aggregateType string,
	version int64,
	eventType string,
	payload any,
) (Event, error) {

	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.Join(ErrEventSerialization, err)
	}

	return Event{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		EventType:     eventType,
		Data:          data,
	}, nil
}

// BuildEvent is a factory method for Event used by storage engines to rebuild persisted rows.
//
// Returns an error if data is not valid JSON, or if metadata is non-nil and not valid JSON.
func BuildEvent(
	aggregateID int64,
	aggregateType string,
	version int64,
	eventType string,
	data []byte,
	metadata []byte,
) (Event, error) {

	if !json.Valid(data) {
		return Event{}, ErrInvalidPayloadJSON
	}

	if metadata != nil && !json.Valid(metadata) {
		return Event{}, ErrInvalidMetadataJSON
	}

	return Event{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		EventType:     eventType,
		Data:          data,
		Metadata:      metadata,
	}, nil
}

// Decode unmarshals the event payload into target.
func (e Event) Decode(target any) error {
	if err := json.Unmarshal(e.Data, target); err != nil {
		return errors.Join(ErrEventDeserialization, err)
	}

	return nil
}

// AttachMetadata encodes metadata and stores it on the event.
// An empty map leaves the event without metadata.
func (e *Event) AttachMetadata(metadata map[string]string) error {
	if len(metadata) == 0 {
		return nil
	}

	encoded, err := json.Marshal(metadata)
	if err != nil {
		return errors.Join(ErrMetadataSerialization, err)
	}

	e.Metadata = encoded

	return nil
}

// HasMetadata reports whether metadata was attached to the event.
func (e Event) HasMetadata() bool {
	return e.Metadata != nil
}

// DecodeMetadata returns the metadata attached to the event, or nil if there is none.
func (e Event) DecodeMetadata() (map[string]string, error) {
	if e.Metadata == nil {
		return nil, nil
	}

	metadata := make(map[string]string)
	if err := json.Unmarshal(e.Metadata, &metadata); err != nil {
		return nil, errors.Join(ErrMetadataSerialization, err)
	}

	return metadata, nil
}
