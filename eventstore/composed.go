package eventstore

import (
	"context"
	"errors"
)

// State is the minimal contract of a domain state type wrapped by Composed.
// ApplyEvent folds one event into the state. Its persistent fields must survive a JSON round trip.
type State interface {
	AggregateType() string
	ApplyEvent(event Event) error
}

// StatePtr constrains PT to be a pointer to T that implements State.
type StatePtr[T any] interface {
	*T
	State
}

// Requester is implemented by state types that turn a command into an event.
// Returning an error rejects the command, nothing is published then.
type Requester[C any] interface {
	Request(command C) (eventType string, payload any, err error)
}

// Composed implements Aggregate for a plain domain state type T.
//
// It adds the id, the version, and the EventContext that owns the aggregate. T is snapshotted as a whole,
// so its persistent fields must be exported. The snapshot frequency defaults to DefaultSnapshotFrequency
// unless *T implements SnapshotFrequencier.
type Composed[T any, PT StatePtr[T]] struct {
	id      int64
	version int64
	context *EventContext
	state   T
}

// NewComposed creates a new aggregate instance with a fresh id and the zero state at version 0.
//
// A non-empty naturalKey binds the id to it, so calling NewComposed again with the same key returns
// an aggregate with the same id.
func NewComposed[T any, PT StatePtr[T]](ctx context.Context, ec *EventContext, naturalKey string) (*Composed[T, PT], error) {
	if ec == nil {
		return nil, ErrNoContext
	}

	aggregate := &Composed[T, PT]{context: ec}

	id, err := ec.NextAggregateID(ctx, aggregate.AggregateType(), naturalKey)
	if err != nil {
		return nil, err
	}

	aggregate.id = id

	return aggregate, nil
}

// LoadComposed hydrates the aggregate instance with the given id.
// Returns ErrAggregateNotFound if it has neither a snapshot nor any event.
func LoadComposed[T any, PT StatePtr[T]](ctx context.Context, ec *EventContext, id int64) (*Composed[T, PT], error) {
	if ec == nil {
		return nil, ErrNoContext
	}

	aggregate := &Composed[T, PT]{id: id, context: ec}

	if err := ec.Load(ctx, aggregate); err != nil {
		return nil, err
	}

	return aggregate, nil
}

// Request asks the state to turn command into an event and publishes it through the owning EventContext.
func Request[C any, T any, PT interface {
	StatePtr[T]
	Requester[C]
}](aggregate *Composed[T, PT], command C) error {

	if aggregate.context == nil {
		return ErrNoContext
	}

	eventType, payload, err := PT(&aggregate.state).Request(command)
	if err != nil {
		return err
	}

	return aggregate.context.Publish(aggregate, eventType, payload)
}

// Publish publishes an event for this aggregate through the owning EventContext.
func (c *Composed[T, PT]) Publish(eventType string, payload any) error {
	if c.context == nil {
		return ErrNoContext
	}

	return c.context.Publish(c, eventType, payload)
}

// ID returns the aggregate instance id.
func (c *Composed[T, PT]) ID() int64 {
	return c.id
}

// AggregateType returns the aggregate type declared by the state.
func (c *Composed[T, PT]) AggregateType() string {
	return PT(&c.state).AggregateType()
}

// Version returns the version of the last applied event or snapshot.
func (c *Composed[T, PT]) Version() int64 {
	return c.version
}

// SnapshotFrequency returns the state's snapshot frequency, or DefaultSnapshotFrequency.
func (c *Composed[T, PT]) SnapshotFrequency() int64 {
	if frequencier, ok := any(PT(&c.state)).(SnapshotFrequencier); ok {
		return frequencier.SnapshotFrequency()
	}

	return DefaultSnapshotFrequency
}

// ApplySnapshot replaces the state with the snapshot's state.
func (c *Composed[T, PT]) ApplySnapshot(snapshot Snapshot) error {
	var state T

	if err := snapshot.Decode(&state); err != nil {
		return errors.Join(ErrApplySnapshot, err)
	}

	c.state = state
	c.version = snapshot.Version

	return nil
}

// ApplyEvent folds event into a deep copy of the state and keeps the copy only if the fold succeeds,
// so a failing fold leaves maps, slices and pointers of the state untouched.
func (c *Composed[T, PT]) ApplyEvent(event Event) error {
	next, err := c.cloneState()
	if err != nil {
		return err
	}

	if err = PT(&next).ApplyEvent(event); err != nil {
		return err
	}

	c.state = next
	c.version = event.Version

	return nil
}

// cloneState copies the state through its JSON encoding, the same encoding snapshots use.
func (c *Composed[T, PT]) cloneState() (T, error) {
	var next T

	data, err := json.Marshal(c.state)
	if err != nil {
		return next, errors.Join(ErrSnapshotSerialization, err)
	}

	if err = json.Unmarshal(data, &next); err != nil {
		return next, errors.Join(ErrSnapshotDeserialization, err)
	}

	return next, nil
}

// TakeSnapshot captures the current state and version.
func (c *Composed[T, PT]) TakeSnapshot() (Snapshot, error) {
	return NewSnapshot(c.id, c.AggregateType(), c.version, c.state)
}

// State returns a copy of the current state.
func (c *Composed[T, PT]) State() T {
	return c.state
}

// StatePtr returns a pointer to the current state. Changes made through it are not events and are never persisted.
func (c *Composed[T, PT]) StatePtr() PT {
	return &c.state
}

// Context returns the EventContext that owns this aggregate, or nil.
func (c *Composed[T, PT]) Context() *EventContext {
	return c.context
}
