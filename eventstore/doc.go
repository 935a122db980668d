// Package eventstore provides an event-sourcing runtime built around aggregates.
//
// The current state of an aggregate is always derived by replaying its ordered, immutable events,
// starting from the latest snapshot when one exists. Persistence is pluggable through the StorageEngine
// interface, see the memengine and sqlengine packages.
//
// Key types:
//   - Event, Snapshot: persisted records with a JSON payload
//   - Aggregate: the capability contract of an event-sourced domain object
//   - Composed: a generic Aggregate implementation wrapping a plain domain state type
//   - EventContext: a unit of work that captures events and commits them atomically
//   - EventStore: the facade owning a StorageEngine and minting EventContexts
//
// Common usage pattern:
//
//	store, err := eventstore.NewEventStore(memengine.NewStorageEngine())
//
//	err = store.WithContext(ctx, func(ctx context.Context, ec *eventstore.EventContext) error {
//		ec.AddMetadata("user", "chavez")
//
//		user, err := eventstore.NewComposed[User](ctx, ec, "alice@example.com")
//		if err != nil {
//			return err
//		}
//
//		return eventstore.Request(user, CreateUser{Name: "Alice"})
//	})
//
// Two contexts working on the same aggregate instance compute the same next version independently.
// The conflict surfaces at commit as an error matching ErrConcurrencyConflict, retrying is up to the caller.
package eventstore
