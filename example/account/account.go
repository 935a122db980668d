// Package account is a bank account written against the eventstore.Aggregate contract by hand.
package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
)

const (
	AggregateType      = "account"
	EventTypeDeposited = "deposited"
	EventTypeWithdrawn = "withdrawn"
	SnapshotFrequency  = 10
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be greater than 0")
	ErrUnknownEventType  = errors.New("unknown account event type")
)

// State is what an account snapshot contains.
type State struct {
	Balance int64 `json:"balance"`
}

type Deposited struct {
	Amount int64 `json:"amount"`
}

type Withdrawn struct {
	Amount int64 `json:"amount"`
}

// Account is an event-sourced bank account. It is owned by the EventContext it was created or loaded with.
type Account struct {
	id      int64
	version int64
	context *eventstore.EventContext
	state   State
}

// New opens a new account with a fresh id and a zero balance.
func New(ctx context.Context, ec *eventstore.EventContext) (*Account, error) {
	if ec == nil {
		return nil, eventstore.ErrNoContext
	}

	id, err := ec.NextAggregateID(ctx, AggregateType, "")
	if err != nil {
		return nil, err
	}

	return &Account{id: id, context: ec}, nil
}

// Load hydrates the account with the given id.
func Load(ctx context.Context, ec *eventstore.EventContext, id int64) (*Account, error) {
	if ec == nil {
		return nil, eventstore.ErrNoContext
	}

	a := &Account{id: id, context: ec}
	if err := ec.Load(ctx, a); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *Account) Balance() int64 {
	return a.state.Balance
}

// Deposit credits amount. A rejected deposit leaves the account unchanged.
func (a *Account) Deposit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	return a.context.Publish(a, EventTypeDeposited, Deposited{Amount: amount})
}

// Withdraw debits amount, the balance never drops below zero.
func (a *Account) Withdraw(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	if a.state.Balance < amount {
		return fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientFunds, a.state.Balance, amount)
	}

	return a.context.Publish(a, EventTypeWithdrawn, Withdrawn{Amount: amount})
}

func (a *Account) ID() int64 {
	return a.id
}

func (a *Account) AggregateType() string {
	return AggregateType
}

func (a *Account) Version() int64 {
	return a.version
}

func (a *Account) SnapshotFrequency() int64 {
	return SnapshotFrequency
}

func (a *Account) ApplySnapshot(snapshot eventstore.Snapshot) error {
	var state State
	if err := snapshot.Decode(&state); err != nil {
		return err
	}

	a.state = state
	a.version = snapshot.Version

	return nil
}

func (a *Account) ApplyEvent(event eventstore.Event) error {
	switch event.EventType {
	case EventTypeDeposited:
		var payload Deposited
		if err := event.Decode(&payload); err != nil {
			return err
		}

		a.state.Balance += payload.Amount

	case EventTypeWithdrawn:
		var payload Withdrawn
		if err := event.Decode(&payload); err != nil {
			return err
		}

		a.state.Balance -= payload.Amount

	default:
		return fmt.Errorf("%w: %s", ErrUnknownEventType, event.EventType)
	}

	a.version = event.Version

	return nil
}

func (a *Account) TakeSnapshot() (eventstore.Snapshot, error) {
	return eventstore.NewSnapshot(a.id, AggregateType, a.version, a.state)
}

var _ eventstore.Aggregate = (*Account)(nil)
