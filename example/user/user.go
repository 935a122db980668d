// Package user is a user profile built on eventstore.Composed, addressed by its email as natural key.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AntonStoeckl/aggregate-eventstore-go/eventstore"
)

const (
	AggregateType            = "user"
	EventTypeCreated         = "user_created"
	EventTypeUpdated         = "user_updated"
	EventTypePasswordUpdated = "password_updated"
)

var (
	ErrAlreadyCreated    = errors.New("user already created")
	ErrNotCreated        = errors.New("user not created yet")
	ErrEmptyName         = errors.New("name must not be empty")
	ErrInvalidEmail      = errors.New("email is invalid")
	ErrEmailImmutable    = errors.New("email is the natural key and cannot change")
	ErrEmptyPasswordHash = errors.New("password hash must not be empty")
	ErrUnknownCommand    = errors.New("unknown user command")
	ErrUnknownEventType  = errors.New("unknown user event type")
)

// State is the whole user profile.
type State struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

// User is the composed aggregate around State.
type User = eventstore.Composed[State, *State]

// Command is one of Create, Update, and UpdatePassword.
type Command interface {
	isCommand()
}

type Create struct {
	Name         string
	Email        string
	PasswordHash string
}

// Update changes the name. Email must match the registered email up to case and surrounding space.
type Update struct {
	Name  string
	Email string
}

type UpdatePassword struct {
	PasswordHash string
}

func (Create) isCommand()         {}
func (Update) isCommand()         {}
func (UpdatePassword) isCommand() {}

// Created is the payload of EventTypeCreated.
type Created struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

// Updated is the payload of EventTypeUpdated.
type Updated struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// PasswordUpdated is the payload of EventTypePasswordUpdated.
type PasswordUpdated struct {
	PasswordHash string `json:"password_hash"`
}

func (s *State) AggregateType() string {
	return AggregateType
}

// Request validates command against the current state and names the event it results in.
func (s *State) Request(command Command) (string, any, error) {
	switch cmd := command.(type) {
	case Create:
		if s.Email != "" {
			return "", nil, ErrAlreadyCreated
		}

		if err := validateProfile(cmd.Name, cmd.Email); err != nil {
			return "", nil, err
		}

		if cmd.PasswordHash == "" {
			return "", nil, ErrEmptyPasswordHash
		}

		return EventTypeCreated, Created{Name: cmd.Name, Email: NaturalKey(cmd.Email), PasswordHash: cmd.PasswordHash}, nil

	case Update:
		if s.Email == "" {
			return "", nil, ErrNotCreated
		}

		if err := validateProfile(cmd.Name, cmd.Email); err != nil {
			return "", nil, err
		}

		if NaturalKey(cmd.Email) != s.Email {
			return "", nil, ErrEmailImmutable
		}

		return EventTypeUpdated, Updated{Name: cmd.Name, Email: s.Email}, nil

	case UpdatePassword:
		if s.Email == "" {
			return "", nil, ErrNotCreated
		}

		if cmd.PasswordHash == "" {
			return "", nil, ErrEmptyPasswordHash
		}

		return EventTypePasswordUpdated, PasswordUpdated(cmd), nil

	default:
		return "", nil, fmt.Errorf("%w: %T", ErrUnknownCommand, command)
	}
}

func (s *State) ApplyEvent(event eventstore.Event) error {
	switch event.EventType {
	case EventTypeCreated:
		var payload Created
		if err := event.Decode(&payload); err != nil {
			return err
		}

		*s = State(payload)

	case EventTypeUpdated:
		var payload Updated
		if err := event.Decode(&payload); err != nil {
			return err
		}

		s.Name, s.Email = payload.Name, payload.Email

	case EventTypePasswordUpdated:
		var payload PasswordUpdated
		if err := event.Decode(&payload); err != nil {
			return err
		}

		s.PasswordHash = payload.PasswordHash

	default:
		return fmt.Errorf("%w: %s", ErrUnknownEventType, event.EventType)
	}

	return nil
}

// Register creates the user for email, or returns the existing one if that email was registered before.
func Register(ctx context.Context, ec *eventstore.EventContext, name, email, passwordHash string) (*User, error) {
	key := NaturalKey(email)

	u, err := eventstore.NewComposed[State](ctx, ec, key)
	if err != nil {
		return nil, err
	}

	existing, err := eventstore.LoadComposed[State](ctx, ec, u.ID())
	if err == nil {
		return existing, nil
	}

	if !errors.Is(err, eventstore.ErrAggregateNotFound) {
		return nil, err
	}

	if err = eventstore.Request(u, Command(Create{Name: name, Email: key, PasswordHash: passwordHash})); err != nil {
		return nil, err
	}

	return u, nil
}

// Load hydrates the user with the given id.
func Load(ctx context.Context, ec *eventstore.EventContext, id int64) (*User, error) {
	return eventstore.LoadComposed[State](ctx, ec, id)
}

// FindByEmail resolves the id registered for email.
func FindByEmail(ctx context.Context, es *eventstore.EventStore, email string) (int64, bool, error) {
	return es.GetAggregateInstanceID(ctx, AggregateType, NaturalKey(email))
}

// NaturalKey normalizes an email for use as natural key.
func NaturalKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateProfile(name, email string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}

	if !strings.Contains(email, "@") {
		return ErrInvalidEmail
	}

	return nil
}
