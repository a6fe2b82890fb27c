package eventsrc

import (
	"fmt"
)

// Aggregate is an entity whose state is a fold of its own events.
type Aggregate interface {
	// ID returns the aggregate id the events are keyed by.
	ID() string
	// Version returns the version of the last applied event, 0 for a fresh aggregate.
	Version() int64
	// ApplyEvent applies one event. Events at or below the current version are
	// ignored; unknown event types and payload schemas fail without changing
	// the version.
	ApplyEvent(evt StoredEvent) error
}

// EventSourced is the aggregate contract the Repository works with.
type EventSourced interface {
	Aggregate
	GetUncommittedEvents() []StoredEvent
	ClearUncommittedEvents()
	SetVersion(version int64)
}

// ApplyFunc is a state transition for one event type.
type ApplyFunc func(evt StoredEvent) error

// AggregateRoot is a base implementation for event-sourced aggregates.
// It tracks the aggregate's ID, version and uncommitted events, and owns the
// table mapping event types (and payload schema versions) to transitions.
type AggregateRoot struct {
	id            string
	version       int64
	events        []StoredEvent
	handlers      map[string]map[int]ApplyFunc
	validateState func() error
}

// NewAggregateRoot is a constructor for AggregateRoot. Concrete aggregates
// register their transitions with On and OnSchema right after creating it.
func NewAggregateRoot(id string) *AggregateRoot {
	return &AggregateRoot{
		id:       id,
		handlers: map[string]map[int]ApplyFunc{},
	}
}

func (a *AggregateRoot) ID() string                          { return a.id }
func (a *AggregateRoot) Version() int64                      { return a.version }
func (a *AggregateRoot) GetUncommittedEvents() []StoredEvent { return a.events }
func (a *AggregateRoot) ClearUncommittedEvents()             { a.events = nil }

// SetVersion is used when restoring from a snapshot.
func (a *AggregateRoot) SetVersion(version int64) { a.version = version }

// On registers the transition for eventType payloads with the default schema version.
func (a *AggregateRoot) On(eventType string, fn ApplyFunc) {
	a.OnSchema(eventType, DefaultSchemaVersion, fn)
}

// OnSchema registers the transition for one payload schema version of eventType.
func (a *AggregateRoot) OnSchema(eventType string, schemaVersion int, fn ApplyFunc) {
	bySchema, ok := a.handlers[eventType]
	if !ok {
		bySchema = map[int]ApplyFunc{}
		a.handlers[eventType] = bySchema
	}
	bySchema[schemaVersion] = fn
}

// Validate sets a state check run after every TrackChange.
func (a *AggregateRoot) Validate(fn func() error) { a.validateState = fn }

// ApplyEvent implements Aggregate.
func (a *AggregateRoot) ApplyEvent(evt StoredEvent) error {
	if evt.Version <= a.version {
		return nil
	}
	if a.id == "" {
		a.id = evt.AggregateID
	}
	if evt.AggregateID != a.id {
		return fmt.Errorf("%w: event for aggregate %s applied to %s", ErrInvalidEvent, evt.AggregateID, a.id)
	}
	if evt.Version != a.version+1 {
		return fmt.Errorf("%w: aggregate %s at version %d got version %d", ErrVersionGap, a.id, a.version, evt.Version)
	}

	bySchema, ok := a.handlers[evt.EventType]
	if !ok {
		return &UnknownEventTypeError{AggregateID: a.id, EventType: evt.EventType}
	}
	schemaVersion, err := evt.Payload.SchemaVersion()
	if err != nil {
		return err
	}
	fn, ok := bySchema[schemaVersion]
	if !ok {
		return &UnknownPayloadSchemaError{EventType: evt.EventType, SchemaVersion: schemaVersion}
	}
	if err := fn(evt); err != nil {
		return fmt.Errorf("apply %s (version %d): %w", evt.EventType, evt.Version, err)
	}

	a.version = evt.Version
	return nil
}

// TrackChange records a new event at the next version by applying it,
// validating the new state, and adding it to the list of uncommitted events.
// After an error the aggregate must be discarded.
func (a *AggregateRoot) TrackChange(eventType string, payload Payload) error {
	evt := NewEvent(a.id, eventType, a.version+1, payload)
	if err := a.ApplyEvent(evt); err != nil {
		return err
	}
	if a.validateState != nil {
		if err := a.validateState(); err != nil {
			return fmt.Errorf("state validation failed after applying event %s: %w", eventType, err)
		}
	}
	a.events = append(a.events, evt)
	return nil
}

// LoadFromHistory rehydrates the aggregate's state by applying a series of past events.
func (a *AggregateRoot) LoadFromHistory(history []StoredEvent) error {
	return Replay(a, history)
}

// Replay folds events into agg in the given order and stops at the first failure.
func Replay(agg Aggregate, events []StoredEvent) error {
	for _, evt := range events {
		if err := agg.ApplyEvent(evt); err != nil {
			return fmt.Errorf("replay aggregate %s: %w", agg.ID(), err)
		}
	}
	return nil
}
