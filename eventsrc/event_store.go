package eventsrc

import (
	"context"
	"fmt"
	"time"
)

// Store is an append-only log keyed by (aggregate id, version).
//
// Append persists the event if and only if its version directly follows the
// current head of the aggregate. When two callers race for the same version
// exactly one wins; the other receives a *VersionConflictError. Transient
// infrastructure failures wrap ErrStorageUnavailable so they are never mistaken
// for conflicts. Reads return events ascending by version and an empty slice
// for aggregates that were never written.
type Store interface {
	Append(ctx context.Context, evt StoredEvent) error
	GetEvents(ctx context.Context, aggregateID string) ([]StoredEvent, error)
	// GetEventsSince returns events with a version strictly greater than version.
	GetEventsSince(ctx context.Context, aggregateID string, version int64) ([]StoredEvent, error)
	// GetEventsByType returns matching events across all aggregates, ascending by
	// version within each aggregate.
	GetEventsByType(ctx context.Context, eventType string) ([]StoredEvent, error)
	// GetEventsInRange returns events whose timestamp lies in [start, end].
	GetEventsInRange(ctx context.Context, aggregateID string, start, end time.Time) ([]StoredEvent, error)
}

// BatchAppender is implemented by stores that can append several consecutive
// events of one aggregate all-or-nothing.
type BatchAppender interface {
	AppendBatch(ctx context.Context, events []StoredEvent) error
}

// ValidateBatch checks that events target one aggregate with consecutive versions.
func ValidateBatch(events []StoredEvent) error {
	for i, evt := range events {
		if err := evt.Validate(); err != nil {
			return err
		}
		if i == 0 {
			continue
		}
		if evt.AggregateID != events[0].AggregateID {
			return fmt.Errorf("%w: batch mixes aggregates %s and %s", ErrInvalidEvent, events[0].AggregateID, evt.AggregateID)
		}
		if evt.Version != events[i-1].Version+1 {
			return fmt.Errorf("%w: batch version %d follows %d", ErrVersionGap, evt.Version, events[i-1].Version)
		}
	}
	return nil
}

// AppendAll appends events atomically when the store supports it and one at a
// time otherwise, returning the first failure.
func AppendAll(ctx context.Context, store Store, events []StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	if ba, ok := store.(BatchAppender); ok {
		return ba.AppendBatch(ctx, events)
	}
	for _, evt := range events {
		if err := store.Append(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}
