package cqrs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/0m3kk/eventlog/eventsrc"
)

// Rebuild feeds every stored event of the given types to handler, in the
// store's by-type order, and returns how many were applied. The read model
// behind handler is expected to be empty; the log stays the source of truth.
func Rebuild(ctx context.Context, store eventsrc.Store, handler ProjectionHandler, eventTypes ...string) (int, error) {
	var events []eventsrc.StoredEvent
	for _, eventType := range eventTypes {
		batch, err := store.GetEventsByType(ctx, eventType)
		if err != nil {
			return 0, fmt.Errorf("failed to read %s events: %w", eventType, err)
		}
		events = append(events, batch...)
	}
	if len(eventTypes) > 1 {
		eventsrc.SortEvents(events)
	}

	for i, evt := range events {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := handler(ctx, evt); err != nil {
			return i, fmt.Errorf("rebuild stopped at event %s (%s v%d): %w", evt.ID, evt.AggregateID, evt.Version, err)
		}
	}

	slog.InfoContext(ctx, "Projection rebuilt", "events", len(events), "types", eventTypes)
	return len(events), nil
}
