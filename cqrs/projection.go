package cqrs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/0m3kk/eventlog/eventsrc"
)

// ErrOutOfOrderEvent is returned when an event is received with a version that is not the expected next version.
var ErrOutOfOrderEvent = errors.New("out of order event")

// IdempotencyStore defines the interface for checking and storing processed event IDs.
type IdempotencyStore interface {
	IsProcessed(ctx context.Context, eventID uuid.UUID, subscriberID string) (bool, error)
	MarkAsProcessed(ctx context.Context, eventID uuid.UUID, subscriberID string) error
}

// VersionedStore defines an interface for read models that support versioning.
type VersionedStore interface {
	// GetVersion retrieves the version of an aggregate's view model,
	// 0 if the view model does not exist yet.
	GetVersion(ctx context.Context, aggregateID string) (int64, error)
}

// TransactionalHandler defines a function that executes business logic within a transaction.
type TransactionalHandler func(ctx context.Context) error

// Transactor defines an interface for an object that can execute a function within a transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn TransactionalHandler) error
}

// EventSource is the part of eventsrc.Store a projection reads missed events from.
type EventSource interface {
	GetEventsSince(ctx context.Context, aggregateID string, version int64) ([]eventsrc.StoredEvent, error)
}

// ProjectionHandler main logic for projection view.
type ProjectionHandler func(ctx context.Context, evt eventsrc.StoredEvent) error

// Projection is a decorator that wraps a read model handler with idempotency
// checks, per-aggregate ordering and retry logic.
type Projection struct {
	subscriberID   string
	idempStore     IdempotencyStore
	versionStore   VersionedStore // Store for checking view model version
	transactor     Transactor
	handler        ProjectionHandler
	source         EventSource
	maxElapsedTime time.Duration
	log            *slog.Logger
}

// ProjectionOption is a function that configures a Projection.
type ProjectionOption func(*Projection)

// WithMaxElapsedTime is an option to provide a custom backoff max elapsed time.
func WithMaxElapsedTime(maxElapsedTime time.Duration) ProjectionOption {
	return func(h *Projection) {
		h.maxElapsedTime = maxElapsedTime
	}
}

// WithProjectionLogger sets the projection logger.
func WithProjectionLogger(log *slog.Logger) ProjectionOption {
	return func(h *Projection) {
		h.log = log
	}
}

// WithCatchUp lets the projection fill a version gap from source instead of
// refusing the event. Needed with brokers that never redeliver.
func WithCatchUp(source EventSource) ProjectionOption {
	return func(h *Projection) {
		h.source = source
	}
}

// NewProjection creates a new idempotent event handler.
func NewProjection(
	subscriberID string,
	idempStore IdempotencyStore,
	versionStore VersionedStore,
	transactor Transactor,
	handler ProjectionHandler,
	opts ...ProjectionOption,
) *Projection {
	h := &Projection{
		subscriberID:   subscriberID,
		idempStore:     idempStore,
		versionStore:   versionStore,
		transactor:     transactor,
		handler:        handler,
		maxElapsedTime: 1 * time.Minute,
		log:            slog.Default(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// SubscriberID names the consumer in the idempotency store.
func (h *Projection) SubscriberID() string { return h.subscriberID }

// Handle processes an event with idempotency and retry logic.
func (h *Projection) Handle(ctx context.Context, evt eventsrc.StoredEvent) error {
	// 1. Idempotency Check
	isProcessed, err := h.idempStore.IsProcessed(ctx, evt.ID, h.subscriberID)
	if err != nil {
		return fmt.Errorf("failed to check for event idempotency: %w", err)
	}
	if isProcessed {
		h.log.WarnContext(ctx, "Event already processed, skipping", "eventID", evt.ID, "subscriber", h.subscriberID)
		return nil
	}

	operation := func() (struct{}, error) {
		// 2. Ordering check by version, inside the retry loop.
		currentVersion, err := h.versionStore.GetVersion(ctx, evt.AggregateID)
		if err != nil {
			return struct{}{}, fmt.Errorf("failed to get current view version: %w", err)
		}
		if evt.Version <= currentVersion {
			h.log.WarnContext(ctx, "Received old or duplicate event version, skipping",
				"eventID", evt.ID, "eventVersion", evt.Version, "currentVersion", currentVersion)
			// Still mark it processed so it is not re-evaluated if it arrives again.
			return struct{}{}, backoff.Permanent(h.transactor.WithTransaction(ctx, func(txCtx context.Context) error {
				return h.idempStore.MarkAsProcessed(txCtx, evt.ID, h.subscriberID)
			}))
		}

		if evt.Version != currentVersion+1 {
			if h.source == nil {
				h.log.WarnContext(ctx, "Received out-of-order event, will be retried by the broker",
					"eventID", evt.ID, "eventVersion", evt.Version, "expectedVersion", currentVersion+1)
				// The broker decides how to redeliver (e.g. NAK with delay).
				return struct{}{}, backoff.Permanent(fmt.Errorf("%w: aggregate %s expected version %d, got %d",
					ErrOutOfOrderEvent, evt.AggregateID, currentVersion+1, evt.Version))
			}
			if err := h.catchUp(ctx, evt, currentVersion); err != nil {
				return struct{}{}, err
			}
		}

		// 3. Business logic and the idempotency mark commit together.
		return struct{}{}, h.apply(ctx, evt)
	}

	bo := backoff.NewExponentialBackOff()

	_, err = backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(h.maxElapsedTime))
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to process event after multiple retries",
			"error", err, "eventID", evt.ID, "subscriber", h.subscriberID)
		// Return error to have the message NAK'd and possibly redelivered or sent to a dead-letter queue.
		return err
	}

	h.log.InfoContext(ctx, "Event processed successfully by idempotent handler",
		"eventID", evt.ID, "eventType", evt.EventType, "subscriber", h.subscriberID)
	return nil
}

// catchUp applies the events between the view version and evt, in order.
func (h *Projection) catchUp(ctx context.Context, evt eventsrc.StoredEvent, currentVersion int64) error {
	missed, err := h.source.GetEventsSince(ctx, evt.AggregateID, currentVersion)
	if err != nil {
		return fmt.Errorf("failed to load missed events: %w", err)
	}
	next := currentVersion + 1
	for _, m := range missed {
		if m.Version >= evt.Version || m.Version != next {
			break
		}
		if err := h.apply(ctx, m); err != nil {
			return err
		}
		next++
	}
	if next != evt.Version {
		return backoff.Permanent(fmt.Errorf("%w: aggregate %s caught up to version %d, got %d",
			ErrOutOfOrderEvent, evt.AggregateID, next-1, evt.Version))
	}
	h.log.InfoContext(ctx, "Caught up missed events",
		"aggregateID", evt.AggregateID, "from", currentVersion+1, "to", next-1, "subscriber", h.subscriberID)
	return nil
}

// apply runs the handler and the idempotency mark in one transaction.
func (h *Projection) apply(ctx context.Context, evt eventsrc.StoredEvent) error {
	txErr := h.transactor.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := h.handler(txCtx, evt); err != nil {
			return fmt.Errorf("handler business logic failed: %w", err)
		}
		if err := h.idempStore.MarkAsProcessed(txCtx, evt.ID, h.subscriberID); err != nil {
			return fmt.Errorf("failed to mark event as processed: %w", err)
		}
		return nil
	})

	// Don't retry on certain application-level errors
	if txErr != nil && (errors.Is(txErr, context.Canceled) || isPermanentProjectionError(txErr)) {
		return backoff.Permanent(txErr)
	}
	return txErr
}

// isPermanentProjectionError reports handler failures that no retry can fix.
func isPermanentProjectionError(err error) bool {
	return eventsrc.Classify(err) == eventsrc.CategoryFixInput
}
