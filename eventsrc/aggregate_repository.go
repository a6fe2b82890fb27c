package eventsrc

import (
	"context"
	"fmt"
	"log/slog"
)

// Repository handles the loading and saving of event-sourced aggregates.
type Repository[T EventSourced] struct {
	eventStore        Store
	snapshots         SnapshotStore
	policy            SnapshotPolicy
	newEmptyAggregate func(id string) T
	log               *slog.Logger
}

// RepositoryOption configures a Repository.
type RepositoryOption[T EventSourced] func(*Repository[T])

// WithSnapshots enables snapshot loading and, when policy is non-nil, snapshot saving.
func WithSnapshots[T EventSourced](store SnapshotStore, policy SnapshotPolicy) RepositoryOption[T] {
	return func(r *Repository[T]) {
		r.snapshots = store
		r.policy = policy
	}
}

// WithLogger sets the repository logger.
func WithLogger[T EventSourced](log *slog.Logger) RepositoryOption[T] {
	return func(r *Repository[T]) { r.log = log }
}

// NewRepository creates a new generic repository for a specific aggregate type.
// newEmptyAggregate returns a fresh aggregate with its transitions registered.
func NewRepository[T EventSourced](
	store Store,
	newEmptyAggregate func(id string) T,
	opts ...RepositoryOption[T],
) *Repository[T] {
	r := &Repository[T]{
		eventStore:        store,
		newEmptyAggregate: newEmptyAggregate,
		log:               slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the underlying event store.
func (r *Repository[T]) Store() Store { return r.eventStore }

// Load retrieves an aggregate by its ID. An aggregate that was never written
// comes back empty at version 0, ready for its first event.
func (r *Repository[T]) Load(ctx context.Context, id string) (T, error) {
	aggregate := r.newEmptyAggregate(id)

	// 1. If a snapshot exists, restore it first. A missing or unreadable snapshot
	// only costs a full replay.
	if r.snapshots != nil {
		snap, err := r.snapshots.Load(ctx, id)
		switch {
		case err != nil:
			r.log.WarnContext(ctx, "Failed to load snapshot, replaying full history", "aggregateID", id, "error", err)
		case snap != nil:
			if err := RestoreSnapshot(aggregate, snap); err != nil {
				r.log.WarnContext(ctx, "Failed to restore snapshot, replaying full history", "aggregateID", id, "error", err)
				aggregate = r.newEmptyAggregate(id)
			}
		}
	}

	// 2. Apply the remaining events. This brings the aggregate to its most recent state.
	history, err := r.eventStore.GetEventsSince(ctx, id, aggregate.Version())
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to load aggregate %s from store: %w", id, err)
	}
	if err := Replay(aggregate, history); err != nil {
		var zero T
		return zero, err
	}

	return aggregate, nil
}

// Save persists the uncommitted events of an aggregate and takes a snapshot
// when the policy asks for one. Snapshot failures are logged, never returned.
func (r *Repository[T]) Save(ctx context.Context, aggregate T) error {
	events := aggregate.GetUncommittedEvents()
	if len(events) == 0 {
		return nil // Nothing to save
	}

	if err := AppendAll(ctx, r.eventStore, events); err != nil {
		return fmt.Errorf("failed to save aggregate %s: %w", aggregate.ID(), err)
	}
	aggregate.ClearUncommittedEvents()

	from := events[0].Version - 1
	if r.snapshots != nil && r.policy != nil && r.policy.ShouldSnapshot(from, aggregate.Version()) {
		r.saveSnapshot(ctx, aggregate)
	}
	return nil
}

func (r *Repository[T]) saveSnapshot(ctx context.Context, aggregate T) {
	snap, err := TakeSnapshot(aggregate)
	if err == nil {
		err = r.snapshots.Save(ctx, snap)
	}
	if err != nil {
		r.log.ErrorContext(ctx, "Failed to save snapshot", "aggregateID", aggregate.ID(), "error", err)
		return
	}
	r.log.InfoContext(ctx, "Snapshot saved successfully", "aggregateID", aggregate.ID(), "version", aggregate.Version())
}
