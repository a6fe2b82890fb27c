package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// IdempotencyStore implements cqrs.IdempotencyStore for PostgreSQL.
type IdempotencyStore struct {
	db *DB
}

func NewIdempotencyStore(db *DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// IsProcessed checks if an event has already been processed by a subscriber.
func (s *IdempotencyStore) IsProcessed(ctx context.Context, eventID uuid.UUID, subscriberID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1 AND subscriber_id = $2)`
	err := s.db.conn(ctx).QueryRow(ctx, query, eventID, subscriberID).Scan(&exists)
	if err != nil {
		return false, mapError("check processed event", err)
	}
	return exists, nil
}

// MarkAsProcessed marks an event as processed. It expects to be called within a
// transaction so the mark commits together with the projection update.
func (s *IdempotencyStore) MarkAsProcessed(ctx context.Context, eventID uuid.UUID, subscriberID string) error {
	tx, ok := txFrom(ctx)
	if !ok {
		return fmt.Errorf("MarkAsProcessed must be called within a transaction")
	}

	// A concurrent consumer may have marked the same event; that is not an error.
	query := `
        INSERT INTO processed_events (event_id, subscriber_id) VALUES ($1, $2)
        ON CONFLICT (event_id, subscriber_id) DO NOTHING
    `
	if _, err := tx.Exec(ctx, query, eventID, subscriberID); err != nil {
		return mapError("mark event as processed", err)
	}
	return nil
}

// Forget drops every mark of a subscriber, used before rebuilding its projection.
func (s *IdempotencyStore) Forget(ctx context.Context, subscriberID string) error {
	if _, err := s.db.conn(ctx).Exec(ctx, `DELETE FROM processed_events WHERE subscriber_id = $1`, subscriberID); err != nil {
		return mapError("forget processed events", err)
	}
	return nil
}
