package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/0m3kk/eventlog/eventsrc"
)

// OutboxStore implements the outbox.Store interface for PostgreSQL.
type OutboxStore struct {
	db *DB
}

func NewOutboxStore(db *DB) *OutboxStore {
	return &OutboxStore{db: db}
}

// ProcessOutboxBatch handles the entire lifecycle of fetching, processing,
// and marking outbox events as published within a single transaction.
func (s *OutboxStore) ProcessOutboxBatch(
	ctx context.Context,
	batchSize int,
	processFunc func(ctx context.Context, events []eventsrc.StoredEvent) error,
) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return mapError("begin outbox transaction", err)
	}
	defer tx.Rollback(ctx)

	// 1. Fetch and lock a batch of events within the transaction.
	events, err := fetchAndLockUnpublishedInTx(ctx, tx, batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch and lock events: %w", err)
	}

	if len(events) == 0 {
		return nil // Nothing to do
	}

	// 2. Execute the provided processing logic (e.g., publishing to a broker).
	// If this function returns an error, the transaction will be rolled back.
	if err := processFunc(ctx, events); err != nil {
		return fmt.Errorf("event processing function failed: %w", err)
	}

	// 3. If processing was successful, mark the events as published.
	if err := markAsPublishedInTx(ctx, tx, events); err != nil {
		return fmt.Errorf("failed to mark events as published: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError("commit outbox transaction", err)
	}
	return nil
}

// fetchAndLockUnpublishedInTx performs the SELECT ... FOR UPDATE SKIP LOCKED, so
// concurrent relays never pick the same rows.
func fetchAndLockUnpublishedInTx(ctx context.Context, tx pgx.Tx, batchSize int) ([]eventsrc.StoredEvent, error) {
	query := `
        SELECT id, aggregate_id, event_type, payload, "timestamp", version
        FROM outbox
        WHERE published = FALSE
        ORDER BY "timestamp", aggregate_id, version
        LIMIT $1
        FOR UPDATE SKIP LOCKED
    `
	rows, err := tx.Query(ctx, query, batchSize)
	if err != nil {
		return nil, mapError("query outbox", err)
	}
	return pgx.CollectRows(rows, scanEvent)
}

func markAsPublishedInTx(ctx context.Context, tx pgx.Tx, events []eventsrc.StoredEvent) error {
	eventIDs := make([]uuid.UUID, len(events))
	for i, e := range events {
		eventIDs[i] = e.ID
	}

	query := `UPDATE outbox SET published = TRUE WHERE id = ANY($1)`
	cmdTag, err := tx.Exec(ctx, query, eventIDs)
	if err != nil {
		return mapError("mark outbox events as published", err)
	}

	if cmdTag.RowsAffected() != int64(len(eventIDs)) {
		return fmt.Errorf(
			"consistency error: expected to mark %d events, but marked %d",
			len(eventIDs),
			cmdTag.RowsAffected(),
		)
	}

	return nil
}

// SaveEvents saves events to the outbox table. It expects to be run within a transaction.
func (s *OutboxStore) SaveEvents(ctx context.Context, events []eventsrc.StoredEvent) error {
	tx, ok := txFrom(ctx)
	if !ok {
		return fmt.Errorf("SaveEvents must be called within a transaction")
	}

	b := &pgx.Batch{}
	stmt := `
        INSERT INTO outbox (id, aggregate_id, event_type, payload, "timestamp", version)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	for _, evt := range events {
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload for event %s: %w", evt.ID, err)
		}
		b.Queue(stmt, evt.ID, evt.AggregateID, evt.EventType, payload, evt.Timestamp, evt.Version)
	}

	br := tx.SendBatch(ctx, b)
	defer br.Close()

	for i := range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert event #%d into outbox batch: %w", i+1, err)
		}
	}

	return br.Close()
}

// Pending counts events not yet published.
func (s *OutboxStore) Pending(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published = FALSE`).Scan(&n); err != nil {
		return 0, mapError("count pending outbox events", err)
	}
	return n, nil
}
