package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/0m3kk/eventlog/eventsrc"
)

const selectEvents = `
        SELECT id, aggregate_id, event_type, payload, "timestamp", version
        FROM events
    `

// insertEvent only inserts when the version directly follows the current head.
// The timestamp never goes below the aggregate's latest one.
const insertEvent = `
        INSERT INTO events (id, aggregate_id, event_type, payload, "timestamp", version)
        SELECT $1::uuid, $2::text, $3::text, $4::jsonb, GREATEST(now(), COALESCE(MAX(e."timestamp"), now())), $5::bigint
        FROM events e
        WHERE e.aggregate_id = $2::text
        HAVING COALESCE(MAX(e.version), 0) = $5::bigint - 1
        RETURNING "timestamp"
    `

// EventStore implements eventsrc.Store for PostgreSQL.
type EventStore struct {
	db     *DB
	outbox *OutboxStore
	log    *slog.Logger
}

// NewEventStore creates a new PostgreSQL event store. When outbox is not nil every
// appended event is also written to the outbox in the same transaction.
func NewEventStore(db *DB, outbox *OutboxStore) *EventStore {
	return &EventStore{
		db:     db,
		outbox: outbox,
		log:    slog.Default().With("store", "postgres"),
	}
}

// Append implements eventsrc.Store.
func (s *EventStore) Append(ctx context.Context, evt eventsrc.StoredEvent) error {
	return s.AppendBatch(ctx, []eventsrc.StoredEvent{evt})
}

// AppendBatch persists events in one transaction. If a transaction is already on
// ctx (see DB.WithTransaction) the events join it and are committed with it.
func (s *EventStore) AppendBatch(ctx context.Context, events []eventsrc.StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := eventsrc.ValidateBatch(events); err != nil {
		return err
	}
	events = slices.Clone(events)

	err := s.db.WithTransaction(ctx, func(txCtx context.Context) error {
		tx, _ := txFrom(txCtx)
		if err := s.saveEventsInTx(txCtx, tx, events); err != nil {
			return err
		}
		if s.outbox != nil {
			return s.outbox.SaveEvents(txCtx, events)
		}
		return nil
	})
	if err != nil {
		return s.conflictOr(ctx, events[0], err)
	}

	s.log.DebugContext(ctx, "Events appended",
		"aggregateID", events[0].AggregateID, "count", len(events), "version", events[len(events)-1].Version)
	return nil
}

// saveEventsInTx fills in the store assigned timestamps on events.
func (s *EventStore) saveEventsInTx(ctx context.Context, tx pgx.Tx, events []eventsrc.StoredEvent) error {
	b := &pgx.Batch{}
	for _, evt := range events {
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("%w: failed to marshal event payload: %w", eventsrc.ErrInvalidPayload, err)
		}
		b.Queue(insertEvent, evt.ID, evt.AggregateID, evt.EventType, payload, evt.Version)
	}

	br := tx.SendBatch(ctx, b)
	defer br.Close()

	for i := range events {
		var ts time.Time
		if err := br.QueryRow().Scan(&ts); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &eventsrc.VersionConflictError{
					AggregateID: events[i].AggregateID,
					Attempted:   events[i].Version,
					Current:     -1,
				}
			}
			return err
		}
		events[i].Timestamp = ts.UTC()
	}
	return br.Close()
}

// conflictOr turns version conflicts into a *VersionConflictError carrying the
// current head, and maps everything else.
func (s *EventStore) conflictOr(ctx context.Context, first eventsrc.StoredEvent, err error) error {
	var conflict *eventsrc.VersionConflictError
	if !errors.As(err, &conflict) && !isVersionViolation(err) {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: event id %s already stored: %w", eventsrc.ErrInvalidEvent, first.ID, err)
		}
		return mapError("append events", err)
	}

	// The transaction is aborted at this point, so the head is read from the pool.
	current, headErr := s.head(context.WithoutCancel(ctx), first.AggregateID)
	if headErr != nil {
		s.log.WarnContext(ctx, "Failed to read head version after conflict",
			"aggregateID", first.AggregateID, "error", headErr)
		current = -1
	}
	return &eventsrc.VersionConflictError{AggregateID: first.AggregateID, Attempted: first.Version, Current: current}
}

func (s *EventStore) head(ctx context.Context, aggregateID string) (int64, error) {
	var version int64
	query := `SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1`
	if err := s.db.Pool.QueryRow(ctx, query, aggregateID).Scan(&version); err != nil {
		return 0, mapError("read head version", err)
	}
	return version, nil
}

func (s *EventStore) GetEvents(ctx context.Context, aggregateID string) ([]eventsrc.StoredEvent, error) {
	return s.query(ctx, "load events",
		selectEvents+`WHERE aggregate_id = $1 ORDER BY version ASC`, aggregateID)
}

func (s *EventStore) GetEventsSince(ctx context.Context, aggregateID string, version int64) ([]eventsrc.StoredEvent, error) {
	return s.query(ctx, "load events since version",
		selectEvents+`WHERE aggregate_id = $1 AND version > $2 ORDER BY version ASC`, aggregateID, version)
}

// GetEventsByType orders results by timestamp, then aggregate id, then version.
func (s *EventStore) GetEventsByType(ctx context.Context, eventType string) ([]eventsrc.StoredEvent, error) {
	return s.query(ctx, "load events by type",
		selectEvents+`WHERE event_type = $1 ORDER BY "timestamp" ASC, aggregate_id ASC, version ASC`, eventType)
}

func (s *EventStore) GetEventsInRange(
	ctx context.Context,
	aggregateID string,
	start, end time.Time,
) ([]eventsrc.StoredEvent, error) {
	return s.query(ctx, "load events in range",
		selectEvents+`WHERE aggregate_id = $1 AND "timestamp" BETWEEN $2 AND $3 ORDER BY version ASC`,
		aggregateID, start, end)
}

func (s *EventStore) query(ctx context.Context, op, sql string, args ...any) ([]eventsrc.StoredEvent, error) {
	rows, err := s.db.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	events, err := pgx.CollectRows(rows, scanEvent)
	if err != nil {
		return nil, mapError(op, err)
	}
	if events == nil {
		events = []eventsrc.StoredEvent{}
	}
	return events, nil
}

// scanEvent reads the column list shared by the events and outbox tables.
func scanEvent(row pgx.CollectableRow) (eventsrc.StoredEvent, error) {
	var (
		evt     eventsrc.StoredEvent
		payload []byte
	)
	if err := row.Scan(&evt.ID, &evt.AggregateID, &evt.EventType, &payload, &evt.Timestamp, &evt.Version); err != nil {
		return evt, fmt.Errorf("failed to scan event row: %w", err)
	}
	p, err := eventsrc.DecodePayload(payload)
	if err != nil {
		return evt, fmt.Errorf("event %s: %w", evt.ID, err)
	}
	evt.Payload = p
	evt.Timestamp = evt.Timestamp.UTC()
	return evt, nil
}

var (
	_ eventsrc.Store         = (*EventStore)(nil)
	_ eventsrc.BatchAppender = (*EventStore)(nil)
)
