package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/0m3kk/eventlog/eventsrc"
)

const (
	headSQL = `
SELECT COALESCE(MAX(version), 0) AS version, COALESCE(MAX("timestamp"), 0) AS ts
FROM events WHERE aggregate_id = ?`

	insertSQL = `
INSERT INTO events (id, aggregate_id, event_type, payload, "timestamp", version)
VALUES (?, ?, ?, ?, ?, ?)`

	selectSQL = `SELECT id, aggregate_id, event_type, payload, "timestamp", version FROM events `
)

type eventRow struct {
	ID          string `db:"id"`
	AggregateID string `db:"aggregate_id"`
	EventType   string `db:"event_type"`
	Payload     []byte `db:"payload"`
	Timestamp   int64  `db:"timestamp"`
	Version     int64  `db:"version"`
}

func (r eventRow) toEvent() (eventsrc.StoredEvent, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return eventsrc.StoredEvent{}, fmt.Errorf("event id %q: %w", r.ID, err)
	}
	payload, err := eventsrc.DecodePayload(r.Payload)
	if err != nil {
		return eventsrc.StoredEvent{}, fmt.Errorf("event %s: %w", r.ID, err)
	}
	return eventsrc.StoredEvent{
		ID:          id,
		AggregateID: r.AggregateID,
		EventType:   r.EventType,
		Payload:     payload,
		Timestamp:   time.Unix(0, r.Timestamp).UTC(),
		Version:     r.Version,
	}, nil
}

// EventStore implements eventsrc.Store on a SQLite database file.
// Timestamps are stored as Unix nanoseconds.
type EventStore struct {
	db  *sqlx.DB
	now func() time.Time
	log *slog.Logger
}

// NewEventStore wraps a database opened with Open.
func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{
		db:  db,
		now: time.Now,
		log: slog.Default().With("store", "sqlite"),
	}
}

// Append implements eventsrc.Store.
func (s *EventStore) Append(ctx context.Context, evt eventsrc.StoredEvent) error {
	return s.AppendBatch(ctx, []eventsrc.StoredEvent{evt})
}

// AppendBatch implements eventsrc.BatchAppender.
func (s *EventStore) AppendBatch(ctx context.Context, events []eventsrc.StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := eventsrc.ValidateBatch(events); err != nil {
		return err
	}
	first := events[0]

	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var head struct {
			Version int64 `db:"version"`
			TS      int64 `db:"ts"`
		}
		if err := tx.GetContext(ctx, &head, headSQL, first.AggregateID); err != nil {
			return mapError("read head version", err)
		}
		if first.Version != head.Version+1 {
			return &eventsrc.VersionConflictError{AggregateID: first.AggregateID, Attempted: first.Version, Current: head.Version}
		}

		ts := max(s.now().UnixNano(), head.TS)
		for _, evt := range events {
			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				return fmt.Errorf("%w: failed to marshal event payload: %w", eventsrc.ErrInvalidPayload, err)
			}
			_, err = tx.ExecContext(ctx, insertSQL, evt.ID.String(), evt.AggregateID, evt.EventType, string(payload), ts, evt.Version)
			switch {
			case err == nil:
			case isEventIDViolation(err):
				return fmt.Errorf("%w: event id %s already stored: %w", eventsrc.ErrInvalidEvent, evt.ID, err)
			case isUniqueViolation(err):
				return &eventsrc.VersionConflictError{AggregateID: evt.AggregateID, Attempted: evt.Version, Current: head.Version}
			default:
				return mapError("insert event", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.DebugContext(ctx, "Events appended",
		"aggregateID", first.AggregateID, "count", len(events), "version", events[len(events)-1].Version)
	return nil
}

func (s *EventStore) GetEvents(ctx context.Context, aggregateID string) ([]eventsrc.StoredEvent, error) {
	return s.query(ctx, "load events", selectSQL+`WHERE aggregate_id = ? ORDER BY version ASC`, aggregateID)
}

func (s *EventStore) GetEventsSince(ctx context.Context, aggregateID string, version int64) ([]eventsrc.StoredEvent, error) {
	return s.query(ctx, "load events since version",
		selectSQL+`WHERE aggregate_id = ? AND version > ? ORDER BY version ASC`, aggregateID, version)
}

// GetEventsByType orders results by timestamp, then aggregate id, then version.
func (s *EventStore) GetEventsByType(ctx context.Context, eventType string) ([]eventsrc.StoredEvent, error) {
	return s.query(ctx, "load events by type",
		selectSQL+`WHERE event_type = ? ORDER BY "timestamp" ASC, aggregate_id ASC, version ASC`, eventType)
}

func (s *EventStore) GetEventsInRange(
	ctx context.Context,
	aggregateID string,
	start, end time.Time,
) ([]eventsrc.StoredEvent, error) {
	return s.query(ctx, "load events in range",
		selectSQL+`WHERE aggregate_id = ? AND "timestamp" BETWEEN ? AND ? ORDER BY version ASC`,
		aggregateID, unixNanos(start), unixNanos(end))
}

var (
	minNanosTime = time.Unix(0, math.MinInt64)
	maxNanosTime = time.Unix(0, math.MaxInt64)
)

// unixNanos clamps t to the range an int64 nanosecond count can hold.
func unixNanos(t time.Time) int64 {
	switch {
	case t.Before(minNanosTime):
		return math.MinInt64
	case t.After(maxNanosTime):
		return math.MaxInt64
	}
	return t.UnixNano()
}

func (s *EventStore) query(ctx context.Context, op, query string, args ...any) ([]eventsrc.StoredEvent, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(op, err)
	}
	events := make([]eventsrc.StoredEvent, 0, len(rows))
	for _, r := range rows {
		evt, err := r.toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}

var (
	_ eventsrc.Store         = (*EventStore)(nil)
	_ eventsrc.BatchAppender = (*EventStore)(nil)
)
