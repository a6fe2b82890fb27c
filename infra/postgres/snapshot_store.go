package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/0m3kk/eventlog/eventsrc"
)

// SnapshotStore implements eventsrc.SnapshotStore on the snapshots table.
// Older snapshots are kept; Load returns the newest.
type SnapshotStore struct {
	db *DB
}

func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) Save(ctx context.Context, snap eventsrc.Snapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	query := `
        INSERT INTO snapshots (aggregate_id, version, state, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (aggregate_id, version) DO NOTHING
    `
	_, err := s.db.conn(ctx).Exec(ctx, query, snap.AggregateID, snap.Version, []byte(snap.State), snap.CreatedAt)
	if err != nil {
		return mapError("save snapshot", err)
	}
	return nil
}

func (s *SnapshotStore) Load(ctx context.Context, aggregateID string) (*eventsrc.Snapshot, error) {
	query := `
        SELECT aggregate_id, version, state, created_at
        FROM snapshots
        WHERE aggregate_id = $1
        ORDER BY version DESC
        LIMIT 1
    `
	var (
		snap  eventsrc.Snapshot
		state []byte
	)
	err := s.db.conn(ctx).QueryRow(ctx, query, aggregateID).Scan(&snap.AggregateID, &snap.Version, &state, &snap.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // No snapshot found, not an error
		}
		return nil, mapError("load snapshot", err)
	}
	snap.State = state
	snap.CreatedAt = snap.CreatedAt.UTC()
	return &snap, nil
}

// Prune keeps only the newest snapshot of an aggregate.
func (s *SnapshotStore) Prune(ctx context.Context, aggregateID string) error {
	query := `
        DELETE FROM snapshots
        WHERE aggregate_id = $1
          AND version < (SELECT MAX(version) FROM snapshots WHERE aggregate_id = $1)
    `
	if _, err := s.db.conn(ctx).Exec(ctx, query, aggregateID); err != nil {
		return mapError("prune snapshots", err)
	}
	return nil
}

var _ eventsrc.SnapshotStore = (*SnapshotStore)(nil)
