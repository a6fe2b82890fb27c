package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/0m3kk/eventlog/eventsrc"
)

// SnapshotStore implements eventsrc.SnapshotStore next to the SQLite event log.
type SnapshotStore struct {
	db *sqlx.DB
}

func NewSnapshotStore(db *sqlx.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) Save(ctx context.Context, snap eventsrc.Snapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO snapshots (aggregate_id, version, state, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT (aggregate_id, version) DO NOTHING`,
		snap.AggregateID, snap.Version, string(snap.State), snap.CreatedAt.UnixNano())
	return mapError("save snapshot", err)
}

func (s *SnapshotStore) Load(ctx context.Context, aggregateID string) (*eventsrc.Snapshot, error) {
	var row struct {
		AggregateID string `db:"aggregate_id"`
		Version     int64  `db:"version"`
		State       []byte `db:"state"`
		CreatedAt   int64  `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row, `
SELECT aggregate_id, version, state, created_at FROM snapshots
WHERE aggregate_id = ? ORDER BY version DESC LIMIT 1`, aggregateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError("load snapshot", err)
	}
	return &eventsrc.Snapshot{
		AggregateID: row.AggregateID,
		Version:     row.Version,
		State:       row.State,
		CreatedAt:   time.Unix(0, row.CreatedAt).UTC(),
	}, nil
}

var _ eventsrc.SnapshotStore = (*SnapshotStore)(nil)
