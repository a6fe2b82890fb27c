package testutil

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VersionedRepository is a table-backed read model that satisfies cqrs.VersionedStore.
type VersionedRepository struct {
	pool *pgxpool.Pool
}

func NewVersionedRepository(pool *pgxpool.Pool) *VersionedRepository {
	return &VersionedRepository{pool: pool}
}

func (r *VersionedRepository) CreateTable(ctx context.Context) error {
	createTableSQL := `
CREATE TABLE IF NOT EXISTS versioned_views (
    id TEXT PRIMARY KEY,
    version BIGINT NOT NULL
);`
	_, err := r.pool.Exec(ctx, createTableSQL)
	return err
}

// GetVersion returns 0 when the view does not exist yet.
func (r *VersionedRepository) GetVersion(ctx context.Context, aggregateID string) (int64, error) {
	var version int64
	query := `SELECT version FROM versioned_views WHERE id = $1`
	err := r.pool.QueryRow(ctx, query, aggregateID).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get versioned view version: %w", err)
	}
	return version, nil
}

// SetVersion upserts the view version inside tx, or on the pool when tx is nil.
func (r *VersionedRepository) SetVersion(ctx context.Context, tx pgx.Tx, aggregateID string, version int64) error {
	query := `
INSERT INTO versioned_views (id, version) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version`
	var err error
	if tx != nil {
		_, err = tx.Exec(ctx, query, aggregateID, version)
	} else {
		_, err = r.pool.Exec(ctx, query, aggregateID, version)
	}
	return err
}
