package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/0m3kk/eventlog/infra/postgres"
	"github.com/0m3kk/eventlog/sample/query/view"
)

// UserViews is the read model the user projection writes and the queries read.
// It satisfies cqrs.VersionedStore.
type UserViews interface {
	GetVersion(ctx context.Context, aggregateID string) (int64, error)
	GetUserView(ctx context.Context, id string) (*view.UserView, error)
	ListUserViews(ctx context.Context) ([]view.UserView, error)
	SaveUserView(ctx context.Context, v view.UserView) error
}

// UserViewSchema defines the SQL statement for creating the user_views table.
const UserViewSchema = `
CREATE TABLE IF NOT EXISTS user_views (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL,
    email_verified BOOLEAN NOT NULL DEFAULT FALSE,
    active BOOLEAN NOT NULL,
    version BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);`

// UserViewRepository is a Postgres implementation of UserViews. Writes join
// the projection transaction.
type UserViewRepository struct {
	db *postgres.DB
}

func NewUserViewRepository(db *postgres.DB) *UserViewRepository {
	return &UserViewRepository{db: db}
}

// CreateTable ensures the user_views table exists in the database.
func (r *UserViewRepository) CreateTable(ctx context.Context) error {
	if _, err := r.db.Pool.Exec(ctx, UserViewSchema); err != nil {
		return fmt.Errorf("failed to create user_views: %w", err)
	}
	return nil
}

// GetVersion retrieves the current version of the user view, 0 if it does not exist yet.
func (r *UserViewRepository) GetVersion(ctx context.Context, aggregateID string) (int64, error) {
	var version int64
	err := r.db.Pool.QueryRow(ctx, `SELECT version FROM user_views WHERE id = $1`, aggregateID).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get user view version: %w", err)
	}
	return version, nil
}

// SaveUserView saves or updates the user read model.
func (r *UserViewRepository) SaveUserView(ctx context.Context, v view.UserView) error {
	tx, ok := postgres.TxFromContext(ctx)
	if !ok {
		return fmt.Errorf("SaveUserView must be called within a transaction")
	}

	query := `
        INSERT INTO user_views (id, name, email, email_verified, active, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            email = EXCLUDED.email,
            email_verified = EXCLUDED.email_verified,
            active = EXCLUDED.active,
            version = EXCLUDED.version,
            updated_at = EXCLUDED.updated_at
    `
	_, err := tx.Exec(ctx, query, v.ID, v.Name, v.Email, v.EmailVerified, v.Active, v.Version, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save user view: %w", err)
	}
	return nil
}

const selectUserViews = `
    SELECT id, name, email, email_verified, active, version, created_at, updated_at
    FROM user_views
`

func scanUserView(row pgx.CollectableRow) (view.UserView, error) {
	var v view.UserView
	err := row.Scan(&v.ID, &v.Name, &v.Email, &v.EmailVerified, &v.Active, &v.Version, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

// GetUserView returns nil if the view doesn't exist yet.
func (r *UserViewRepository) GetUserView(ctx context.Context, id string) (*view.UserView, error) {
	rows, err := r.db.Pool.Query(ctx, selectUserViews+` WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user view by ID: %w", err)
	}
	v, err := pgx.CollectExactlyOneRow(rows, scanUserView)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user view by ID: %w", err)
	}
	return &v, nil
}

func (r *UserViewRepository) ListUserViews(ctx context.Context) ([]view.UserView, error) {
	rows, err := r.db.Pool.Query(ctx, selectUserViews+` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list user views: %w", err)
	}
	views, err := pgx.CollectRows(rows, scanUserView)
	if err != nil {
		return nil, fmt.Errorf("failed to list user views: %w", err)
	}
	return views, nil
}

var _ UserViews = (*UserViewRepository)(nil)
