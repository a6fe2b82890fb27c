package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/0m3kk/eventlog/eventsrc"
	"github.com/0m3kk/eventlog/infra/sqlite"
	"github.com/0m3kk/eventlog/testutil"
)

func TestEventStoreConformance(t *testing.T) {
	dir := t.TempDir()
	n := 0

	suite.Run(t, &testutil.StoreSuite{
		NewStore: func() eventsrc.Store {
			n++
			db, err := sqlite.Open(context.Background(), filepath.Join(dir, fmt.Sprintf("events-%d.db", n)))
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			return sqlite.NewEventStore(db)
		},
	})
}

func TestSnapshotStore(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	defer db.Close()
	snaps := sqlite.NewSnapshotStore(db)

	missing, err := snaps.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, snaps.Save(ctx, eventsrc.Snapshot{AggregateID: "user-1", Version: 3, State: []byte(`{"n":3}`)}))
	require.NoError(t, snaps.Save(ctx, eventsrc.Snapshot{AggregateID: "user-1", Version: 6, State: []byte(`{"n":6}`)}))

	latest, err := snaps.Load(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(6), latest.Version)
	assert.JSONEq(t, `{"n":6}`, string(latest.State))
}

func newMockStore(t *testing.T) (*sqlite.EventStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return sqlite.NewEventStore(sqlx.NewDb(db, sqlite.DriverName)), mock
}

func TestAppend_BusyDatabaseIsUnavailable(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(sqlite3.Error{Code: sqlite3.ErrBusy})

	err := store.Append(context.Background(), testutil.UserCreated("user-1", "ada"))

	require.Error(t, err)
	assert.ErrorIs(t, err, eventsrc.ErrStorageUnavailable)
	assert.NotErrorIs(t, err, eventsrc.ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_UniqueViolationIsConflict(t *testing.T) {
	// GIVEN the head check passes but another writer took the version first
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"version", "ts"}).AddRow(0, 0))
	mock.ExpectExec("INSERT INTO events").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})
	mock.ExpectRollback()

	// WHEN
	err := store.Append(context.Background(), testutil.UserCreated("user-1", "ada"))

	// THEN
	var conflict *eventsrc.VersionConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(1), conflict.Attempted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_LockedDuringInsertIsUnavailable(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"version", "ts"}).AddRow(0, 0))
	mock.ExpectExec("INSERT INTO events").WillReturnError(sqlite3.Error{Code: sqlite3.ErrLocked})
	mock.ExpectRollback()

	err := store.Append(context.Background(), testutil.UserCreated("user-1", "ada"))

	assert.ErrorIs(t, err, eventsrc.ErrStorageUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_StaleHeadIsConflictWithCurrentVersion(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"version", "ts"}).AddRow(4, 0))
	mock.ExpectRollback()

	err := store.Append(context.Background(), eventsrc.NewEvent("user-1", "UserNameUpdated", 3, eventsrc.Payload{}))

	var conflict *eventsrc.VersionConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(4), conflict.Current)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEvents_IOErrorIsUnavailable(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, aggregate_id").WillReturnError(sqlite3.Error{Code: sqlite3.ErrIoErr})

	_, err := store.GetEvents(context.Background(), "user-1")

	assert.ErrorIs(t, err, eventsrc.ErrStorageUnavailable)
	assert.Equal(t, eventsrc.CategoryRetry, eventsrc.Classify(err))
}
