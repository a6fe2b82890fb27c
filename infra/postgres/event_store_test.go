package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/0m3kk/eventlog/eventsrc"
	"github.com/0m3kk/eventlog/infra/postgres"
	"github.com/0m3kk/eventlog/testutil"
)

func TestEventStoreConformance(t *testing.T) {
	ctx := context.Background()
	container, connStr, err := testutil.RunPostgres(ctx)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	db, err := postgres.NewDB(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)

	suite.Run(t, &testutil.StoreSuite{
		NewStore: func() eventsrc.Store {
			if _, err := db.Pool.Exec(ctx, "TRUNCATE TABLE events, outbox"); err != nil {
				t.Fatal(err)
			}
			return postgres.NewEventStore(db, postgres.NewOutboxStore(db))
		},
	})
}

type EventStoreIntegrationSuite struct {
	testutil.DBIntegrationSuite
	db     *postgres.DB
	store  *postgres.EventStore
	outbox *postgres.OutboxStore
}

func TestEventStoreIntegrationSuite(t *testing.T) {
	suite.Run(t, new(EventStoreIntegrationSuite))
}

func (s *EventStoreIntegrationSuite) SetupTest() {
	s.db = &postgres.DB{Pool: s.Pool}
	s.outbox = postgres.NewOutboxStore(s.db)
	s.store = postgres.NewEventStore(s.db, s.outbox)
	s.TruncateTables("events", "outbox", "snapshots")
}

func (s *EventStoreIntegrationSuite) TestMigrateIsIdempotent() {
	s.Require().NoError(s.db.Migrate(context.Background()))
	s.Require().NoError(s.db.Migrate(context.Background()))
}

func (s *EventStoreIntegrationSuite) TestConflictReportsCurrentVersion() {
	// GIVEN
	ctx := context.Background()
	s.Require().NoError(eventsrc.AppendAll(ctx, s.store, testutil.Sequence("acc-1", "Deposited", 1, 3)))

	// WHEN
	err := s.store.Append(ctx, eventsrc.NewEvent("acc-1", "Deposited", 2, eventsrc.Payload{}))

	// THEN
	var conflict *eventsrc.VersionConflictError
	s.Require().True(errors.As(err, &conflict))
	s.Equal(int64(2), conflict.Attempted)
	s.Equal(int64(3), conflict.Current)
}

func (s *EventStoreIntegrationSuite) TestAppendWritesOutboxInSameTransaction() {
	// GIVEN
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, testutil.UserCreated("user-1", "ada")))

	// WHEN a later append conflicts
	err := s.store.Append(ctx, testutil.UserCreated("user-1", "grace"))
	s.Require().ErrorIs(err, eventsrc.ErrVersionConflict)

	// THEN only the committed event reached the outbox
	pending, err := s.outbox.Pending(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), pending)
}

func (s *EventStoreIntegrationSuite) TestAppendJoinsAmbientTransaction() {
	// GIVEN
	ctx := context.Background()
	rollback := errors.New("rollback")

	// WHEN the surrounding transaction fails after the append
	err := s.db.WithTransaction(ctx, func(txCtx context.Context) error {
		s.Require().NoError(s.store.Append(txCtx, testutil.UserCreated("user-2", "ada")))
		return rollback
	})

	// THEN the event is rolled back with it
	s.ErrorIs(err, rollback)
	events, err := s.store.GetEvents(ctx, "user-2")
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *EventStoreIntegrationSuite) TestDuplicateEventIDIsInvalid() {
	ctx := context.Background()
	evt := testutil.UserCreated("user-3", "ada")
	s.Require().NoError(s.store.Append(ctx, evt))

	evt.AggregateID = "user-4"
	err := s.store.Append(ctx, evt)

	s.ErrorIs(err, eventsrc.ErrInvalidEvent)
}

func (s *EventStoreIntegrationSuite) TestClosedPoolIsUnavailable() {
	ctx := context.Background()
	db, err := postgres.NewDB(ctx, s.ConnectionString)
	s.Require().NoError(err)
	store := postgres.NewEventStore(db, nil)
	db.Close()

	_, err = store.GetEvents(ctx, "user-1")

	s.Require().Error(err)
	s.NotErrorIs(err, eventsrc.ErrVersionConflict)
}

func (s *EventStoreIntegrationSuite) TestSnapshotStore() {
	// GIVEN
	ctx := context.Background()
	snaps := postgres.NewSnapshotStore(s.db)

	missing, err := snaps.Load(ctx, "user-1")
	s.Require().NoError(err)
	s.Nil(missing)

	// WHEN
	s.Require().NoError(snaps.Save(ctx, eventsrc.Snapshot{AggregateID: "user-1", Version: 5, State: []byte(`{"name":"a"}`)}))
	s.Require().NoError(snaps.Save(ctx, eventsrc.Snapshot{AggregateID: "user-1", Version: 10, State: []byte(`{"name":"b"}`)}))
	s.Require().NoError(snaps.Save(ctx, eventsrc.Snapshot{AggregateID: "user-1", Version: 10, State: []byte(`{"name":"c"}`)}))

	// THEN
	latest, err := snaps.Load(ctx, "user-1")
	s.Require().NoError(err)
	s.Require().NotNil(latest)
	s.Equal(int64(10), latest.Version)
	s.JSONEq(`{"name":"b"}`, string(latest.State))

	s.Require().NoError(snaps.Prune(ctx, "user-1"))
	var count int
	s.Require().NoError(s.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM snapshots").Scan(&count))
	s.Equal(1, count)
}
