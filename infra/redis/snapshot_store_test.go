package redis_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"

	"github.com/0m3kk/eventlog/eventsrc"
	"github.com/0m3kk/eventlog/infra/redis"
	"github.com/0m3kk/eventlog/testutil"
)

type SnapshotStoreSuite struct {
	suite.Suite
	container testcontainers.Container
	client    *goredis.Client
}

func TestSnapshotStoreSuite(t *testing.T) {
	suite.Run(t, new(SnapshotStoreSuite))
}

func (s *SnapshotStoreSuite) SetupSuite() {
	container, addr, err := testutil.RunRedis(context.Background())
	s.Require().NoError(err)
	s.container = container
	s.client = goredis.NewClient(&goredis.Options{Addr: addr})
}

func (s *SnapshotStoreSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *SnapshotStoreSuite) SetupTest() {
	s.Require().NoError(s.client.FlushAll(context.Background()).Err())
}

func (s *SnapshotStoreSuite) TestLoadMissing() {
	store := redis.NewSnapshotStore(s.client)

	snap, err := store.Load(context.Background(), "user-1")

	s.Require().NoError(err)
	s.Nil(snap)
}

func (s *SnapshotStoreSuite) TestKeepsNewestVersion() {
	// GIVEN
	ctx := context.Background()
	store := redis.NewSnapshotStore(s.client)
	s.Require().NoError(store.Save(ctx, eventsrc.Snapshot{AggregateID: "user-1", Version: 10, State: []byte(`{"v":10}`)}))

	// WHEN an older snapshot arrives late
	s.Require().NoError(store.Save(ctx, eventsrc.Snapshot{AggregateID: "user-1", Version: 5, State: []byte(`{"v":5}`)}))

	// THEN
	snap, err := store.Load(ctx, "user-1")
	s.Require().NoError(err)
	s.Require().NotNil(snap)
	s.Equal(int64(10), snap.Version)
	s.JSONEq(`{"v":10}`, string(snap.State))
	s.False(snap.CreatedAt.IsZero())
}

func (s *SnapshotStoreSuite) TestTTLAndDelete() {
	ctx := context.Background()
	store := redis.NewSnapshotStore(s.client, redis.WithTTL(time.Minute), redis.WithKeyPrefix("test:"))
	s.Require().NoError(store.Save(ctx, eventsrc.Snapshot{AggregateID: "user-2", Version: 1, State: []byte(`{}`)}))

	ttl, err := s.client.PTTL(ctx, "test:user-2").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))

	s.Require().NoError(store.Delete(ctx, "user-2"))
	snap, err := store.Load(ctx, "user-2")
	s.Require().NoError(err)
	s.Nil(snap)
}

func (s *SnapshotStoreSuite) TestUnreachableServerIsUnavailable() {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	store := redis.NewSnapshotStore(client)

	_, err := store.Load(context.Background(), "user-1")

	s.ErrorIs(err, eventsrc.ErrStorageUnavailable)
}
