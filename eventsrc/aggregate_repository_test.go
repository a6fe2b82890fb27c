package eventsrc_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0m3kk/eventlog/eventsrc"
)

func TestRepository_SaveAndLoad(t *testing.T) {
	// GIVEN
	ctx := context.Background()
	repo := eventsrc.NewRepository(eventsrc.NewInMemoryStore(), newCounter)
	c := newCounter("c-1")
	require.NoError(t, c.TrackChange("Added", eventsrc.Payload{"amount": 4}))
	require.NoError(t, c.TrackChange("Added", eventsrc.Payload{"amount": 6}))

	// WHEN
	require.NoError(t, repo.Save(ctx, c))
	loaded, err := repo.Load(ctx, "c-1")

	// THEN
	require.NoError(t, err)
	assert.Empty(t, c.GetUncommittedEvents())
	assert.Equal(t, int64(2), loaded.Version())
	assert.Equal(t, int64(10), loaded.Total)
}

func TestRepository_LoadUnknownAggregateIsEmpty(t *testing.T) {
	repo := eventsrc.NewRepository(eventsrc.NewInMemoryStore(), newCounter)

	loaded, err := repo.Load(context.Background(), "nobody")

	require.NoError(t, err)
	assert.Equal(t, int64(0), loaded.Version())
	assert.Equal(t, "nobody", loaded.ID())
}

func TestRepository_SaveWithoutChangesIsNoop(t *testing.T) {
	store := eventsrc.NewInMemoryStore()
	repo := eventsrc.NewRepository(store, newCounter)

	require.NoError(t, repo.Save(context.Background(), newCounter("c-1")))

	events, err := store.GetEvents(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRepository_StaleSaveConflicts(t *testing.T) {
	// GIVEN two copies loaded at the same version
	ctx := context.Background()
	repo := eventsrc.NewRepository(eventsrc.NewInMemoryStore(), newCounter)
	first, err := repo.Load(ctx, "c-1")
	require.NoError(t, err)
	second, err := repo.Load(ctx, "c-1")
	require.NoError(t, err)

	require.NoError(t, first.TrackChange("Added", eventsrc.Payload{"amount": 1}))
	require.NoError(t, second.TrackChange("Added", eventsrc.Payload{"amount": 2}))

	// WHEN
	require.NoError(t, repo.Save(ctx, first))
	err = repo.Save(ctx, second)

	// THEN
	assert.ErrorIs(t, err, eventsrc.ErrVersionConflict)
	loaded, err := repo.Load(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Total)
}

func TestRepository_SnapshotsEveryN(t *testing.T) {
	// GIVEN
	ctx := context.Background()
	snaps := eventsrc.NewInMemorySnapshotStore()
	repo := eventsrc.NewRepository(eventsrc.NewInMemoryStore(), newCounter,
		eventsrc.WithSnapshots[*counter](snaps, eventsrc.EveryN(3)))
	c := newCounter("c-1")

	// WHEN two events are saved, then two more
	for i := 0; i < 2; i++ {
		require.NoError(t, c.TrackChange("Added", eventsrc.Payload{"amount": 1}))
	}
	require.NoError(t, repo.Save(ctx, c))
	snap, err := snaps.Load(ctx, "c-1")
	require.NoError(t, err)
	assert.Nil(t, snap, "no snapshot before crossing a multiple of 3")

	for i := 0; i < 2; i++ {
		require.NoError(t, c.TrackChange("Added", eventsrc.Payload{"amount": 1}))
	}
	require.NoError(t, repo.Save(ctx, c))

	// THEN
	snap, err = snaps.Load(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(4), snap.Version)
	assert.JSONEq(t, `{"total":4,"adds":4}`, string(snap.State))
}

func TestRepository_LoadUsesSnapshotPlusDelta(t *testing.T) {
	// GIVEN a snapshot that disagrees with history, so its use is observable
	ctx := context.Background()
	store := eventsrc.NewInMemoryStore()
	snaps := eventsrc.NewInMemorySnapshotStore()
	require.NoError(t, store.Append(ctx, added("c-1", 1, 1)))
	require.NoError(t, store.Append(ctx, added("c-1", 2, 5)))
	require.NoError(t, snaps.Save(ctx, eventsrc.Snapshot{
		AggregateID: "c-1",
		Version:     1,
		State:       json.RawMessage(`{"total":100,"adds":1}`),
	}))
	repo := eventsrc.NewRepository(store, newCounter, eventsrc.WithSnapshots[*counter](snaps, nil))

	// WHEN
	loaded, err := repo.Load(ctx, "c-1")

	// THEN
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version())
	assert.Equal(t, int64(105), loaded.Total)
}

func TestRepository_BadSnapshotFallsBackToReplay(t *testing.T) {
	ctx := context.Background()
	store := eventsrc.NewInMemoryStore()
	require.NoError(t, store.Append(ctx, added("c-1", 1, 3)))

	tests := []struct {
		name  string
		snaps eventsrc.SnapshotStore
	}{
		{"undecodable state", snapshotOf(eventsrc.Snapshot{AggregateID: "c-1", Version: 1, State: json.RawMessage(`not json`)})},
		{"foreign aggregate", snapshotOf(eventsrc.Snapshot{AggregateID: "c-2", Version: 1, State: json.RawMessage(`{"total":50}`)})},
		{"store failure", failingSnapshots{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := eventsrc.NewRepository(store, newCounter, eventsrc.WithSnapshots[*counter](tt.snaps, eventsrc.EveryN(1)))

			loaded, err := repo.Load(ctx, "c-1")

			require.NoError(t, err)
			assert.Equal(t, int64(1), loaded.Version())
			assert.Equal(t, int64(3), loaded.Total)
		})
	}
}

func TestRepository_SnapshotFailureDoesNotFailSave(t *testing.T) {
	ctx := context.Background()
	repo := eventsrc.NewRepository(eventsrc.NewInMemoryStore(), newCounter,
		eventsrc.WithSnapshots[*counter](failingSnapshots{}, eventsrc.EveryN(1)))
	c := newCounter("c-1")
	require.NoError(t, c.TrackChange("Added", eventsrc.Payload{"amount": 1}))

	assert.NoError(t, repo.Save(ctx, c))
}

func TestEveryN(t *testing.T) {
	policy := eventsrc.EveryN(10)

	assert.False(t, policy.ShouldSnapshot(0, 9))
	assert.True(t, policy.ShouldSnapshot(9, 10))
	assert.True(t, policy.ShouldSnapshot(8, 12))
	assert.False(t, policy.ShouldSnapshot(10, 19))
	assert.False(t, eventsrc.EveryN(0).ShouldSnapshot(0, 100))
}

func snapshotOf(snap eventsrc.Snapshot) eventsrc.SnapshotStore {
	s := eventsrc.NewInMemorySnapshotStore()
	_ = s.Save(context.Background(), snap)
	return s
}

type failingSnapshots struct{}

func (failingSnapshots) Save(context.Context, eventsrc.Snapshot) error {
	return errors.New("snapshot store down")
}

func (failingSnapshots) Load(context.Context, string) (*eventsrc.Snapshot, error) {
	return nil, errors.New("snapshot store down")
}
