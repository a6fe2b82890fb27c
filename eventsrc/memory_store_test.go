package eventsrc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/0m3kk/eventlog/eventsrc"
	"github.com/0m3kk/eventlog/testutil"
)

func TestInMemoryStore_Conformance(t *testing.T) {
	suite.Run(t, &testutil.StoreSuite{
		NewStore: func() eventsrc.Store { return eventsrc.NewInMemoryStore() },
	})
}

func TestInMemoryStore_TimestampsNeverDecrease(t *testing.T) {
	// GIVEN a clock that goes backwards
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(-time.Hour), base.Add(time.Minute)}
	i := 0
	store := eventsrc.NewInMemoryStore(eventsrc.WithClock(func() time.Time {
		ts := ticks[i]
		i++
		return ts
	}))

	// WHEN
	for v := int64(1); v <= 3; v++ {
		require.NoError(t, store.Append(ctx, added("c-1", v, 1)))
	}

	// THEN
	events, err := store.GetEvents(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, base, events[0].Timestamp)
	assert.Equal(t, base, events[1].Timestamp)
	assert.Equal(t, base.Add(time.Minute), events[2].Timestamp)
}

func TestInMemoryStore_GetEventsByTypeOrdersByTimestamp(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	next := base
	store := eventsrc.NewInMemoryStore(eventsrc.WithClock(func() time.Time {
		next = next.Add(time.Second)
		return next
	}))

	require.NoError(t, store.Append(ctx, added("b", 1, 1)))
	require.NoError(t, store.Append(ctx, added("a", 1, 1)))
	require.NoError(t, store.Append(ctx, added("b", 2, 1)))

	events, err := store.GetEventsByType(ctx, "Added")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"b", "a", "b"}, []string{events[0].AggregateID, events[1].AggregateID, events[2].AggregateID})
}

func TestAppendAll_FallsBackToSingleAppends(t *testing.T) {
	ctx := context.Background()
	store := singleOnly{eventsrc.NewInMemoryStore()}

	err := eventsrc.AppendAll(ctx, store, []eventsrc.StoredEvent{added("c-1", 1, 1), added("c-1", 2, 1)})

	require.NoError(t, err)
	events, err := store.GetEvents(ctx, "c-1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestValidateBatch(t *testing.T) {
	assert.NoError(t, eventsrc.ValidateBatch([]eventsrc.StoredEvent{added("a", 1, 1), added("a", 2, 1)}))
	assert.ErrorIs(t, eventsrc.ValidateBatch([]eventsrc.StoredEvent{added("a", 1, 1), added("b", 2, 1)}), eventsrc.ErrInvalidEvent)
	assert.ErrorIs(t, eventsrc.ValidateBatch([]eventsrc.StoredEvent{added("a", 1, 1), added("a", 3, 1)}), eventsrc.ErrVersionGap)
}

// singleOnly hides AppendBatch from AppendAll.
type singleOnly struct{ eventsrc.Store }
