package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/0m3kk/eventlog/eventsrc"
)

// StoreSuite is the behaviour every eventsrc.Store must show. Run it with:
//
//	suite.Run(t, &testutil.StoreSuite{NewStore: func() eventsrc.Store { ... }})
//
// NewStore is called before every test and must return an empty store.
type StoreSuite struct {
	suite.Suite
	NewStore func() eventsrc.Store

	Store eventsrc.Store
	ctx   context.Context
}

func (s *StoreSuite) SetupTest() {
	s.Require().NotNil(s.NewStore, "StoreSuite.NewStore must be set")
	s.Store = s.NewStore()
	s.ctx = context.Background()
}

func (s *StoreSuite) appendN(aggregateID, eventType string, n int) []eventsrc.StoredEvent {
	events := make([]eventsrc.StoredEvent, 0, n)
	for v := 1; v <= n; v++ {
		evt := eventsrc.NewEvent(aggregateID, eventType, int64(v), eventsrc.Payload{"n": v})
		s.Require().NoError(s.Store.Append(s.ctx, evt))
		events = append(events, evt)
	}
	return events
}

func versions(events []eventsrc.StoredEvent) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.Version
	}
	return out
}

func (s *StoreSuite) TestAppend_AssignsTimestampAndKeepsOrder() {
	// GIVEN
	before := time.Now().Add(-time.Second)
	appended := s.appendN("order-1", "ItemAdded", 3)

	// WHEN
	events, err := s.Store.GetEvents(s.ctx, "order-1")

	// THEN
	s.Require().NoError(err)
	s.Require().Len(events, 3)
	s.Equal([]int64{1, 2, 3}, versions(events))
	for i, evt := range events {
		s.Equal(appended[i].ID, evt.ID)
		s.Equal("order-1", evt.AggregateID)
		s.Equal("ItemAdded", evt.EventType)
		s.True(evt.Timestamp.After(before), "timestamp must be assigned by the store")
		if i > 0 {
			s.False(evt.Timestamp.Before(events[i-1].Timestamp), "timestamps must not decrease")
		}
	}
}

func (s *StoreSuite) TestGetEvents_UnknownAggregateIsEmpty() {
	events, err := s.Store.GetEvents(s.ctx, "never-written")

	s.Require().NoError(err)
	s.NotNil(events)
	s.Empty(events)
}

func (s *StoreSuite) TestAppend_DuplicateVersionConflicts() {
	// GIVEN
	first := eventsrc.NewEvent("user-1", "Created", 1, eventsrc.Payload{"name": "A"})
	s.Require().NoError(s.Store.Append(s.ctx, first))

	// WHEN
	second := eventsrc.NewEvent("user-1", "Created", 1, eventsrc.Payload{"name": "B"})
	err := s.Store.Append(s.ctx, second)

	// THEN
	s.Require().Error(err)
	s.ErrorIs(err, eventsrc.ErrVersionConflict)
	var conflict *eventsrc.VersionConflictError
	s.Require().True(errors.As(err, &conflict))
	s.Equal("user-1", conflict.AggregateID)
	s.Equal(int64(1), conflict.Attempted)
	s.Contains(conflict.Error(), "user-1")

	events, err := s.Store.GetEvents(s.ctx, "user-1")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(int64(1), events[0].Version)
	name, err := events[0].Payload.Str("name")
	s.Require().NoError(err)
	s.Equal("A", name)
}

func (s *StoreSuite) TestAppend_RejectsVersionGap() {
	// GIVEN an empty aggregate, version 2 cannot be first
	err := s.Store.Append(s.ctx, eventsrc.NewEvent("gap-1", "Created", 2, eventsrc.Payload{}))
	s.ErrorIs(err, eventsrc.ErrVersionConflict)

	// GIVEN one event, version 3 skips version 2
	s.appendN("gap-1", "Created", 1)
	err = s.Store.Append(s.ctx, eventsrc.NewEvent("gap-1", "Updated", 3, eventsrc.Payload{}))

	// THEN
	s.ErrorIs(err, eventsrc.ErrVersionConflict)
	events, err := s.Store.GetEvents(s.ctx, "gap-1")
	s.Require().NoError(err)
	s.Equal([]int64{1}, versions(events))
}

func (s *StoreSuite) TestAppend_RejectsInvalidEvent() {
	tests := []struct {
		name string
		evt  eventsrc.StoredEvent
	}{
		{"zero version", eventsrc.NewEvent("inv-1", "Created", 0, eventsrc.Payload{})},
		{"empty aggregate", eventsrc.NewEvent("", "Created", 1, eventsrc.Payload{})},
		{"empty type", eventsrc.NewEvent("inv-1", "", 1, eventsrc.Payload{})},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			err := s.Store.Append(s.ctx, tt.evt)
			s.ErrorIs(err, eventsrc.ErrInvalidEvent)
		})
	}

	events, err := s.Store.GetEvents(s.ctx, "inv-1")
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *StoreSuite) TestGetEventsSince() {
	// GIVEN
	s.appendN("x", "Changed", 3)

	// WHEN
	events, err := s.Store.GetEventsSince(s.ctx, "x", 1)

	// THEN
	s.Require().NoError(err)
	s.Equal([]int64{2, 3}, versions(events))

	rest, err := s.Store.GetEventsSince(s.ctx, "x", 3)
	s.Require().NoError(err)
	s.Empty(rest)
}

func (s *StoreSuite) TestGetEventsByType() {
	// GIVEN
	s.appendN("a", "Created", 1)
	s.appendN("b", "Created", 1)
	s.Require().NoError(s.Store.Append(s.ctx, eventsrc.NewEvent("a", "Renamed", 2, eventsrc.Payload{})))

	// WHEN
	events, err := s.Store.GetEventsByType(s.ctx, "Created")

	// THEN
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	seen := map[string]int{}
	for _, evt := range events {
		s.Equal("Created", evt.EventType)
		seen[evt.AggregateID]++
	}
	s.Equal(map[string]int{"a": 1, "b": 1}, seen)

	none, err := s.Store.GetEventsByType(s.ctx, "Deleted")
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *StoreSuite) TestGetEventsByType_KeepsVersionOrderPerAggregate() {
	for _, id := range []string{"p", "q"} {
		s.appendN(id, "Ticked", 4)
	}

	events, err := s.Store.GetEventsByType(s.ctx, "Ticked")
	s.Require().NoError(err)
	s.Require().Len(events, 8)

	last := map[string]int64{}
	for _, evt := range events {
		s.Greater(evt.Version, last[evt.AggregateID])
		last[evt.AggregateID] = evt.Version
	}
}

func (s *StoreSuite) TestGetEventsInRange() {
	// GIVEN
	s.appendN("range-1", "Changed", 3)
	all, err := s.Store.GetEvents(s.ctx, "range-1")
	s.Require().NoError(err)
	first, last := all[0].Timestamp, all[len(all)-1].Timestamp

	// WHEN the range covers every timestamp, bounds included
	events, err := s.Store.GetEventsInRange(s.ctx, "range-1", first, last)

	// THEN
	s.Require().NoError(err)
	s.Equal([]int64{1, 2, 3}, versions(events))

	before, err := s.Store.GetEventsInRange(s.ctx, "range-1", first.Add(-time.Hour), first.Add(-time.Minute))
	s.Require().NoError(err)
	s.Empty(before)

	other, err := s.Store.GetEventsInRange(s.ctx, "range-2", first.Add(-time.Hour), last.Add(time.Hour))
	s.Require().NoError(err)
	s.Empty(other)
}

func (s *StoreSuite) TestGetEventsInRange_OpenEndedBounds() {
	s.appendN("range-open", "Changed", 2)

	events, err := s.Store.GetEventsInRange(s.ctx, "range-open", time.Time{}, time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	s.Equal([]int64{1, 2}, versions(events))

	future, err := s.Store.GetEventsInRange(s.ctx, "range-open",
		time.Date(9000, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	s.Empty(future)
}

func (s *StoreSuite) TestPayloadRoundTrip() {
	// GIVEN
	payload := eventsrc.Payload{
		"name":           "Ada",
		"age":            36,
		"verified":       true,
		"score":          1.5,
		"tags":           []any{"a", "b"},
		"address":        map[string]any{"city": "London"},
		"schema_version": 2,
	}
	s.Require().NoError(s.Store.Append(s.ctx, eventsrc.NewEvent("payload-1", "Created", 1, payload)))

	// WHEN
	events, err := s.Store.GetEvents(s.ctx, "payload-1")

	// THEN
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	p := events[0].Payload
	name, err := p.Str("name")
	s.Require().NoError(err)
	s.Equal("Ada", name)
	age, err := p.Int("age")
	s.Require().NoError(err)
	s.Equal(int64(36), age)
	verified, err := p.Bool("verified")
	s.Require().NoError(err)
	s.True(verified)
	score, err := p.Float("score")
	s.Require().NoError(err)
	s.InDelta(1.5, score, 1e-9)
	schema, err := p.SchemaVersion()
	s.Require().NoError(err)
	s.Equal(2, schema)
}

func (s *StoreSuite) TestAppend_StoredPayloadIsNotAliased() {
	payload := eventsrc.Payload{"name": "A"}
	s.Require().NoError(s.Store.Append(s.ctx, eventsrc.NewEvent("alias-1", "Created", 1, payload)))
	payload["name"] = "mutated"

	events, err := s.Store.GetEvents(s.ctx, "alias-1")
	s.Require().NoError(err)
	events[0].Payload["name"] = "mutated again"

	again, err := s.Store.GetEvents(s.ctx, "alias-1")
	s.Require().NoError(err)
	name, err := again[0].Payload.Str("name")
	s.Require().NoError(err)
	s.Equal("A", name)
}

func (s *StoreSuite) TestAppend_NestedPayloadIsNotAliased() {
	payload := eventsrc.Payload{"meta": map[string]any{"source": "web"}}
	s.Require().NoError(s.Store.Append(s.ctx, eventsrc.NewEvent("alias-2", "Created", 1, payload)))
	payload["meta"].(map[string]any)["source"] = "mutated"

	events, err := s.Store.GetEvents(s.ctx, "alias-2")
	s.Require().NoError(err)
	events[0].Payload["meta"].(map[string]any)["source"] = "mutated again"

	again, err := s.Store.GetEvents(s.ctx, "alias-2")
	s.Require().NoError(err)
	s.Equal("web", again[0].Payload["meta"].(map[string]any)["source"])
}

func (s *StoreSuite) TestAppend_ConcurrentSameVersionHasOneWinner() {
	// GIVEN
	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)

	// WHEN every writer races for version 1
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			evt := eventsrc.NewEvent("race-1", "Created", 1, eventsrc.Payload{"writer": i})
			err := s.Store.Append(s.ctx, evt)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, eventsrc.ErrVersionConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()

	// THEN
	s.Empty(others)
	s.Equal(1, successes)
	s.Equal(writers-1, conflicts)
	events, err := s.Store.GetEvents(s.ctx, "race-1")
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *StoreSuite) TestAppend_ConcurrentDifferentAggregatesAllSucceed() {
	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers*3)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for v := int64(1); v <= 3; v++ {
				errs <- s.Store.Append(s.ctx, eventsrc.NewEvent(id, "Changed", v, eventsrc.Payload{}))
			}
		}(fmt.Sprintf("parallel-%d", i))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		s.NoError(err)
	}
	for i := 0; i < writers; i++ {
		events, err := s.Store.GetEvents(s.ctx, fmt.Sprintf("parallel-%d", i))
		s.Require().NoError(err)
		s.Equal([]int64{1, 2, 3}, versions(events))
	}
}

func (s *StoreSuite) TestAppend_CancelledContextLeavesNothing() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	err := s.Store.Append(ctx, eventsrc.NewEvent("cancel-1", "Created", 1, eventsrc.Payload{}))

	s.Error(err)
	events, err := s.Store.GetEvents(s.ctx, "cancel-1")
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *StoreSuite) TestAppendBatch_IsAllOrNothing() {
	batcher, ok := s.Store.(eventsrc.BatchAppender)
	if !ok {
		s.T().Skip("store does not implement BatchAppender")
	}

	// GIVEN
	s.Require().NoError(batcher.AppendBatch(s.ctx, []eventsrc.StoredEvent{
		eventsrc.NewEvent("batch-1", "Created", 1, eventsrc.Payload{}),
		eventsrc.NewEvent("batch-1", "Changed", 2, eventsrc.Payload{}),
	}))

	// WHEN the batch starts on a taken version
	err := batcher.AppendBatch(s.ctx, []eventsrc.StoredEvent{
		eventsrc.NewEvent("batch-1", "Changed", 2, eventsrc.Payload{}),
		eventsrc.NewEvent("batch-1", "Changed", 3, eventsrc.Payload{}),
	})

	// THEN
	s.ErrorIs(err, eventsrc.ErrVersionConflict)
	events, err := s.Store.GetEvents(s.ctx, "batch-1")
	s.Require().NoError(err)
	s.Equal([]int64{1, 2}, versions(events))

	// AND a batch with a hole is rejected before touching storage
	err = batcher.AppendBatch(s.ctx, []eventsrc.StoredEvent{
		eventsrc.NewEvent("batch-1", "Changed", 3, eventsrc.Payload{}),
		eventsrc.NewEvent("batch-1", "Changed", 5, eventsrc.Payload{}),
	})
	s.ErrorIs(err, eventsrc.ErrVersionGap)
}
