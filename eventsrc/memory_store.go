package eventsrc

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// InMemoryStore is a Store kept in process memory, used for tests and local runs.
// Every aggregate has its own lock, so writers to different aggregates never contend.
type InMemoryStore struct {
	mu      sync.RWMutex
	streams map[string]*memStream
	now     func() time.Time
	log     *slog.Logger
}

type memStream struct {
	mu     sync.RWMutex
	events []StoredEvent
}

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithClock replaces the clock used to stamp appended events.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryStore) { s.now = now }
}

// WithMemoryLogger sets the logger used for debug output.
func WithMemoryLogger(log *slog.Logger) MemoryOption {
	return func(s *InMemoryStore) { s.log = log }
}

func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		streams: map[string]*memStream{},
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("store", "memory")
	return s
}

func (s *InMemoryStore) stream(aggregateID string, create bool) *memStream {
	s.mu.RLock()
	st, ok := s.streams[aggregateID]
	s.mu.RUnlock()
	if ok || !create {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.streams[aggregateID]; !ok {
		st = &memStream{}
		s.streams[aggregateID] = st
	}
	return st
}

// Append implements Store.
func (s *InMemoryStore) Append(ctx context.Context, evt StoredEvent) error {
	return s.AppendBatch(ctx, []StoredEvent{evt})
}

// AppendBatch implements BatchAppender. Either every event is appended or none is.
func (s *InMemoryStore) AppendBatch(ctx context.Context, events []StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := ValidateBatch(events); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	aggID := events[0].AggregateID
	st := s.stream(aggID, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	head := int64(len(st.events))
	if events[0].Version != head+1 {
		return &VersionConflictError{AggregateID: aggID, Attempted: events[0].Version, Current: head}
	}

	ts := s.now().UTC()
	if head > 0 {
		if last := st.events[head-1].Timestamp; ts.Before(last) {
			ts = last
		}
	}
	for _, evt := range events {
		evt.Timestamp = ts
		evt.Payload = evt.Payload.Clone()
		st.events = append(st.events, evt)
	}

	s.log.DebugContext(ctx, "Events appended", "aggregateID", aggID, "count", len(events), "version", head+int64(len(events)))
	return nil
}

func (s *InMemoryStore) filter(aggregateID string, keep func(StoredEvent) bool) []StoredEvent {
	out := []StoredEvent{}
	st := s.stream(aggregateID, false)
	if st == nil {
		return out
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, evt := range st.events {
		if keep(evt) {
			evt.Payload = evt.Payload.Clone()
			out = append(out, evt)
		}
	}
	return out
}

func (s *InMemoryStore) GetEvents(ctx context.Context, aggregateID string) ([]StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.filter(aggregateID, func(StoredEvent) bool { return true }), nil
}

func (s *InMemoryStore) GetEventsSince(ctx context.Context, aggregateID string, version int64) ([]StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.filter(aggregateID, func(e StoredEvent) bool { return e.Version > version }), nil
}

func (s *InMemoryStore) GetEventsInRange(
	ctx context.Context,
	aggregateID string,
	start, end time.Time,
) ([]StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.filter(aggregateID, func(e StoredEvent) bool {
		return !e.Timestamp.Before(start) && !e.Timestamp.After(end)
	}), nil
}

// GetEventsByType orders results by timestamp, then aggregate id, then version.
func (s *InMemoryStore) GetEventsByType(ctx context.Context, eventType string) ([]StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	ids := make([]string, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := []StoredEvent{}
	for _, id := range ids {
		out = append(out, s.filter(id, func(e StoredEvent) bool { return e.EventType == eventType })...)
	}
	SortEvents(out)
	return out, nil
}

// SortEvents orders events by timestamp, aggregate id and version. Because
// timestamps never decrease within an aggregate, per-aggregate version order is kept.
func SortEvents(events []StoredEvent) {
	slices.SortStableFunc(events, func(a, b StoredEvent) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		if c := cmp.Compare(a.AggregateID, b.AggregateID); c != 0 {
			return c
		}
		return cmp.Compare(a.Version, b.Version)
	})
}

var (
	_ Store         = (*InMemoryStore)(nil)
	_ BatchAppender = (*InMemoryStore)(nil)
)
