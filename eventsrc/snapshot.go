package eventsrc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Snapshot is a cached fold of an aggregate at Version. Snapshots only shorten
// replay: deleting all of them must not change any observable state.
type Snapshot struct {
	AggregateID string          `json:"aggregate_id"`
	Version     int64           `json:"version"`
	State       json.RawMessage `json:"state"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SnapshotStore persists snapshots. Load returns (nil, nil) when there is none.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, aggregateID string) (*Snapshot, error)
}

// SnapshotPolicy decides whether to snapshot after an aggregate moved from
// version from to version to.
type SnapshotPolicy interface {
	ShouldSnapshot(from, to int64) bool
}

// EveryN snapshots whenever a commit crosses a multiple of N events.
type EveryN int64

func (n EveryN) ShouldSnapshot(from, to int64) bool {
	if n <= 0 || to <= from {
		return false
	}
	return to/int64(n) > from/int64(n)
}

// TakeSnapshot serializes agg with encoding/json. Aggregates that need custom
// encoding implement json.Marshaler.
func TakeSnapshot(agg Aggregate) (Snapshot, error) {
	state, err := json.Marshal(agg)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to marshal aggregate %s for snapshot: %w", agg.ID(), err)
	}
	return Snapshot{
		AggregateID: agg.ID(),
		Version:     agg.Version(),
		State:       state,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// RestoreSnapshot decodes snap into agg and moves it to the snapshot version.
func RestoreSnapshot(agg EventSourced, snap *Snapshot) error {
	if snap.AggregateID != agg.ID() {
		return fmt.Errorf("%w: snapshot of %s restored into %s", ErrInvalidEvent, snap.AggregateID, agg.ID())
	}
	if err := json.Unmarshal(snap.State, agg); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot for aggregate %s: %w", snap.AggregateID, err)
	}
	agg.SetVersion(snap.Version)
	return nil
}

// InMemorySnapshotStore keeps the newest snapshot per aggregate.
type InMemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

func NewInMemorySnapshotStore() *InMemorySnapshotStore {
	return &InMemorySnapshotStore{snapshots: map[string]Snapshot{}}
}

// Save keeps snap unless a snapshot at the same or a later version exists.
func (s *InMemorySnapshotStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.snapshots[snap.AggregateID]; ok && cur.Version >= snap.Version {
		return nil
	}
	s.snapshots[snap.AggregateID] = snap
	return nil
}

func (s *InMemorySnapshotStore) Load(_ context.Context, aggregateID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// Delete drops the snapshot of one aggregate.
func (s *InMemorySnapshotStore) Delete(aggregateID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, aggregateID)
}

var _ SnapshotStore = (*InMemorySnapshotStore)(nil)
