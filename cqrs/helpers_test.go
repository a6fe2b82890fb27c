package cqrs_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/0m3kk/eventlog/eventsrc"
)

type tally struct {
	*eventsrc.AggregateRoot
	Count int64 `json:"count"`
}

func newTally(id string) *tally {
	t := &tally{AggregateRoot: eventsrc.NewAggregateRoot(id)}
	t.On("Incremented", func(evt eventsrc.StoredEvent) error {
		by, err := evt.Payload.Int("by")
		if err != nil {
			return err
		}
		t.Count += by
		return nil
	})
	t.Validate(func() error {
		if t.Count > 100 {
			return fmt.Errorf("%w: count %d over limit", eventsrc.ErrRejected, t.Count)
		}
		return nil
	})
	return t
}

type increment struct {
	ID string
	By int64
}

func (increment) CommandName() string    { return "Increment" }
func (c increment) AggregateID() string { return c.ID }

type countQuery struct{ ID string }

func (countQuery) QueryName() string { return "Count" }

// recordingObserver keeps every CommandFinished call.
type recordingObserver struct {
	mu    sync.Mutex
	calls []finishedCall
}

type finishedCall struct {
	name     string
	attempts int
	err      error
}

func (o *recordingObserver) CommandFinished(name string, attempts int, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, finishedCall{name: name, attempts: attempts, err: err})
}

// countsView is an in-memory read model used by projection tests.
type countsView struct {
	mu       sync.Mutex
	counts   map[string]int64
	versions map[string]int64
}

func newCountsView() *countsView {
	return &countsView{counts: map[string]int64{}, versions: map[string]int64{}}
}

func (v *countsView) GetVersion(_ context.Context, aggregateID string) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.versions[aggregateID], nil
}

func (v *countsView) apply(_ context.Context, evt eventsrc.StoredEvent) error {
	by, err := evt.Payload.Int("by")
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.counts[evt.AggregateID] += by
	v.versions[evt.AggregateID] = evt.Version
	return nil
}

func (v *countsView) count(aggregateID string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.counts[aggregateID]
}
