package msgbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/0m3kk/eventlog/eventsrc"
)

// InMemoryBroker delivers events synchronously to the subscribers of a topic.
// Publish returns the joined handler errors so a relay can roll back and retry.
type InMemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[string]Handler // topic -> subscriberID -> handler
	closed bool
	log    *slog.Logger
}

func NewInMemoryBroker(log *slog.Logger) *InMemoryBroker {
	if log == nil {
		log = slog.Default()
	}
	return &InMemoryBroker{subs: map[string]map[string]Handler{}, log: log}
}

func (b *InMemoryBroker) Publish(ctx context.Context, topic string, evt eventsrc.StoredEvent) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return errors.New("broker is closed")
	}
	handlers := make(map[string]Handler, len(b.subs[topic]))
	for id, h := range b.subs[topic] {
		handlers[id] = h
	}
	b.mu.RUnlock()

	var errs []error
	for id, h := range handlers {
		if err := h(ctx, evt); err != nil {
			b.log.WarnContext(ctx, "Subscriber failed to handle event", "topic", topic, "subscriberID", id, "eventID", evt.ID, "error", err)
			errs = append(errs, fmt.Errorf("subscriber %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers handler until ctx is done. A subscriber ID can hold one
// subscription per topic.
func (b *InMemoryBroker) Subscribe(ctx context.Context, topic, subscriberID string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("broker is closed")
	}
	if _, ok := b.subs[topic][subscriberID]; ok {
		return fmt.Errorf("subscriber %s already listens on %s", subscriberID, topic)
	}
	if b.subs[topic] == nil {
		b.subs[topic] = map[string]Handler{}
	}
	b.subs[topic][subscriberID] = handler

	context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], subscriberID)
	})
	return nil
}

func (b *InMemoryBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = map[string]map[string]Handler{}
}

var _ Broker = (*InMemoryBroker)(nil)
