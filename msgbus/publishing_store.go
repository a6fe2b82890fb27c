package msgbus

import (
	"context"
	"log/slog"

	"github.com/0m3kk/eventlog/eventsrc"
)

// PublishingStore publishes every appended event after the store accepted it.
// Delivery is best effort: a failed publish is logged and the append still
// succeeds. Stores with an outbox should use the relay instead.
type PublishingStore struct {
	eventsrc.Store
	broker Broker
	topics TopicMapper
	log    *slog.Logger
}

func NewPublishingStore(store eventsrc.Store, broker Broker, topics TopicMapper, log *slog.Logger) *PublishingStore {
	if log == nil {
		log = slog.Default()
	}
	return &PublishingStore{Store: store, broker: broker, topics: topics, log: log}
}

func (s *PublishingStore) Append(ctx context.Context, evt eventsrc.StoredEvent) error {
	if err := s.Store.Append(ctx, evt); err != nil {
		return err
	}
	s.publish(ctx, evt.AggregateID, evt.Version, evt.Version)
	return nil
}

// AppendBatch is atomic only when the wrapped store is a BatchAppender.
func (s *PublishingStore) AppendBatch(ctx context.Context, events []eventsrc.StoredEvent) error {
	if err := eventsrc.AppendAll(ctx, s.Store, events); err != nil {
		return err
	}
	if len(events) > 0 {
		s.publish(ctx, events[0].AggregateID, events[0].Version, events[len(events)-1].Version)
	}
	return nil
}

// publish reads the committed events back so subscribers see store-assigned timestamps.
func (s *PublishingStore) publish(ctx context.Context, aggregateID string, from, to int64) {
	ctx = context.WithoutCancel(ctx)
	committed, err := s.Store.GetEventsSince(ctx, aggregateID, from-1)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to read back appended events", "aggregateID", aggregateID, "error", err)
		return
	}
	for _, evt := range committed {
		if evt.Version > to {
			break
		}
		topic := s.topics(evt.EventType)
		if topic == "" {
			continue
		}
		if err := s.broker.Publish(ctx, topic, evt); err != nil {
			s.log.ErrorContext(ctx, "Failed to publish appended event", "topic", topic, "eventID", evt.ID, "error", err)
		}
	}
}

var (
	_ eventsrc.Store         = (*PublishingStore)(nil)
	_ eventsrc.BatchAppender = (*PublishingStore)(nil)
)
