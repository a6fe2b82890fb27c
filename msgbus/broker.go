package msgbus

import (
	"context"

	"github.com/0m3kk/eventlog/eventsrc"
)

// Handler processes one delivered event. A non-nil error asks the broker to
// redeliver it later.
type Handler func(ctx context.Context, evt eventsrc.StoredEvent) error

// Broker defines the interface for a message broker used to publish events.
type Broker interface {
	// Publish sends an event to a specific topic.
	Publish(ctx context.Context, topic string, evt eventsrc.StoredEvent) error
	// Subscribe creates a subscription to a topic and handles incoming messages
	// using the provided handler function until ctx is done.
	Subscribe(ctx context.Context, topic, subscriberID string, handler Handler) error
	// Close gracefully shuts down the broker connection.
	Close()
}

// TopicMapper maps an event type to a topic. An empty topic means the event
// is not published.
type TopicMapper func(eventType string) string

// SingleTopic routes every event type to topic.
func SingleTopic(topic string) TopicMapper {
	return func(string) string { return topic }
}
