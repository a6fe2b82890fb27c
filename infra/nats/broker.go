package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/0m3kk/eventlog/eventsrc"
	"github.com/0m3kk/eventlog/msgbus"
)

const (
	headerEventType   = "x-event-type"
	headerAggregateID = "x-aggregate-id"
)

// NATSBroker is an implementation of the msgbus.Broker interface using NATS JetStream.
// Each topic is a stream; every aggregate gets its own subject inside it.
type NATSBroker struct {
	conn            *nats.Conn
	js              jetstream.JetStream
	log             *slog.Logger
	redeliveryDelay time.Duration

	mu       sync.Mutex
	streams  map[string]struct{}
	consumes []jetstream.ConsumeContext
}

// Option configures a NATSBroker.
type Option func(*NATSBroker)

// WithRedeliveryDelay sets how long a failed message waits before redelivery.
func WithRedeliveryDelay(d time.Duration) Option {
	return func(b *NATSBroker) { b.redeliveryDelay = d }
}

func WithLogger(log *slog.Logger) Option {
	return func(b *NATSBroker) { b.log = log }
}

// NewNATSBroker creates a new NATSBroker instance.
func NewNATSBroker(url string, opts ...Option) (*NATSBroker, error) {
	nc, err := nats.Connect(
		url,
		nats.Timeout(10*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, eventsrc.Unavailable("connect to NATS", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	b := &NATSBroker{
		conn:            nc,
		js:              js,
		log:             slog.Default(),
		redeliveryDelay: time.Second,
		streams:         map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Token turns s into a single subject token. NATS reserves '.', '*', '>' and
// whitespace in subjects.
func Token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n', '/', '\\':
			return '_'
		}
		return r
	}, s)
}

// Subject is where events of one aggregate are published within a topic.
// Example subject: users.c7c0b6f2-7a7e-4b2a-8f3b-5e4e2a1e0b5e
func Subject(topic, aggregateID string) string {
	return Token(topic) + "." + Token(aggregateID)
}

// ensureStream creates the topic stream once per broker.
func (b *NATSBroker) ensureStream(ctx context.Context, topic string) (string, error) {
	streamName := Token(topic)

	b.mu.Lock()
	_, ok := b.streams[streamName]
	b.mu.Unlock()
	if ok {
		return streamName, nil
	}

	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{streamName + ".*"},
	})
	if err != nil {
		return "", eventsrc.Unavailable("create stream "+streamName, err)
	}
	b.log.InfoContext(ctx, "Stream ready", "stream", streamName)

	b.mu.Lock()
	b.streams[streamName] = struct{}{}
	b.mu.Unlock()
	return streamName, nil
}

// Publish sends an event to a NATS topic. The event ID is the JetStream message
// ID, so a batch republished after a failed outbox commit is deduplicated.
func (b *NATSBroker) Publish(ctx context.Context, topic string, evt eventsrc.StoredEvent) error {
	if _, err := b.ensureStream(ctx, topic); err != nil {
		return err
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := nats.NewMsg(Subject(topic, evt.AggregateID))
	msg.Header.Set(headerEventType, evt.EventType)
	msg.Header.Set(headerAggregateID, evt.AggregateID)
	msg.Data = data

	if _, err := b.js.PublishMsg(ctx, msg, jetstream.WithMsgID(evt.ID.String())); err != nil {
		return eventsrc.Unavailable("publish to NATS", err)
	}

	b.log.DebugContext(ctx, "Event published successfully", "topic", topic, "subject", msg.Subject, "eventID", evt.ID)
	return nil
}

// Subscribe creates a durable consumer named after the subscriber, so a
// restarted service resumes from where it left off.
func (b *NATSBroker) Subscribe(ctx context.Context, topic, subscriberID string, handler msgbus.Handler) error {
	streamName, err := b.ensureStream(ctx, topic)
	if err != nil {
		return err
	}
	consumerName := fmt.Sprintf("%s-%s", streamName, Token(subscriberID))

	consumer, err := b.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: streamName + ".*",
	})
	if err != nil {
		return eventsrc.Unavailable("create consumer "+consumerName, err)
	}

	log := b.log.With("topic", topic, "subscriberID", subscriberID)
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var evt eventsrc.StoredEvent
		if err := json.Unmarshal(msg.Data(), &evt); err != nil {
			log.ErrorContext(ctx, "Failed to unmarshal event, dropping", "error", err, "subject", msg.Subject())
			_ = msg.Term()
			return
		}
		if evt.Payload, err = eventsrc.DecodePayload(payloadOf(msg.Data())); err != nil {
			log.ErrorContext(ctx, "Failed to decode event payload, dropping", "error", err, "eventID", evt.ID)
			_ = msg.Term()
			return
		}

		if err := handler(ctx, evt); err != nil {
			log.WarnContext(ctx, "Handler failed to process event", "error", err, "eventID", evt.ID)
			_ = msg.NakWithDelay(b.redeliveryDelay)
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return eventsrc.Unavailable("consume "+consumerName, err)
	}

	b.mu.Lock()
	b.consumes = append(b.consumes, cc)
	b.mu.Unlock()

	log.InfoContext(ctx, "Subscriber started")
	context.AfterFunc(ctx, func() {
		cc.Stop()
		log.Info("Subscriber stopping")
	})
	return nil
}

// payloadOf extracts the raw payload so numbers keep their precision.
func payloadOf(data []byte) []byte {
	var raw struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil || len(raw.Payload) == 0 {
		return []byte("{}")
	}
	return raw.Payload
}

// Close stops every subscription and drains the NATS connection.
func (b *NATSBroker) Close() {
	b.mu.Lock()
	consumes := b.consumes
	b.consumes = nil
	b.mu.Unlock()

	for _, cc := range consumes {
		cc.Stop()
	}
	if b.conn != nil {
		if err := b.conn.Drain(); err != nil {
			b.conn.Close()
		}
	}
}

var _ msgbus.Broker = (*NATSBroker)(nil)
