package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/0m3kk/eventlog/eventsrc"
	"github.com/0m3kk/eventlog/msgbus"
)

// Store defines the interface for interacting with the outbox storage.
// It abstracts the transactional behavior of processing a batch.
type Store interface {
	// ProcessOutboxBatch fetches a batch of unpublished events, processes them using the provided function,
	// and marks them as published, all within a single transaction.
	// If processFunc returns an error, the entire transaction is rolled back.
	ProcessOutboxBatch(
		ctx context.Context,
		batchSize int,
		processFunc func(ctx context.Context, events []eventsrc.StoredEvent) error,
	) error
}

// BatchObserver is told how many events each successful batch published.
type BatchObserver func(published int)

// Relay is a background worker that polls the outbox and publishes events.
type Relay struct {
	store       Store
	broker      msgbus.Broker
	topicMapper msgbus.TopicMapper
	batchSize   int
	interval    time.Duration
	log         *slog.Logger
	observer    BatchObserver
	wg          sync.WaitGroup
	quit        chan struct{}
	stopOnce    sync.Once
}

// Option configures a Relay.
type Option func(*Relay)

func WithLogger(log *slog.Logger) Option {
	return func(r *Relay) { r.log = log }
}

func WithBatchObserver(fn BatchObserver) Option {
	return func(r *Relay) { r.observer = fn }
}

// NewRelay creates a new Relay instance.
// It can be run with multiple instances for scalability.
func NewRelay(
	store Store,
	broker msgbus.Broker,
	mapper msgbus.TopicMapper,
	batchSize int,
	interval time.Duration,
	opts ...Option,
) *Relay {
	r := &Relay{
		store:       store,
		broker:      broker,
		topicMapper: mapper,
		batchSize:   batchSize,
		interval:    interval,
		log:         slog.Default(),
		quit:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins the relay's polling process in a separate goroutine.
func (r *Relay) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.log.InfoContext(ctx, "Outbox relay started", "batchSize", r.batchSize, "interval", r.interval)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := r.ProcessBatch(ctx); err != nil {
					r.log.ErrorContext(ctx, "Failed to process outbox batch", "error", err)
				}
			case <-r.quit:
				r.log.InfoContext(ctx, "Outbox relay shutting down")
				return
			case <-ctx.Done():
				r.log.InfoContext(ctx, "Context cancelled, outbox relay shutting down")
				return
			}
		}
	}()
}

// ProcessBatch publishes one batch of pending events. The store commits the
// published mark only when every event of the batch reached the broker.
func (r *Relay) ProcessBatch(ctx context.Context) error {
	published := 0
	processor := func(ctx context.Context, events []eventsrc.StoredEvent) error {
		if len(events) == 0 {
			return nil
		}
		r.log.DebugContext(ctx, "Processing fetched events", "count", len(events))

		for _, evt := range events {
			topic := r.topicMapper(evt.EventType)
			if topic == "" {
				r.log.WarnContext(ctx, "No topic mapped for event type, skipping",
					"eventType", evt.EventType, "eventID", evt.ID)
				continue
			}

			// Returning an error here will cause the transaction to be rolled back.
			if err := r.broker.Publish(ctx, topic, evt); err != nil {
				return fmt.Errorf("failed to publish event %s to topic %s: %w", evt.ID, topic, err)
			}
			published++
		}
		r.log.InfoContext(ctx, "Successfully published events to broker", "count", published)
		return nil
	}

	if err := r.store.ProcessOutboxBatch(ctx, r.batchSize, processor); err != nil {
		return err
	}
	if r.observer != nil && published > 0 {
		r.observer(published)
	}
	return nil
}

// Stop gracefully stops the relay. It is safe to call more than once.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
	r.wg.Wait()
}
