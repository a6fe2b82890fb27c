package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/0m3kk/eventlog/eventsrc"
)

// StoreMetrics holds the collectors shared by every InstrumentedStore of a registry.
type StoreMetrics struct {
	duration       *prometheus.HistogramVec
	eventsAppended *prometheus.CounterVec
	conflicts      prometheus.Counter
	errors         *prometheus.CounterVec
}

func NewStoreMetrics(reg prometheus.Registerer) *StoreMetrics {
	m := &StoreMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Event store operation latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"operation"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Total number of events appended",
		}, []string{"event_type"}),

		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Total number of appends rejected by optimistic concurrency",
		}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Total number of failed store operations by error category",
		}, []string{"operation", "category"}),
	}

	reg.MustRegister(m.duration, m.eventsAppended, m.conflicts, m.errors)
	return m
}

// InstrumentedStore records latency, appended events and failures of the wrapped store.
type InstrumentedStore struct {
	next    eventsrc.Store
	metrics *StoreMetrics
}

func NewInstrumentedStore(next eventsrc.Store, m *StoreMetrics) *InstrumentedStore {
	return &InstrumentedStore{next: next, metrics: m}
}

func (s *InstrumentedStore) observe(op string, start timer, err error) {
	start.ObserveDuration()
	if err == nil {
		return
	}
	if errors.Is(err, eventsrc.ErrVersionConflict) {
		s.metrics.conflicts.Inc()
	}
	s.metrics.errors.WithLabelValues(op, eventsrc.Classify(err).String()).Inc()
}

func (s *InstrumentedStore) Append(ctx context.Context, evt eventsrc.StoredEvent) error {
	t := newTimer(s.metrics.duration.WithLabelValues("append"))
	err := s.next.Append(ctx, evt)
	s.observe("append", t, err)
	if err == nil {
		s.metrics.eventsAppended.WithLabelValues(evt.EventType).Inc()
	}
	return err
}

// AppendBatch keeps the atomicity of the wrapped store when it has one.
func (s *InstrumentedStore) AppendBatch(ctx context.Context, events []eventsrc.StoredEvent) error {
	t := newTimer(s.metrics.duration.WithLabelValues("append_batch"))
	err := eventsrc.AppendAll(ctx, s.next, events)
	s.observe("append_batch", t, err)
	if err == nil {
		for _, evt := range events {
			s.metrics.eventsAppended.WithLabelValues(evt.EventType).Inc()
		}
	}
	return err
}

func (s *InstrumentedStore) GetEvents(ctx context.Context, aggregateID string) ([]eventsrc.StoredEvent, error) {
	t := newTimer(s.metrics.duration.WithLabelValues("get_events"))
	events, err := s.next.GetEvents(ctx, aggregateID)
	s.observe("get_events", t, err)
	return events, err
}

func (s *InstrumentedStore) GetEventsSince(ctx context.Context, aggregateID string, version int64) ([]eventsrc.StoredEvent, error) {
	t := newTimer(s.metrics.duration.WithLabelValues("get_events_since"))
	events, err := s.next.GetEventsSince(ctx, aggregateID, version)
	s.observe("get_events_since", t, err)
	return events, err
}

func (s *InstrumentedStore) GetEventsInRange(
	ctx context.Context,
	aggregateID string,
	from, to time.Time,
) ([]eventsrc.StoredEvent, error) {
	t := newTimer(s.metrics.duration.WithLabelValues("get_events_in_range"))
	events, err := s.next.GetEventsInRange(ctx, aggregateID, from, to)
	s.observe("get_events_in_range", t, err)
	return events, err
}

func (s *InstrumentedStore) GetEventsByType(ctx context.Context, eventType string) ([]eventsrc.StoredEvent, error) {
	t := newTimer(s.metrics.duration.WithLabelValues("get_events_by_type"))
	events, err := s.next.GetEventsByType(ctx, eventType)
	s.observe("get_events_by_type", t, err)
	return events, err
}

var (
	_ eventsrc.Store         = (*InstrumentedStore)(nil)
	_ eventsrc.BatchAppender = (*InstrumentedStore)(nil)
)
