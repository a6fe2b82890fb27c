package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/0m3kk/eventlog/cqrs"
	"github.com/0m3kk/eventlog/eventsrc"
)

// CommandMetrics implements cqrs.CommandObserver.
type CommandMetrics struct {
	duration *prometheus.HistogramVec
	handled  *prometheus.CounterVec
	attempts *prometheus.HistogramVec
}

func NewCommandMetrics(reg prometheus.Registerer) *CommandMetrics {
	m := &CommandMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command dispatch latency in seconds, retries included",
			Buckets:   defaultBuckets,
		}, []string{"command"}),

		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of dispatched commands by outcome",
		}, []string{"command", "success", "category"}),

		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_attempts",
			Help:      "Attempts per command dispatch",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}, []string{"command"}),
	}

	reg.MustRegister(m.duration, m.handled, m.attempts)
	return m
}

func (m *CommandMetrics) CommandFinished(name string, attempts int, elapsed time.Duration, err error) {
	m.duration.WithLabelValues(name).Observe(elapsed.Seconds())
	m.attempts.WithLabelValues(name).Observe(float64(attempts))

	category := ""
	if err != nil {
		category = eventsrc.Classify(err).String()
	}
	m.handled.WithLabelValues(name, boolToStr(err == nil), category).Inc()
}

// RelayMetrics counts events published by outbox relays.
type RelayMetrics struct {
	published prometheus.Counter
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Total number of outbox events published to the broker",
		}),
	}
	reg.MustRegister(m.published)
	return m
}

// BatchPublished matches outbox.BatchObserver.
func (m *RelayMetrics) BatchPublished(n int) {
	m.published.Add(float64(n))
}

// ProjectionMetrics times read model handlers.
type ProjectionMetrics struct {
	duration *prometheus.HistogramVec
	events   *prometheus.CounterVec
}

func NewProjectionMetrics(reg prometheus.Registerer) *ProjectionMetrics {
	m := &ProjectionMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "projection_event_duration_seconds",
			Help:      "Projection handler latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"projection", "event_type"}),

		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_events_total",
			Help:      "Total number of events handled by projections",
		}, []string{"projection", "event_type", "success"}),
	}
	reg.MustRegister(m.duration, m.events)
	return m
}

// Wrap instruments a projection handler.
func (m *ProjectionMetrics) Wrap(projection string, handler cqrs.ProjectionHandler) cqrs.ProjectionHandler {
	return func(ctx context.Context, evt eventsrc.StoredEvent) error {
		t := newTimer(m.duration.WithLabelValues(projection, evt.EventType))
		err := handler(ctx, evt)
		t.ObserveDuration()
		m.events.WithLabelValues(projection, evt.EventType, boolToStr(err == nil)).Inc()
		return err
	}
}

var _ cqrs.CommandObserver = (*CommandMetrics)(nil)
