// Package metrics exposes the event store, command bus and outbox relay to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "eventlog"

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5,
}

// timer wraps a Prometheus histogram observation.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) timer {
	return timer{h: h, start: time.Now()}
}

func (t timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
