// Package metrics exposes Prometheus metrics for publish runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the publisher's collectors on a private registry.
type Metrics struct {
	registry   *prometheus.Registry
	runs       *prometheus.CounterVec
	defaulted  prometheus.Counter
	lastNumber prometheus.Gauge
	duration   prometheus.Histogram
}

// New creates and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meetupwiki",
			Name:      "publish_runs_total",
			Help:      "Publish runs by outcome and last completed state.",
		}, []string{"result", "state"}),
		defaulted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meetupwiki",
			Name:      "announcement_defaulted_total",
			Help:      "Announcements that fell back to default number or date.",
		}),
		lastNumber: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meetupwiki",
			Name:      "last_published_number",
			Help:      "Meetup number of the last successful publish.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "meetupwiki",
			Name:      "publish_duration_seconds",
			Help:      "Wall time of publish runs.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
	}
	reg.MustRegister(m.runs, m.defaulted, m.lastNumber, m.duration)
	return m
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(number int, state string, took time.Duration, defaulted bool, err error) {
	result := "succeeded"
	if err != nil {
		result = "failed"
	} else {
		m.lastNumber.Set(float64(number))
	}
	m.runs.WithLabelValues(result, state).Inc()
	if defaulted {
		m.defaulted.Inc()
	}
	m.duration.Observe(took.Seconds())
}

// SetLastPublished seeds the last published number, e.g. from the ledger
// at startup.
func (m *Metrics) SetLastPublished(number int) {
	m.lastNumber.Set(float64(number))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
