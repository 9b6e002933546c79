package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the schedcal collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	occurrences    *prometheus.CounterVec
	malformed      prometheus.Counter
	truncated      *prometheus.CounterVec
	feeds          *prometheus.CounterVec
	listingLatency prometheus.Histogram
	reloads        *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		occurrences: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "schedcal_occurrences_total",
			Help: "Occurrences produced by schedule expansion",
		}, []string{"kind"}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "schedcal_malformed_schedules_total",
			Help: "Schedules skipped because their recurrence could not be decoded",
		}),
		truncated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "schedcal_truncated_expansions_total",
			Help: "Schedule expansions cut short by the per-schedule occurrence cap",
		}, []string{"kind"}),
		feeds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "schedcal_feeds_rendered_total",
			Help: "Calendar documents rendered",
		}, []string{"flavour"}),
		listingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "schedcal_listing_duration_seconds",
			Help:    "Time spent building an occurrence listing",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "schedcal_store_reloads_total",
			Help: "Schedule store reloads by outcome",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Occurrences(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.occurrences.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) Malformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) Truncated(kind string) {
	if m == nil {
		return
	}
	m.truncated.WithLabelValues(kind).Inc()
}

func (m *Metrics) FeedRendered(flavour string) {
	if m == nil {
		return
	}
	m.feeds.WithLabelValues(flavour).Inc()
}

func (m *Metrics) ObserveListing(d time.Duration) {
	if m == nil {
		return
	}
	m.listingLatency.Observe(d.Seconds())
}

func (m *Metrics) Reload(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.reloads.WithLabelValues(outcome).Inc()
}
