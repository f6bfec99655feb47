package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/jobtrack/internal/tracker"
)

// StatusCounter reports how many companies sit in each status.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[tracker.Status]int, error)
}

// Metrics holds the server's Prometheus collectors on a private registry.
type Metrics struct {
	reg      *prometheus.Registry
	tracked  *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics registers the collectors. counter may be nil.
func NewMetrics(counter StatusCounter) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		tracked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobtrack",
			Name:      "evidence_tracked_total",
			Help:      "Evidence recorded, by source and resulting status.",
		}, []string{"source", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobtrack",
			Name:      "track_failures_total",
			Help:      "Failed tracking operations, by failure kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "jobtrack",
			Name:      "track_duration_seconds",
			Help:      "Time spent in one tracking operation, including the remote push.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	m.reg.MustRegister(m.tracked, m.failures, m.duration)
	if counter != nil {
		m.reg.MustRegister(&companiesCollector{counter: counter})
	}
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) observe(source tracker.SourceKind, start time.Time, rec *tracker.CompanyRecord, err error) {
	if m == nil {
		return
	}
	m.duration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.failures.WithLabelValues(errorKind(err)).Inc()
		return
	}
	m.tracked.WithLabelValues(string(source), rec.Status.String()).Inc()
}

var companiesDesc = prometheus.NewDesc(
	"jobtrack_companies",
	"Tracked companies by status.",
	[]string{"status"}, nil,
)

// companiesCollector reads status counts from the store at scrape time.
type companiesCollector struct {
	counter StatusCounter
}

func (c *companiesCollector) Describe(ch chan<- *prometheus.Desc) { ch <- companiesDesc }

func (c *companiesCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	counts, err := c.counter.CountByStatus(ctx)
	if err != nil {
		slog.Warn("collecting company counts", "error", err)
		return
	}
	for st, n := range counts {
		ch <- prometheus.MustNewConstMetric(companiesDesc, prometheus.GaugeValue, float64(n), st.String())
	}
}
