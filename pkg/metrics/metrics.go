// Package metrics holds the exporter's own operational Prometheus metrics —
// the health of the Fleet Session Core itself, as opposed to the per-probe
// ping metrics which are built fresh per request in pkg/httpapi.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RosterSize is the number of nodes in the current roster.
	RosterSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nlnog_exporter_roster_size",
			Help: "Number of nodes in the current roster",
		},
	)

	// SessionsByHealth tracks session counts by HealthState label.
	SessionsByHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nlnog_exporter_sessions",
			Help: "Number of SSH sessions by health state (healthy, restarted, error)",
		},
		[]string{"state"},
	)

	// CatalogFetchDuration times each catalog HTTP round trip.
	CatalogFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nlnog_exporter_catalog_fetch_duration_seconds",
			Help:    "Duration of catalog API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "outcome"},
	)

	// RefreshCyclesTotal counts completed refresh-loop iterations.
	RefreshCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nlnog_exporter_refresh_cycles_total",
			Help: "Total number of completed roster refresh cycles",
		},
	)

	// ProbeRequestsTotal counts /probe requests by final HTTP status.
	ProbeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlnog_exporter_probe_requests_total",
			Help: "Total number of /probe HTTP requests by response status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		RosterSize,
		SessionsByHealth,
		CatalogFetchDuration,
		RefreshCyclesTotal,
		ProbeRequestsTotal,
	)
}

// Handler returns the Prometheus HTTP handler for the exporter's own
// operational metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing an operation and recording its duration
// to a histogram once it completes.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
