// Package metrics exposes Prometheus collectors for the listener.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	listenerCyclesTotal          *prometheus.CounterVec
	listenerCycleDurationSeconds prometheus.Histogram
	listenerPagesFetchedTotal    prometheus.Counter
	listenerRowsScrapedTotal     prometheus.Counter
	listenerRowsUpsertedTotal    prometheus.Counter
	listenerGeoRowsTotal         prometheus.Counter
	listenerDetailFailuresTotal  prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		listenerCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listener_cycles_total",
				Help: "Total number of scrape cycles, labeled by trigger and outcome.",
			},
			[]string{"trigger", "outcome"},
		)

		listenerCycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "listener_cycle_duration_seconds",
				Help:    "Histogram of scrape cycle durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
		)

		listenerPagesFetchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "listener_pages_fetched_total",
				Help: "Total listing pages fetched across all cycles.",
			},
		)

		listenerRowsScrapedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "listener_rows_scraped_total",
				Help: "Total rows collected across all cycles.",
			},
		)

		listenerRowsUpsertedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "listener_rows_upserted_total",
				Help: "Total rows upserted into the database.",
			},
		)

		listenerGeoRowsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "listener_geo_rows_total",
				Help: "Total upserted rows carrying usable coordinates.",
			},
		)

		listenerDetailFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "listener_detail_fetch_failures_total",
				Help: "Total per-item detail fetches that fell back to summary-only data.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records one finished cycle.
func ObserveCycle(trigger, outcome string, duration time.Duration) {
	listenerCyclesTotal.WithLabelValues(trigger, outcome).Inc()
	listenerCycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveBatch records the size of a collected and persisted batch.
func ObserveBatch(pagesFetched, scrapedRows, upsertedRows, geoRows int) {
	listenerPagesFetchedTotal.Add(float64(pagesFetched))
	listenerRowsScrapedTotal.Add(float64(scrapedRows))
	listenerRowsUpsertedTotal.Add(float64(upsertedRows))
	listenerGeoRowsTotal.Add(float64(geoRows))
}

// ObserveDetailFailures adds to the summary-only fallback counter.
func ObserveDetailFailures(n int) {
	if n > 0 {
		listenerDetailFailuresTotal.Add(float64(n))
	}
}
