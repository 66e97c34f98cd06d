// Package metrics exposes Prometheus counters for the ingestion pipeline
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReadingsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "river_levels_readings_ingested_total",
			Help: "Readings committed to the store by station and ingestion mode.",
		},
		[]string{"station", "mode"},
	)

	ArchiveRowsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "river_levels_archive_rows_dropped_total",
			Help: "Archive lines rejected by the parser by station.",
		},
		[]string{"station"},
	)

	Invocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "river_levels_invocations_total",
			Help: "Handled invocations by mode and result (ingested, unchanged, error, ignored).",
		},
		[]string{"mode", "result"},
	)
)

func init() {
	prometheus.MustRegister(ReadingsIngested, ArchiveRowsDropped, Invocations)
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
