// Package metrics holds the run counters. They register on the default
// Prometheus registry and are exported to a textfile at the end of a run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SourcesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_sources_accepted_total",
			Help: "Total number of sources accepted into the catalog",
		},
	)

	SourcesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tessera_sources_rejected_total",
			Help: "Total number of sources rejected during validation",
		},
		[]string{"reason"},
	)

	CellsBuilt = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_cells_built_total",
			Help: "Total number of cell mosaics written",
		},
	)

	CellsEmpty = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_cells_empty_total",
			Help: "Total number of planned cells dropped because no source overlaps them",
		},
	)

	CellBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tessera_cell_build_duration_seconds",
			Help:    "Cell mosaic build duration in seconds, overviews included",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
	)

	OverviewLevels = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tessera_overview_levels_total",
			Help: "Total number of overview levels rendered",
		},
	)

	LastRunEnd = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tessera_last_run_end_timestamp",
			Help: "Unix timestamp of when the last mosaic build ended",
		},
	)
)

// WriteTextfile writes every registered metric to path in the text
// exposition format, for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
