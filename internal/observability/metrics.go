package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "precip_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL pipeline.
type Metrics struct {
	PipelineRunning prometheus.Gauge

	// Unit metrics. labels: stage={aggregate,regrid}, status={succeeded,failed}
	Units        *prometheus.CounterVec
	UnitDuration *prometheus.HistogramVec // labels: stage

	// Period read metrics, labelled by dataset.
	PeriodsLoaded  *prometheus.CounterVec
	PeriodsSkipped *prometheus.CounterVec // labels: dataset, reason

	// Regrid and mask repair metrics.
	RegridDuration    prometheus.Histogram
	CellsReconciled   *prometheus.CounterVec // labels: dataset
	ProductsWritten   *prometheus.CounterVec // labels: kind
	NotifyFailures    prometheus.Counter
	FieldCacheEntries prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.Units,
		m.UnitDuration,
		m.PeriodsLoaded,
		m.PeriodsSkipped,
		m.RegridDuration,
		m.CellsReconciled,
		m.ProductsWritten,
		m.NotifyFailures,
		m.FieldCacheEntries,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a run is in progress, 0 otherwise.",
		}),
		Units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Dataset x season units processed, by stage and status.",
		}, []string{"stage", "status"}),
		UnitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unit_duration_seconds",
			Help:      "Wall time of one unit, by stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"stage"}),
		PeriodsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "periods_loaded_total",
			Help:      "Period reads that contributed to a series.",
		}, []string{"dataset"}),
		PeriodsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "periods_skipped_total",
			Help:      "Period reads left out of a series, by reason.",
		}, []string{"dataset", "reason"}),
		RegridDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "regrid_duration_seconds",
			Help:      "Duration of one conservative regrid.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		CellsReconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_reconciled_total",
			Help:      "Zero-filled cells masked during mask repair.",
		}, []string{"dataset"}),
		ProductsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_written_total",
			Help:      "Product files written, by kind.",
		}, []string{"kind"}),
		NotifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Unit results that could not be published.",
		}),
		FieldCacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "field_cache_entries",
			Help:      "Configured field cache capacity; 0 when caching is off.",
		}),
	}
}
