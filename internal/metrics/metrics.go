// Package metrics exposes the Prometheus collectors the apply pipeline and
// HTTP surface report into.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all collectors for the perspective service.
type Registry struct {
	// Request-level metrics
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec

	// Pipeline metrics
	PerspectivesApplied prometheus.Counter
	RowsProcessed       *prometheus.CounterVec
	ReferenceFetches    *prometheus.CounterVec
}

// NewRegistry creates the collector set.
func NewRegistry() *Registry {
	return &Registry{
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perspective_request_duration_seconds",
				Help:    "End-to-end apply request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"status"},
		),
		RequestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perspective_request_errors_total",
				Help: "Total failed apply requests by error class",
			},
			[]string{"class"},
		),
		PerspectivesApplied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "perspective_applications_total",
				Help: "Total (configuration, perspective) pairs evaluated",
			},
		),
		RowsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perspective_rows_processed_total",
				Help: "Total relation rows scanned by the plan",
			},
			[]string{"relation"},
		),
		ReferenceFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perspective_reference_fetches_total",
				Help: "Total reference-table fetches by table",
			},
			[]string{"table"},
		),
	}
}

// Register attaches every collector to a Prometheus registry.
func (r *Registry) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		r.RequestDuration,
		r.RequestErrors,
		r.PerspectivesApplied,
		r.RowsProcessed,
		r.ReferenceFetches,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
