package server

import (
	"time"

	"github.com/iwvelando/indirect-rates/internal/compare"
	"github.com/iwvelando/indirect-rates/internal/report"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

type metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	breaches *prometheus.CounterVec
	warnings prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "indirect_rates",
				Name:      "forecast_runs_total",
				Help:      "Forecast requests by outcome",
			},
			[]string{"outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "indirect_rates",
				Name:      "forecast_duration_seconds",
				Help:      "Forecast request duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		breaches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "indirect_rates",
				Name:      "threshold_breaches_total",
				Help:      "Rate periods computed above their threshold",
			},
			[]string{"scenario", "rate"},
		),
		warnings: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "indirect_rates",
				Name:      "forecast_warnings_total",
				Help:      "Warnings attached to forecast outputs",
			},
		),
	}
}

func (m *metrics) observe(outcome string, elapsed time.Duration) {
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *metrics) record(outputs []report.Output) {
	for _, out := range outputs {
		for _, r := range compare.Breaches(out.Comparison) {
			m.breaches.WithLabelValues(out.Scenario, r.RateName).Inc()
		}
		m.warnings.Add(float64(len(out.Warnings)))
	}
}
