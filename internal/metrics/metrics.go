package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	registry *prometheus.Registry

	OracleRequests  *prometheus.CounterVec
	OracleErrors    *prometheus.CounterVec
	OracleDurations prometheus.Histogram

	ServiceSessions     prometheus.Counter
	ServiceBytes        prometheus.Counter
	ServiceGuesses      *prometheus.CounterVec
	ServiceTerminations *prometheus.CounterVec

	HarvestTrials      prometheus.Counter
	HarvestFixedPoints prometheus.Counter
	HarvestCoverage    prometheus.Gauge

	RecoveryCandidates prometheus.Counter
	RecoveryDurations  prometheus.Histogram
}

func New() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	c := &Collector{
		registry: registry,

		OracleRequests: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_requests_total",
			Help: "The total number of requests sent to the oracle",
		}, []string{"type"}),
		OracleErrors: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "oracle_errors_total",
			Help: "The total number of failed oracle requests",
		}, []string{"type"}),
		OracleDurations: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name: "oracle_duration_seconds",
			Help: "Duration of oracle round trips",
		}),
		ServiceSessions: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "service_sessions_total",
			Help: "The total number of cipher sessions initialized by the service",
		}),
		ServiceBytes: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "service_encrypted_bytes_total",
			Help: "The total number of bytes encrypted by the service",
		}),
		ServiceGuesses: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "service_guesses_total",
			Help: "The total number of key guesses received by the service",
		}, []string{"verdict"}),
		ServiceTerminations: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "service_terminations_total",
			Help: "The total number of connections terminated by the service",
		}, []string{"reason"}),
		HarvestTrials: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "harvest_trials_total",
			Help: "The total number of repeated-byte trials submitted to the oracle",
		}),
		HarvestFixedPoints: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "harvest_fixed_points_total",
			Help: "The total number of table-update fixed points detected",
		}),
		HarvestCoverage: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "harvest_leakage_coverage",
			Help: "The fraction of byte positions with known leakage",
		}),
		RecoveryCandidates: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "recovery_candidates_total",
			Help: "The total number of low-key candidates checked",
		}),
		RecoveryDurations: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name: "recovery_duration_seconds",
			Help: "Duration of key recovery runs",
		}),
	}

	return c
}

func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}
