// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xtxerr/telemetry/internal/ingestion"
	"github.com/xtxerr/telemetry/internal/telemetry"
)

const metricPrefix = "telemetry_"

// Metrics bundles ingestion metrics. It implements ingestion.Reporter.
type Metrics struct {
	BatchesTotal       prometheus.Counter
	RecordsTotal       *prometheus.CounterVec
	RejectionsTotal    *prometheus.CounterVec
	SinkFailuresTotal  *prometheus.CounterVec
	DeadLetterFailures prometheus.Counter
	BatchQualityTotal  *prometheus.CounterVec
	BatchErrorRate     prometheus.Gauge
	BatchDuration      prometheus.Histogram
	RunsTotal          *prometheus.CounterVec
}

var _ ingestion.Reporter = (*Metrics)(nil)

// New constructs the metrics and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		BatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "batches_total",
			Help: "Total batches processed",
		}),
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "records_total",
				Help: "Total raw records by result",
			},
			[]string{"result"},
		),
		RejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rejections_total",
				Help: "Total rejected records by cause",
			},
			[]string{"cause"},
		),
		SinkFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sink_failures_total",
				Help: "Total batches a sink failed to persist",
			},
			[]string{"sink"},
		),
		DeadLetterFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "dead_letter_failures_total",
			Help: "Total batches with a failed dead-letter append",
		}),
		BatchQualityTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "batch_quality_total",
				Help: "Total batch quality checks by status",
			},
			[]string{"status"},
		),
		BatchErrorRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "batch_error_rate",
			Help: "Error rate of the most recent batch quality check",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "batch_duration_seconds",
			Help:    "Batch processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "runs_total",
				Help: "Total ingestion runs by stop reason",
			},
			[]string{"stopped"},
		),
	}

	reg.MustRegister(
		m.BatchesTotal,
		m.RecordsTotal,
		m.RejectionsTotal,
		m.SinkFailuresTotal,
		m.DeadLetterFailures,
		m.BatchQualityTotal,
		m.BatchErrorRate,
		m.BatchDuration,
		m.RunsTotal,
	)
	return m
}

// BatchProcessed records one batch outcome.
func (m *Metrics) BatchProcessed(r ingestion.BatchResult) {
	m.BatchesTotal.Inc()
	m.RecordsTotal.WithLabelValues("accepted").Add(float64(r.Accepted))
	m.RecordsTotal.WithLabelValues("rejected").Add(float64(r.Rejected))

	m.RejectionsTotal.WithLabelValues("parse").Add(float64(r.ParseFailures))
	m.RejectionsTotal.WithLabelValues("validation").Add(float64(r.ValidationFailures))
	m.RejectionsTotal.WithLabelValues("internal").Add(float64(r.InternalFailures))

	if !r.DBOK {
		m.SinkFailuresTotal.WithLabelValues("db").Inc()
	}
	if !r.LakeOK {
		m.SinkFailuresTotal.WithLabelValues("lake").Inc()
	}
	if r.DeadLetterErr != nil {
		m.DeadLetterFailures.Inc()
	}

	if r.Quality.CheckType == telemetry.CheckBatch {
		m.BatchQualityTotal.WithLabelValues(string(r.Quality.Status)).Inc()
		m.BatchErrorRate.Set(r.Quality.Details.ErrorRate)
	}

	m.BatchDuration.Observe(r.Duration.Seconds())
}

// RunFinished records how a run ended.
func (m *Metrics) RunFinished(r ingestion.Report) {
	m.RunsTotal.WithLabelValues(string(r.Stopped)).Inc()
}
