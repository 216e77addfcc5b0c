package intake

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the intake pipeline.
type Metrics struct {
	EventsTotal      *prometheus.CounterVec
	EventScore       *prometheus.HistogramVec
	AlertsTotal      *prometheus.CounterVec
	NotifyDuration   prometheus.Histogram
	StoreErrors      *prometheus.CounterVec
	RetentionRuns    prometheus.Counter
	RetentionDeleted prometheus.Counter
	CSPReportsTotal  prometheus.Counter
}

// NewMetrics registers and returns intake metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_events_total",
			Help: "Total events accepted by channel and classification.",
		}, []string{"channel", "classification"}),
		EventScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_event_score",
			Help:    "Risk score distribution by channel.",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0 .. 100
		}, []string{"channel"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_alerts_total",
			Help: "Alert gate outcomes for triggering events.",
		}, []string{"outcome"}),
		NotifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "intake_notify_duration_seconds",
			Help:    "Duration of notifier sends in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_store_errors_total",
			Help: "Store failures by operation.",
		}, []string{"op"}),
		RetentionRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_retention_runs_total",
			Help: "Total retention manager executions.",
		}),
		RetentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_retention_deleted_total",
			Help: "Total events removed by retention runs.",
		}),
		CSPReportsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_csp_reports_total",
			Help: "Total policy-violation reports recorded.",
		}),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.EventScore,
		m.AlertsTotal,
		m.NotifyDuration,
		m.StoreErrors,
		m.RetentionRuns,
		m.RetentionDeleted,
		m.CSPReportsTotal,
	)

	return m
}

// Alert gate outcome labels.
const (
	AlertSent          = "sent"
	AlertFailed        = "failed"
	AlertSuppressedCap = "suppressed_cap"
	AlertSuppressedDup = "suppressed_dedup"
	AlertSkippedConfig = "skipped_no_notifier"
)
