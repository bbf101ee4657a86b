package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations.
	OutcomeError = "error"

	// IngestCreated labels signals that opened a new incident.
	IngestCreated = "created"
	// IngestCorrelated labels signals merged into an open incident.
	IngestCorrelated = "correlated"
)

var (
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autoheal",
			Name:      "signals_total",
			Help:      "Total ingested anomaly/log signals, partitioned by correlation outcome.",
		},
		[]string{"outcome"},
	)

	healingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autoheal",
			Name:      "healings_total",
			Help:      "Total finished healing runs, partitioned by terminal status.",
		},
		[]string{"status"},
	)

	healingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "autoheal",
			Name:      "healing_seconds",
			Help:      "Healing pipeline duration in seconds, trigger to terminal state.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autoheal",
			Name:      "actions_total",
			Help:      "Total dispatched healing actions, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	auditRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "autoheal",
			Name:      "audit_records_total",
			Help:      "Total audit records written.",
		},
	)

	httpRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "autoheal",
			Name:      "http_request_seconds",
			Help:      "HTTP request latency in seconds by route and status class.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"route", "status"},
	)
)

// Register attaches autoheal collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		signalsTotal,
		healingsTotal,
		healingDurationSeconds,
		actionsTotal,
		auditRecordsTotal,
		httpRequestSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIngest records a signal ingestion outcome (created or correlated).
func ObserveIngest(outcome string) {
	signalsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHealing records a finished healing run.
func ObserveHealing(status string, duration time.Duration) {
	healingsTotal.WithLabelValues(status).Inc()
	if duration < 0 {
		duration = 0
	}
	healingDurationSeconds.Observe(duration.Seconds())
}

// ObserveAction records a single dispatched action outcome.
func ObserveAction(success bool) {
	label := OutcomeSuccess
	if !success {
		label = OutcomeError
	}
	actionsTotal.WithLabelValues(label).Inc()
}

// ObserveAuditRecord counts one audit trail write.
func ObserveAuditRecord() {
	auditRecordsTotal.Inc()
}

// ObserveHTTPRequest records request latency for a route and status class.
func ObserveHTTPRequest(route, status string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	httpRequestSeconds.WithLabelValues(route, status).Observe(duration.Seconds())
}
