// Package metrics exposes Prometheus counters for check-in outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckInOutcomes counts check-in attempts by final status and, for
	// rejections, the reason code.
	CheckInOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sonta",
		Subsystem: "checkin",
		Name:      "outcomes_total",
		Help:      "Check-in attempts by outcome status and rejection code.",
	}, []string{"status", "code"})

	// QrValidations counts QR token validations by result.
	QrValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sonta",
		Subsystem: "qr",
		Name:      "validations_total",
		Help:      "QR token validations by result.",
	}, []string{"result"})

	// Reviews counts admin review decisions.
	Reviews = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sonta",
		Subsystem: "review",
		Name:      "decisions_total",
		Help:      "Admin review decisions by outcome.",
	}, []string{"decision"})

	// FaceLatency observes identity matcher round-trip time.
	FaceLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sonta",
		Subsystem: "face",
		Name:      "match_duration_seconds",
		Help:      "Identity matcher round-trip latency.",
		Buckets:   prometheus.DefBuckets,
	})
)

// ObserveOutcome records one check-in outcome.
func ObserveOutcome(status, code string) {
	if code == "" {
		code = "none"
	}
	CheckInOutcomes.WithLabelValues(status, code).Inc()
}
