// Package metrics holds the Prometheus counters shared by the QC services
// and the stores.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opine_submissions_total",
		Help: "Submitted responses by initial status",
	}, []string{"status"})

	autoRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opine_auto_rejections_total",
		Help: "Auto-rejection reasons applied",
	}, []string{"reason"})

	guardCorrectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opine_guard_corrections_total",
		Help: "Abandoned-invariant guard activations by layer",
	}, []string{"layer"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opine_transitions_total",
		Help: "Status transitions by name and outcome",
	}, []string{"transition", "outcome"})

	batchItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opine_batch_items_total",
		Help: "Maintenance job items by job and outcome",
	}, []string{"job", "outcome"})
)

// Guard layers, used as metric labels and log attributes.
const (
	GuardPreCheck       = "pre_check"
	GuardPreWrite       = "pre_write"
	GuardStorageHook    = "storage_hook"
	GuardValidationHook = "validation_hook"
)

func RecordSubmission(status string) { submissionsTotal.WithLabelValues(status).Inc() }

func RecordAutoRejection(reasons ...string) {
	for _, r := range reasons {
		autoRejectionsTotal.WithLabelValues(r).Inc()
	}
}

// RecordGuardCorrection counts one activation of an abandoned-invariant guard layer.
func RecordGuardCorrection(layer string) {
	guardCorrectionsTotal.WithLabelValues(layer).Inc()
}

func RecordTransition(name, outcome string) {
	transitionsTotal.WithLabelValues(name, outcome).Inc()
}

func RecordBatchItem(job, outcome string) {
	batchItemsTotal.WithLabelValues(job, outcome).Inc()
}
