// Package metrics exposes the Prometheus counters/histograms optionally
// attached to a dbcore.Base or backup.Service (SPEC_FULL.md's domain-stack
// metrics surface, modeled on the teacher's stats package conventions).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every counter/histogram this module emits. A nil
// *Registry is valid everywhere it's accepted: all Observe methods are
// nil-receiver safe no-ops, so callers that never opt in pay nothing.
type Registry struct {
	dbOperations   *prometheus.CounterVec
	backupRuns     *prometheus.CounterVec
	backupDuration prometheus.Histogram
}

// NewRegistry builds a Registry and registers its collectors against reg.
// Pass prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to expose on the process-wide /metrics
// endpoint.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		dbOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crosscloudkit",
			Subsystem: "dbcore",
			Name:      "operations_total",
			Help:      "Count of Database operations, by table and operation name.",
		}, []string{"table", "op"}),
		backupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crosscloudkit",
			Subsystem: "backup",
			Name:      "runs_total",
			Help:      "Count of TakeBackup/RestoreBackup runs, by operation and outcome.",
		}, []string{"op", "outcome"}),
		backupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crosscloudkit",
			Subsystem: "backup",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of TakeBackup/RestoreBackup runs.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(r.dbOperations, r.backupRuns, r.backupDuration)
	return r
}

// ObserveDBOperation records one dbcore.Database operation against table.
func (r *Registry) ObserveDBOperation(table, op string) {
	if r == nil {
		return
	}
	r.dbOperations.WithLabelValues(table, op).Inc()
}

// ObserveBackupRun records one backup/restore run's outcome and duration.
func (r *Registry) ObserveBackupRun(op, outcome string, durationSeconds float64) {
	if r == nil {
		return
	}
	r.backupRuns.WithLabelValues(op, outcome).Inc()
	r.backupDuration.Observe(durationSeconds)
}
