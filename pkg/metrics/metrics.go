// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	StageRunsTotal       *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
	ProposalsTotal       *prometheus.CounterVec
	CommitsTotal         prometheus.Counter
	CommitConflictsTotal prometheus.Counter
	RollbacksTotal       prometheus.Counter
	CompletionCallsTotal *prometheus.CounterVec
}

// New registers all metrics on reg. Pass a private registry in tests; nil
// falls back to the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		StageRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docuflow_stage_runs_total",
				Help: "Stage transitions attempted, by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docuflow_stage_duration_seconds",
				Help:    "Duration of stage transitions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		ProposalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docuflow_proposals_total",
				Help: "Agent proposals by stage and validation decision",
			},
			[]string{"stage", "decision"},
		),
		CommitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "docuflow_version_commits_total",
				Help: "Committed document versions",
			},
		),
		CommitConflictsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "docuflow_version_commit_conflicts_total",
				Help: "Optimistic-concurrency commit conflicts",
			},
		),
		RollbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "docuflow_rollbacks_total",
				Help: "Rollbacks to a previously committed version",
			},
		),
		CompletionCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docuflow_completion_calls_total",
				Help: "Completion service calls by outcome",
			},
			[]string{"outcome"},
		),
	}
}
