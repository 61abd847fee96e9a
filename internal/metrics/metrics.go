// Package metrics defines the Prometheus counters exposed by the
// validation service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineRuns counts finished validation runs by result
	// ("published", "ready_for_review", "failed", "error").
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revsync_pipeline_runs_total",
		Help: "Validation pipeline runs by final result.",
	}, []string{"result"})

	// StageFailures counts the stage at which a run was blocked.
	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revsync_pipeline_stage_failures_total",
		Help: "Blocking failures by pipeline stage.",
	}, []string{"stage"})

	// EnforcementActions counts enforcement operations by audit action tag.
	EnforcementActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revsync_enforcement_actions_total",
		Help: "Enforcement actions taken.",
	}, []string{"action"})

	// ScanModes counts which scanner produced the malware verdict per run.
	ScanModes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revsync_scan_mode_total",
		Help: "Malware scan mode used per pipeline run.",
	}, []string{"mode"})
)
