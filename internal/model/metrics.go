package model

import "time"

// StageOutcome is one entry in the metrics document's per-stage list.
// Stages never attempted (those after a failed stage) do not appear.
type StageOutcome struct {
	Stage       string      `json:"stage"`
	Status      StageStatus `json:"status"`
	DurationSec *float64    `json:"durationSec,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// MetricsDocument aggregates per-stage outcomes for one run, written exactly
// once at run termination to state/metrics_{runId}.json.
// TotalStages always equals OkStages + SkippedStages + FailedStages.
type MetricsDocument struct {
	RunID         string         `json:"runId"`
	Timestamp     time.Time      `json:"timestamp"`
	Stages        []StageOutcome `json:"stages"`
	TotalStages   int            `json:"totalStages"`
	OkStages      int            `json:"okStages"`
	SkippedStages int            `json:"skippedStages"`
	FailedStages  int            `json:"failedStages"`
}

// AggregateMetrics builds the metrics document from the outcomes of the
// stages that were evaluated, in order.
func AggregateMetrics(runID string, now time.Time, outcomes []StageOutcome) MetricsDocument {
	m := MetricsDocument{
		RunID:       runID,
		Timestamp:   now,
		Stages:      outcomes,
		TotalStages: len(outcomes),
	}
	for _, o := range outcomes {
		switch o.Status {
		case StageStatusOK:
			m.OkStages++
		case StageStatusSkipped:
			m.SkippedStages++
		case StageStatusFailed:
			m.FailedStages++
		}
	}
	return m
}

// Checkpoint is the resumable-progress document shared between processor and
// orchestrator (state/progress_{stageName}.json). The processor rewrites it
// atomically during execution; the orchestrator reads it before invocation.
type Checkpoint struct {
	LineOffset int64 `json:"lineOffset"`
}
