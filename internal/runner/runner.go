// Package runner drives pipeline runs: it owns the stage state machine and
// the run-level lifecycle around it.
//
// A run proceeds strictly in declaration order. Each stage passes through
// idempotency evaluation, the offline guard, lock acquisition, checkpoint
// seeding, and the retried executor; every terminal outcome is persisted
// atomically before the next stage starts. The first failed stage fails the
// run and the remaining stages are not attempted.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ashita-ai/stagehand/internal/audit"
	"github.com/ashita-ai/stagehand/internal/config"
	"github.com/ashita-ai/stagehand/internal/executor"
	"github.com/ashita-ai/stagehand/internal/guard"
	"github.com/ashita-ai/stagehand/internal/layout"
	"github.com/ashita-ai/stagehand/internal/lock"
	"github.com/ashita-ai/stagehand/internal/model"
	"github.com/ashita-ai/stagehand/internal/spec"
	"github.com/ashita-ai/stagehand/internal/storage"
)

// ErrRunFailed is returned by Run when the pipeline terminated in the
// failed state. The run record and metrics document are still written.
var ErrRunFailed = errors.New("runner: run failed")

// Runner executes pipeline runs against one repository layout.
type Runner struct {
	cfg    config.Config
	layout layout.PathLayout
	store  *storage.Store
	locks  *lock.Manager
	exec   *executor.Executor
	logger *slog.Logger
	stdout io.Writer
}

// New returns a Runner for cfg. logger defaults to slog.Default and stdout
// to os.Stdout.
func New(cfg config.Config, logger *slog.Logger, stdout io.Writer) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	lay := layout.New(cfg.Root)
	return &Runner{
		cfg:    cfg,
		layout: lay,
		store:  storage.NewStore(lay),
		locks:  lock.NewManager(lay, logger),
		exec:   executor.New(lay, cfg.ExecTimeout, logger),
		logger: logger,
		stdout: stdout,
	}
}

// Layout exposes the runner's path layout, mainly for tests.
func (r *Runner) Layout() layout.PathLayout { return r.layout }

// Run executes the pipeline declared at pipelinePath under runID.
// validateOffline scans every stage processor before any artifact is
// written. Returns nil when the run completed (including all-skipped),
// ErrRunFailed when a stage failed, and other errors for declaration or
// persistence faults.
func (r *Runner) Run(ctx context.Context, pipelinePath, runID string, validateOffline bool) error {
	if err := r.layout.EnsureDirs(); err != nil {
		return err
	}

	pipeline, err := spec.Load(pipelinePath)
	if err != nil {
		return err
	}

	if validateOffline {
		procs := make([]string, 0, len(pipeline.Stages))
		for _, st := range pipeline.Stages {
			procs = append(procs, r.layout.ResolvePath(st.Processor))
		}
		if err := guard.ScanAll(ctx, procs); err != nil {
			return fmt.Errorf("offline validation: %w", err)
		}
		fmt.Fprintln(r.stdout, "[OFFLINE] Validation passed")
	}

	var trail *audit.Trail
	if r.cfg.Audit {
		trail = audit.NewTrail(r.layout.AuditPath(runID))
	}
	r.audit(trail, "run_start", "", fmt.Sprintf("Pipeline %s", pipeline.Name), nil)

	run := model.RunRecord{
		RunID:     runID,
		Pipeline:  pipeline.Name,
		Version:   pipeline.Version,
		StartedAt: time.Now().UTC(),
		State:     model.RunStateRunning,
	}
	if err := r.store.SaveRun(run); err != nil {
		return err
	}

	run.State = model.RunStateCompleted
	outcomes := make([]model.StageOutcome, 0, len(pipeline.Stages))
	for _, st := range pipeline.Stages {
		outcome, err := r.runStage(ctx, st, runID, trail)
		if err != nil {
			// Persistence fault inside the stage; the run aborts
			// without metrics rather than recording bogus state.
			return err
		}
		outcomes = append(outcomes, outcome)
		if outcome.Status == model.StageStatusFailed {
			run.State = model.RunStateFailed
			break
		}
	}

	ended := time.Now().UTC()
	run.EndedAt = &ended
	if err := r.store.SaveRun(run); err != nil {
		return err
	}
	if err := r.store.SaveMetrics(model.AggregateMetrics(runID, ended, outcomes)); err != nil {
		return err
	}
	r.audit(trail, "run_end", "", string(run.State), nil)
	fmt.Fprintf(r.stdout, "Run %s state: %s\n", runID, run.State)

	if run.State == model.RunStateFailed {
		return ErrRunFailed
	}
	return nil
}

// audit appends a trail event when auditing is enabled. Audit faults are
// logged, not fatal: the trail is an observability artifact, not state.
func (r *Runner) audit(trail *audit.Trail, event, stage, message string, extra map[string]any) {
	if trail == nil {
		return
	}
	if err := trail.Append(event, stage, message, extra); err != nil {
		r.logger.Error("audit append failed", "event", event, "stage", stage, "error", err)
	}
}
