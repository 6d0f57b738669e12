package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ashita-ai/stagehand/internal/audit"
	"github.com/ashita-ai/stagehand/internal/checkpoint"
	"github.com/ashita-ai/stagehand/internal/executor"
	"github.com/ashita-ai/stagehand/internal/guard"
	"github.com/ashita-ai/stagehand/internal/idempotency"
	"github.com/ashita-ai/stagehand/internal/model"
	"github.com/ashita-ai/stagehand/internal/retry"
	"github.com/ashita-ai/stagehand/internal/storage"
)

// runStage drives one stage through the state machine:
//
//	pending -> (evaluating) -> { skipped |
//	    locked -> running -> (retrying)* -> { ok | failed } }
//
// The returned error is non-nil only for persistence faults, which abort
// the whole run; every stage-level failure is reported in the outcome.
func (r *Runner) runStage(ctx context.Context, st model.StageSpec, runID string, trail *audit.Trail) (model.StageOutcome, error) {
	name := st.Name

	if err := os.MkdirAll(r.layout.ResolveOutputDir(st.OutputDir), 0o755); err != nil {
		return model.StageOutcome{}, fmt.Errorf("create output dir for %s: %w", name, err)
	}

	rec, err := r.store.LoadStage(name)
	hasRecord := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return model.StageOutcome{}, err
	}

	var key string
	if st.Idempotency.Enabled {
		key, err = r.computeKey(st)
		if err != nil {
			return model.StageOutcome{}, err
		}
		marker := r.store.MarkerExists(st.OutputDir, name)
		if idempotency.ShouldSkip(true, rec, hasRecord, key, marker) {
			fmt.Fprintf(r.stdout, "[SKIP] %s (idempotent key matched)\n", name)
			r.audit(trail, "skip", name, "idempotent key matched", nil)
			rec.LastStatus = model.StageStatusSkipped
			if err := r.store.SaveStage(name, rec); err != nil {
				return model.StageOutcome{}, err
			}
			return model.StageOutcome{Stage: name, Status: model.StageStatusSkipped}, nil
		}
	}

	// A processor that disappeared since the last run is a stage failure,
	// not a guard or declaration error.
	procPath := r.layout.ResolvePath(st.Processor)
	if _, err := os.Stat(procPath); err != nil {
		return r.failStage(name, rec, nil,
			fmt.Errorf("%w: %s", executor.ErrProcessorMissing, st.Processor), trail)
	}

	// The guard runs once per executed stage, immediately before any
	// execution machinery; skipped stages never reach it.
	if err := guard.Check(procPath); err != nil {
		return r.failStage(name, rec, nil, err, trail)
	}

	if err := r.locks.Acquire(ctx, name, r.cfg.LockTimeout); err != nil {
		return r.failStage(name, rec, nil, err, trail)
	}
	defer r.locks.Release(name)

	start := time.Now()
	attempts := 0
	var saveErr error

	retryErr := retry.Do(ctx, st.Retry, func(n int) (bool, error) {
		attempts = n

		var offset int64
		if st.Checkpoint.Enabled {
			offset = checkpoint.Load(r.layout, name)
			if offset > 0 {
				fmt.Fprintf(r.stdout, "[RESUME] %s from line %d\n", name, offset)
			}
		}

		r.audit(trail, "start", name, fmt.Sprintf("Attempt %d", n), nil)
		att := model.AttemptRecord{Attempt: n, StartedAt: time.Now().UTC()}

		res, execErr := r.exec.Run(ctx, executor.Invocation{
			Stage:      st,
			RunID:      runID,
			LineOffset: offset,
			Attempt:    n,
		})
		att.EndedAt = time.Now().UTC()

		if execErr != nil {
			// The child never started: terminal by definition.
			att.Status = "failed"
			att.Error = execErr.Error()
			if err := r.recordAttempt(name, &rec, att); err != nil {
				saveErr = err
			}
			r.audit(trail, "fail", name, execErr.Error(), map[string]any{"attempt": n})
			return false, execErr
		}

		code := res.ExitCode
		att.ExitCode = &code
		att.StdoutTail = res.StdoutTail
		att.StderrTail = res.StderrTail

		if res.Outcome() == executor.OutcomeSuccess {
			att.Status = "ok"
			if err := r.recordAttempt(name, &rec, att); err != nil {
				saveErr = err
			}
			return false, nil
		}

		failErr := executionError(res)
		att.Status = "failed"
		att.Error = failErr.Error()
		if err := r.recordAttempt(name, &rec, att); err != nil {
			saveErr = err
		}
		r.audit(trail, "fail", name, failErr.Error(), map[string]any{"attempt": n, "exitCode": res.ExitCode})
		return res.Outcome() == executor.OutcomeTransient, failErr
	})
	if saveErr != nil {
		return model.StageOutcome{}, saveErr
	}

	duration := time.Since(start).Seconds()
	rec.LastDurationSec = duration
	rec.Attempts = attempts

	if retryErr != nil {
		return r.failStage(name, rec, &duration, retryErr, trail)
	}

	// Success. The stage record carries the new idempotency key before the
	// completion marker appears: the marker asserts "done under the
	// persisted key", so the ordering is load-bearing for crash safety.
	now := time.Now().UTC()
	rec.LastStatus = model.StageStatusOK
	rec.LastCompletedAt = &now
	rec.LastError = ""
	if st.Idempotency.Enabled {
		rec.IdempotencyKey = key
	}
	if err := r.store.SaveStage(name, rec); err != nil {
		return model.StageOutcome{}, err
	}
	if err := r.store.WriteMarker(st.OutputDir, name); err != nil {
		return model.StageOutcome{}, err
	}
	if st.Checkpoint.Enabled {
		if err := checkpoint.Snapshot(r.layout, name); err != nil {
			return model.StageOutcome{}, err
		}
	}

	r.audit(trail, "done", name, fmt.Sprintf("Duration %.3fs", duration), map[string]any{"attempts": attempts})
	fmt.Fprintf(r.stdout, "[DONE] %s in %.3fs\n", name, duration)
	return model.StageOutcome{Stage: name, Status: model.StageStatusOK, DurationSec: &duration}, nil
}

// failStage persists a terminal failure. The idempotency key is left
// untouched so the stage's historical skip semantics survive the failure,
// and no completion marker is written.
func (r *Runner) failStage(name string, rec model.StageRecord, duration *float64, cause error, trail *audit.Trail) (model.StageOutcome, error) {
	rec.LastStatus = model.StageStatusFailed
	rec.LastError = cause.Error()
	if duration != nil {
		rec.LastDurationSec = *duration
	}
	if err := r.store.SaveStage(name, rec); err != nil {
		return model.StageOutcome{}, err
	}
	r.audit(trail, "fail", name, cause.Error(), nil)
	fmt.Fprintf(r.stdout, "[FAIL] %s: %s\n", name, cause)
	return model.StageOutcome{
		Stage:       name,
		Status:      model.StageStatusFailed,
		DurationSec: duration,
		Error:       cause.Error(),
	}, nil
}

// recordAttempt appends one attempt to the record and persists it, so the
// history survives a crash mid-retry.
func (r *Runner) recordAttempt(name string, rec *model.StageRecord, att model.AttemptRecord) error {
	rec.AppendAttempt(att)
	return r.store.SaveStage(name, *rec)
}

// computeKey resolves the stage's inputs and processor against the layout
// root and computes the idempotency key.
func (r *Runner) computeKey(st model.StageSpec) (string, error) {
	inputs := make([]string, len(st.Inputs))
	for i, in := range st.Inputs {
		inputs[i] = r.layout.ResolvePath(in)
	}
	return idempotency.ComputeKey(inputs, r.layout.ResolvePath(st.Processor), st.Params)
}

// executionError renders a failed executor result the way operators read
// it: the stderr tail when present, then stdout, then the bare exit status.
func executionError(res executor.Result) error {
	if res.TimedOut {
		return fmt.Errorf("processor timed out (transient)")
	}
	detail := res.StderrTail
	if detail == "" {
		detail = res.StdoutTail
	}
	if detail == "" {
		return fmt.Errorf("exit %d", res.ExitCode)
	}
	return fmt.Errorf("exit %d: %s", res.ExitCode, detail)
}
