// Package executor spawns stage processors and classifies their outcomes.
//
// Upstream code never touches process primitives: the executor owns argv
// construction, environment injection, the per-attempt timeout, and capture
// of bounded stdout/stderr tails for the stage record.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ashita-ai/stagehand/internal/layout"
	"github.com/ashita-ai/stagehand/internal/model"
)

// ErrProcessorMissing is returned when the processor file does not exist.
var ErrProcessorMissing = errors.New("executor: processor not found")

// transientExitCode is the processor exit code that signals a retryable
// failure. Every other non-zero exit is terminal.
const transientExitCode = 10

// tailLimit bounds captured stdout/stderr per stream.
const tailLimit = 4096

// Outcome classifies one processor invocation.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomeTerminal
)

// Result is the observable effect of one processor attempt.
type Result struct {
	ExitCode   int
	TimedOut   bool
	StdoutTail string
	StderrTail string
	Duration   time.Duration
}

// Outcome maps the result to the retry classification: exit 0 is success,
// exit 10 and timeouts are transient, everything else is terminal.
func (r Result) Outcome() Outcome {
	switch {
	case r.TimedOut:
		return OutcomeTransient
	case r.ExitCode == 0:
		return OutcomeSuccess
	case r.ExitCode == transientExitCode:
		return OutcomeTransient
	default:
		return OutcomeTerminal
	}
}

// Invocation describes one processor attempt.
type Invocation struct {
	Stage      model.StageSpec
	RunID      string
	LineOffset int64
	Attempt    int
}

// Executor runs processors under one layout with a fixed per-attempt
// timeout.
type Executor struct {
	layout  layout.PathLayout
	timeout time.Duration
	logger  *slog.Logger
}

// New returns an Executor. timeout bounds each attempt; on expiry the child
// is killed and the attempt is classified transient.
func New(l layout.PathLayout, timeout time.Duration, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{layout: l, timeout: timeout, logger: logger}
}

// Run executes one attempt. A missing processor returns ErrProcessorMissing
// without spawning; any other start failure is returned as an error and is
// likewise terminal (the child never started). A started child always
// yields a Result, never an error, regardless of exit code.
func (e *Executor) Run(ctx context.Context, inv Invocation) (Result, error) {
	procPath := e.layout.ResolvePath(inv.Stage.Processor)
	if _, err := os.Stat(procPath); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrProcessorMissing, inv.Stage.Processor)
	}

	env, err := e.buildEnv(inv)
	if err != nil {
		return Result{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, procPath, inv.Stage.Inputs...)
	cmd.Dir = e.layout.Root
	cmd.Env = env
	// Bound how long Wait lingers after the kill (or after exit) for
	// grandchildren that still hold the captured output pipes.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("executor: start %s: %w", inv.Stage.Processor, err)
	}
	waitErr := cmd.Wait()
	res := Result{
		StdoutTail: tail(stdout.Bytes()),
		StderrTail: tail(stderr.Bytes()),
		Duration:   time.Since(start),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		e.logger.Warn("processor timed out",
			"stage", inv.Stage.Name, "attempt", inv.Attempt, "timeout", e.timeout)
		return res, nil
	}
	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return Result{}, fmt.Errorf("executor: wait %s: %w", inv.Stage.Processor, waitErr)
	}
	res.ExitCode = 0
	return res, nil
}

// buildEnv returns the inherited environment augmented with the PIPELINE_*
// contract variables and the advisory resource hints.
func (e *Executor) buildEnv(inv Invocation) ([]string, error) {
	outputDir, err := absPath(e.layout.ResolveOutputDir(inv.Stage.OutputDir))
	if err != nil {
		return nil, err
	}
	progressPath, err := absPath(e.layout.ProgressPath(inv.Stage.Name))
	if err != nil {
		return nil, err
	}
	paramMap := inv.Stage.Params
	if paramMap == nil {
		paramMap = map[string]any{}
	}
	params, err := json.Marshal(paramMap)
	if err != nil {
		return nil, fmt.Errorf("executor: marshal params: %w", err)
	}

	env := append(os.Environ(),
		"PIPELINE_STAGE_NAME="+inv.Stage.Name,
		"PIPELINE_OUTPUT_DIR="+outputDir,
		"PIPELINE_RUN_ID="+inv.RunID,
		"PIPELINE_LINE_OFFSET="+strconv.FormatInt(inv.LineOffset, 10),
		"PIPELINE_LINE_INTERVAL="+strconv.Itoa(inv.Stage.Checkpoint.LineInterval),
		"PIPELINE_PROGRESS_PATH="+progressPath,
		"PIPELINE_PARAMS="+string(params),
		"PIPELINE_ATTEMPT="+strconv.Itoa(inv.Attempt),
	)
	if r := inv.Stage.Resources; r.CPUCores > 0 {
		env = append(env,
			"PIPELINE_RESOURCES_CPU_CORES="+strconv.Itoa(r.CPUCores),
			"OMP_NUM_THREADS="+strconv.Itoa(r.CPUCores),
		)
	}
	if r := inv.Stage.Resources; r.MemoryMB > 0 {
		env = append(env, "PIPELINE_RESOURCES_MEMORY_MB="+strconv.Itoa(r.MemoryMB))
	}
	if r := inv.Stage.Resources; r.IOConcurrency > 0 {
		env = append(env, "PIPELINE_RESOURCES_IO_CONCURRENCY="+strconv.Itoa(r.IOConcurrency))
	}
	return env, nil
}

func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("executor: absolute path for %s: %w", p, err)
	}
	return abs, nil
}

func tail(b []byte) string {
	if len(b) > tailLimit {
		b = b[len(b)-tailLimit:]
	}
	return string(bytes.TrimRight(b, "\n"))
}
