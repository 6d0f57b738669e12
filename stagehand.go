// Package stagehand embeds the offline batch orchestrator into a Go
// program. The pipeline-runner CLI is a thin wrapper around this package.
package stagehand

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/stagehand/internal/config"
	"github.com/ashita-ai/stagehand/internal/guard"
	"github.com/ashita-ai/stagehand/internal/layout"
	"github.com/ashita-ai/stagehand/internal/runner"
	"github.com/ashita-ai/stagehand/internal/spec"
)

// Orchestrator executes pipeline runs against one repository.
type Orchestrator struct {
	cfg    config.Config
	runner *runner.Runner
}

// New builds an Orchestrator from runner configuration (defaults, optional
// TOML config file, environment) and the given options.
func New(opts ...Option) (*Orchestrator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("stagehand: %w", err)
	}
	if o.root != "" {
		cfg.Root = o.root
	}
	if o.lockTimeout > 0 {
		cfg.LockTimeout = o.lockTimeout
	}
	if o.execTimeout > 0 {
		cfg.ExecTimeout = o.execTimeout
	}
	if o.audit != nil {
		cfg.Audit = *o.audit
	}

	return &Orchestrator{
		cfg:    cfg,
		runner: runner.New(cfg, o.logger, o.stdout),
	}, nil
}

// Run executes the pipeline declared at pipelinePath. An empty runID is
// replaced with a generated UUID. validateOffline scans every stage
// processor before any artifact is written. Returns the run ID actually
// used; the error is runner.ErrRunFailed when the run terminated failed.
func (o *Orchestrator) Run(ctx context.Context, pipelinePath, runID string, validateOffline bool) (string, error) {
	if runID == "" {
		runID = uuid.New().String()
	}
	return runID, o.runner.Run(ctx, pipelinePath, runID, validateOffline)
}

// ValidateOffline scans every stage processor of the declaration at
// pipelinePath without executing anything.
func (o *Orchestrator) ValidateOffline(ctx context.Context, pipelinePath string) error {
	lay := layout.New(o.cfg.Root)
	pipeline, err := spec.Load(pipelinePath)
	if err != nil {
		return err
	}
	procs := make([]string, 0, len(pipeline.Stages))
	for _, st := range pipeline.Stages {
		procs = append(procs, lay.ResolvePath(st.Processor))
	}
	return guard.ScanAll(ctx, procs)
}
