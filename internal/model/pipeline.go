// Package model defines the core domain types for stagehand.
//
// All types correspond directly to the pipeline declaration document and the
// state artifacts persisted under state/. Types use strong typing (enums,
// time.Time, time.Duration) and avoid interface{} except for the free-form
// stage parameter mapping, which is opaque to the orchestrator.
package model

import "time"

// PipelineSpec is a validated pipeline declaration. Immutable after load.
type PipelineSpec struct {
	Name    string
	Version string
	Stages  []StageSpec
}

// StageSpec is one ordered unit of work in a pipeline. The processor is an
// external executable; inputs are paths passed as argv in declaration order.
type StageSpec struct {
	Name      string
	Processor string
	Inputs    []string
	OutputDir string
	Params    map[string]any

	Idempotency IdempotencyConfig
	Checkpoint  CheckpointConfig
	Retry       RetryPolicy
	Resources   ResourceHints
}

// IdempotencyConfig controls whether a stage may be skipped when its
// idempotency key matches the last completed execution.
type IdempotencyConfig struct {
	Enabled bool
}

// CheckpointConfig controls line-offset checkpointing. LineInterval is the
// number of processed records between progress rewrites; it is advisory and
// passed through to the processor.
type CheckpointConfig struct {
	Enabled      bool
	LineInterval int
}

// RetryPolicy bounds re-execution of a stage on transient failures.
// Jitter is a multiplicative factor: the pre-attempt delay is the
// exponential backoff plus a uniform draw from [0, backoff*Jitter].
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      float64
}

// ResourceHints are advisory per-stage limits propagated to the processor
// via environment variables. The orchestrator does not enforce them.
type ResourceHints struct {
	CPUCores      int
	MemoryMB      int
	IOConcurrency int
}

// DefaultRetryPolicy is applied when a stage declares no retry block.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	Jitter:      0.1,
}
