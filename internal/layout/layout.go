// Package layout maps logical state artifacts to concrete filesystem paths.
//
// A PathLayout is constructed once at startup and injected everywhere a path
// is needed, so tests can run against independent temporary repositories and
// no package holds process-wide path state.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

// PathLayout locates every persisted artifact relative to a pipeline root.
type PathLayout struct {
	// Root is the pipeline repository root and the working directory for
	// spawned processors.
	Root string
	// StateDir holds run, stage, metrics, progress, checkpoint, and audit
	// documents. Default: {Root}/state.
	StateDir string
	// LocksDir holds per-stage lock files. Default: {Root}/locks.
	LocksDir string
}

// New returns the default layout rooted at root.
func New(root string) PathLayout {
	return PathLayout{
		Root:     root,
		StateDir: filepath.Join(root, "state"),
		LocksDir: filepath.Join(root, "locks"),
	}
}

// EnsureDirs creates the state and locks directories if absent.
func (l PathLayout) EnsureDirs() error {
	for _, dir := range []string{l.StateDir, l.LocksDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// RunPath returns the run record path for runID.
func (l PathLayout) RunPath(runID string) string {
	return filepath.Join(l.StateDir, fmt.Sprintf("run_%s.json", runID))
}

// StagePath returns the stage record path for stage.
func (l PathLayout) StagePath(stage string) string {
	return filepath.Join(l.StateDir, fmt.Sprintf("stage_%s.json", stage))
}

// MetricsPath returns the metrics document path for runID.
func (l PathLayout) MetricsPath(runID string) string {
	return filepath.Join(l.StateDir, fmt.Sprintf("metrics_%s.json", runID))
}

// ProgressPath returns the processor-written progress file path for stage.
func (l PathLayout) ProgressPath(stage string) string {
	return filepath.Join(l.StateDir, fmt.Sprintf("progress_%s.json", stage))
}

// CheckpointPath returns the orchestrator-managed checkpoint alias for stage.
func (l PathLayout) CheckpointPath(stage string) string {
	return filepath.Join(l.StateDir, fmt.Sprintf("checkpoint_%s.json", stage))
}

// AuditPath returns the append-only audit trail path for runID.
func (l PathLayout) AuditPath(runID string) string {
	return filepath.Join(l.StateDir, fmt.Sprintf("audit_%s.jsonl", runID))
}

// LockPath returns the lock file path for stage.
func (l PathLayout) LockPath(stage string) string {
	return filepath.Join(l.LocksDir, fmt.Sprintf("%s.lock", stage))
}

// MarkerPath returns the completion marker path for stage under outputDir.
// Relative outputDir values are resolved against Root.
func (l PathLayout) MarkerPath(outputDir, stage string) string {
	return filepath.Join(l.ResolveOutputDir(outputDir), fmt.Sprintf(".%s.done", stage))
}

// ResolveOutputDir resolves a stage outputDir against Root when relative.
func (l PathLayout) ResolveOutputDir(outputDir string) string {
	if filepath.IsAbs(outputDir) {
		return outputDir
	}
	return filepath.Join(l.Root, outputDir)
}

// ResolvePath resolves any declaration path (processor, input) against Root
// when relative.
func (l PathLayout) ResolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(l.Root, p)
}
