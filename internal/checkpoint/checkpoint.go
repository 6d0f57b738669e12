// Package checkpoint reads and snapshots processor progress files.
//
// The progress file (state/progress_{stage}.json) is written by the
// processor during execution; the orchestrator only reads it, immediately
// before each attempt, and snapshots it to the orchestrator-managed
// checkpoint alias after a successful stage.
package checkpoint

import (
	"errors"

	"github.com/ashita-ai/stagehand/internal/layout"
	"github.com/ashita-ai/stagehand/internal/model"
	"github.com/ashita-ai/stagehand/internal/storage"
)

// Load returns the persisted line offset for stage. An absent, unreadable,
// or malformed progress file yields offset 0: a processor that never
// checkpointed simply starts from the beginning.
func Load(lay layout.PathLayout, stage string) int64 {
	var cp model.Checkpoint
	if err := storage.ReadJSON(lay.ProgressPath(stage), &cp); err != nil {
		return 0
	}
	if cp.LineOffset < 0 {
		return 0
	}
	return cp.LineOffset
}

// Snapshot copies the current progress offset to the orchestrator-managed
// checkpoint alias (state/checkpoint_{stage}.json). Called after a stage
// completes successfully; a missing progress file is a no-op.
func Snapshot(lay layout.PathLayout, stage string) error {
	var cp model.Checkpoint
	if err := storage.ReadJSON(lay.ProgressPath(stage), &cp); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	return storage.WriteJSONAtomic(lay.CheckpointPath(stage), cp)
}

// Write persists a progress offset for stage. Exists for tests and for
// processors implemented in-process; the orchestrator itself never writes
// the progress file.
func Write(lay layout.PathLayout, stage string, offset int64) error {
	return storage.WriteJSONAtomic(lay.ProgressPath(stage), model.Checkpoint{LineOffset: offset})
}
