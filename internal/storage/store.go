package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ashita-ai/stagehand/internal/layout"
	"github.com/ashita-ai/stagehand/internal/model"
)

// Store reads and writes the orchestrator-owned state artifacts for one
// pipeline repository. All writes are atomic; any write error is an I/O
// fault that the caller must treat as fatal for the run.
type Store struct {
	layout layout.PathLayout
}

// NewStore returns a Store over the given layout.
func NewStore(l layout.PathLayout) *Store {
	return &Store{layout: l}
}

// SaveRun persists the run record.
func (s *Store) SaveRun(rec model.RunRecord) error {
	if err := WriteJSONAtomic(s.layout.RunPath(rec.RunID), rec); err != nil {
		return fmt.Errorf("save run %s: %w", rec.RunID, err)
	}
	return nil
}

// LoadRun loads the run record for runID. Returns ErrNotFound when absent.
func (s *Store) LoadRun(runID string) (model.RunRecord, error) {
	var rec model.RunRecord
	if err := ReadJSON(s.layout.RunPath(runID), &rec); err != nil {
		return model.RunRecord{}, err
	}
	return rec, nil
}

// SaveStage persists the stage record for stage.
func (s *Store) SaveStage(stage string, rec model.StageRecord) error {
	if err := WriteJSONAtomic(s.layout.StagePath(stage), rec); err != nil {
		return fmt.Errorf("save stage %s: %w", stage, err)
	}
	return nil
}

// LoadStage loads the stage record for stage. Returns ErrNotFound when the
// stage has never produced a terminal outcome.
func (s *Store) LoadStage(stage string) (model.StageRecord, error) {
	var rec model.StageRecord
	if err := ReadJSON(s.layout.StagePath(stage), &rec); err != nil {
		return model.StageRecord{}, err
	}
	return rec, nil
}

// SaveMetrics persists the metrics document.
func (s *Store) SaveMetrics(m model.MetricsDocument) error {
	if err := WriteJSONAtomic(s.layout.MetricsPath(m.RunID), m); err != nil {
		return fmt.Errorf("save metrics %s: %w", m.RunID, err)
	}
	return nil
}

// LoadMetrics loads the metrics document for runID.
func (s *Store) LoadMetrics(runID string) (model.MetricsDocument, error) {
	var m model.MetricsDocument
	if err := ReadJSON(s.layout.MetricsPath(runID), &m); err != nil {
		return model.MetricsDocument{}, err
	}
	return m, nil
}

// WriteMarker writes the empty completion marker for stage under outputDir,
// creating the output directory if needed. The marker is written atomically
// like every other state file.
func (s *Store) WriteMarker(outputDir, stage string) error {
	path := s.layout.MarkerPath(outputDir, stage)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := WriteFileAtomic(path, nil, 0o644); err != nil {
		return fmt.Errorf("write marker %s: %w", path, err)
	}
	return nil
}

// MarkerExists reports whether the completion marker for stage exists.
func (s *Store) MarkerExists(outputDir, stage string) bool {
	_, err := os.Stat(s.layout.MarkerPath(outputDir, stage))
	return err == nil
}
