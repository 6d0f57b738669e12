package storage_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/stagehand/internal/layout"
	"github.com/ashita-ai/stagehand/internal/model"
	"github.com/ashita-ai/stagehand/internal/storage"
)

func newStore(t *testing.T) (*storage.Store, layout.PathLayout) {
	t.Helper()
	lay := layout.New(t.TempDir())
	require.NoError(t, lay.EnsureDirs())
	return storage.NewStore(lay), lay
}

func TestWriteFileAtomic_LeavesNoTmp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	require.NoError(t, storage.WriteFileAtomic(path, []byte(`{"a":1}`), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "tmp sibling must not survive a successful write")
}

func TestWriteFileAtomic_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	require.NoError(t, storage.WriteFileAtomic(path, []byte("old"), 0o644))
	require.NoError(t, storage.WriteFileAtomic(path, []byte("new"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestStore_RunRoundTrip(t *testing.T) {
	store, _ := newStore(t)

	rec := model.RunRecord{
		RunID:     "demo1",
		Pipeline:  "offline_pipeline",
		Version:   "1.0.0",
		StartedAt: time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC),
		State:     model.RunStateRunning,
	}
	require.NoError(t, store.SaveRun(rec))

	loaded, err := store.LoadRun("demo1")
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)

	_, err = store.LoadRun("absent")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_StageRoundTrip(t *testing.T) {
	store, lay := newStore(t)

	now := time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)
	rec := model.StageRecord{
		LastStatus:      model.StageStatusOK,
		LastDurationSec: 1.25,
		LastCompletedAt: &now,
		IdempotencyKey:  "abc123",
		Attempts:        2,
	}
	require.NoError(t, store.SaveStage("stage_copy", rec))

	loaded, err := store.LoadStage("stage_copy")
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)

	_, err = store.LoadStage("never_ran")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = os.Stat(lay.StagePath("stage_copy") + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestStore_MetricsRoundTrip(t *testing.T) {
	store, _ := newStore(t)

	dur := 0.5
	m := model.MetricsDocument{
		RunID:     "demo1",
		Timestamp: time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC),
		Stages: []model.StageOutcome{
			{Stage: "stage_copy", Status: model.StageStatusOK, DurationSec: &dur},
			{Stage: "stage_upper", Status: model.StageStatusSkipped},
		},
		TotalStages:   2,
		OkStages:      1,
		SkippedStages: 1,
	}
	require.NoError(t, store.SaveMetrics(m))

	loaded, err := store.LoadMetrics("demo1")
	require.NoError(t, err)
	assert.Equal(t, m, loaded)
}

func TestStore_Marker(t *testing.T) {
	store, lay := newStore(t)
	outDir := filepath.Join(lay.Root, "data", "output")

	assert.False(t, store.MarkerExists(outDir, "stage_upper"))
	require.NoError(t, store.WriteMarker(outDir, "stage_upper"))
	assert.True(t, store.MarkerExists(outDir, "stage_upper"))

	// The marker is empty and has no tmp sibling.
	info, err := os.Stat(lay.MarkerPath(outDir, "stage_upper"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
	_, err = os.Stat(lay.MarkerPath(outDir, "stage_upper") + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestReadJSON_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var v map[string]any
	err := storage.ReadJSON(path, &v)
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}
