package checkpoint_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/stagehand/internal/checkpoint"
	"github.com/ashita-ai/stagehand/internal/layout"
	"github.com/ashita-ai/stagehand/internal/model"
	"github.com/ashita-ai/stagehand/internal/storage"
	"github.com/ashita-ai/stagehand/internal/testutil"
)

func newLayout(t *testing.T) layout.PathLayout {
	t.Helper()
	lay := layout.New(t.TempDir())
	require.NoError(t, lay.EnsureDirs())
	return lay
}

func TestLoad_AbsentFileIsZero(t *testing.T) {
	lay := newLayout(t)
	assert.EqualValues(t, 0, checkpoint.Load(lay, "stage_upper"))
}

func TestLoad_RoundTrip(t *testing.T) {
	lay := newLayout(t)

	require.NoError(t, checkpoint.Write(lay, "stage_upper", 50))
	assert.EqualValues(t, 50, checkpoint.Load(lay, "stage_upper"))

	_, err := os.Stat(lay.ProgressPath("stage_upper") + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLoad_MalformedFileIsZero(t *testing.T) {
	lay := newLayout(t)
	testutil.WriteFile(t, lay.ProgressPath("stage_upper"), "{broken")
	assert.EqualValues(t, 0, checkpoint.Load(lay, "stage_upper"))
}

func TestLoad_NegativeOffsetIsZero(t *testing.T) {
	lay := newLayout(t)
	testutil.WriteFile(t, lay.ProgressPath("stage_upper"), `{"lineOffset": -3}`)
	assert.EqualValues(t, 0, checkpoint.Load(lay, "stage_upper"))
}

func TestSnapshot_CopiesProgressToAlias(t *testing.T) {
	lay := newLayout(t)
	require.NoError(t, checkpoint.Write(lay, "stage_upper", 100))

	require.NoError(t, checkpoint.Snapshot(lay, "stage_upper"))

	var cp model.Checkpoint
	require.NoError(t, storage.ReadJSON(lay.CheckpointPath("stage_upper"), &cp))
	assert.EqualValues(t, 100, cp.LineOffset)
}

func TestSnapshot_NoProgressIsNoop(t *testing.T) {
	lay := newLayout(t)

	require.NoError(t, checkpoint.Snapshot(lay, "stage_upper"))
	_, err := os.Stat(lay.CheckpointPath("stage_upper"))
	assert.True(t, os.IsNotExist(err))
}
