package lock_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/stagehand/internal/layout"
	"github.com/ashita-ai/stagehand/internal/lock"
)

func newManager(t *testing.T) (*lock.Manager, layout.PathLayout) {
	t.Helper()
	lay := layout.New(t.TempDir())
	require.NoError(t, lay.EnsureDirs())
	return lock.NewManager(lay, nil), lay
}

func TestAcquireRelease(t *testing.T) {
	m, lay := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "stage_copy", time.Second))
	_, err := os.Stat(lay.LockPath("stage_copy"))
	require.NoError(t, err, "lock file should exist while held")

	m.Release("stage_copy")
	_, err = os.Stat(lay.LockPath("stage_copy"))
	assert.True(t, os.IsNotExist(err), "lock file should be removed after release")
}

func TestRelease_Idempotent(t *testing.T) {
	m, _ := newManager(t)

	// Releasing a lock that was never acquired must not panic or error.
	m.Release("stage_copy")
	m.Release("stage_copy")
}

func TestAcquire_TimesOutOnContention(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "stage_copy", time.Second))
	defer m.Release("stage_copy")

	start := time.Now()
	err := m.Acquire(ctx, "stage_copy", 100*time.Millisecond)
	require.ErrorIs(t, err, lock.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestAcquire_SucceedsAfterRelease(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "stage_copy", time.Second))
	go func() {
		time.Sleep(50 * time.Millisecond)
		m.Release("stage_copy")
	}()

	require.NoError(t, m.Acquire(ctx, "stage_copy", 2*time.Second))
	m.Release("stage_copy")
}

func TestAcquire_ContextCancellation(t *testing.T) {
	m, _ := newManager(t)

	require.NoError(t, m.Acquire(context.Background(), "stage_copy", time.Second))
	defer m.Release("stage_copy")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := m.Acquire(ctx, "stage_copy", 10*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAcquire_MutualExclusion(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		holders int
		maxSeen int
	)

	g, ctx := errgroup.WithContext(ctx)
	for range 8 {
		g.Go(func() error {
			if err := m.Acquire(ctx, "stage_copy", 5*time.Second); err != nil {
				return err
			}
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			m.Release("stage_copy")
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, maxSeen, "execution windows must never overlap")
}

func TestLocksForDifferentStagesAreIndependent(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, "stage_copy", time.Second))
	defer m.Release("stage_copy")

	require.NoError(t, m.Acquire(ctx, "stage_upper", 100*time.Millisecond))
	m.Release("stage_upper")
}
