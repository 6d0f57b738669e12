// Package lock serializes stage execution across orchestrator processes.
//
// Locks are advisory filesystem locks: an exclusive create of
// locks/{stage}.lock succeeds atomically only when no other holder exists.
// Contention is handled by polling with an exponentially growing interval
// bounded by the acquisition timeout. Release unlinks the file and is
// idempotent, so a guaranteed-release defer is safe on every exit path.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ashita-ai/stagehand/internal/layout"
)

// ErrTimeout is returned when a lock cannot be acquired within the timeout.
var ErrTimeout = errors.New("lock: acquisition timed out")

const (
	initialPollInterval = 10 * time.Millisecond
	maxPollInterval     = 500 * time.Millisecond
)

// Manager acquires and releases per-stage locks under one layout.
type Manager struct {
	layout layout.PathLayout
	logger *slog.Logger
}

// NewManager returns a Manager over the given layout.
func NewManager(l layout.PathLayout, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{layout: l, logger: logger}
}

// Acquire takes the exclusive lock for stage, polling until timeout.
// Returns ErrTimeout (wrapped) when the deadline passes, or the context
// error if ctx is cancelled first.
func (m *Manager) Acquire(ctx context.Context, stage string, timeout time.Duration) error {
	path := m.layout.LockPath(stage)
	deadline := time.Now().Add(timeout)
	interval := initialPollInterval

	for {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			// Record the holder pid for post-mortem; the content is
			// informational only.
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("lock: create %s: %w", path, err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("stage %s after %s: %w", stage, timeout, ErrTimeout)
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		interval *= 2
		if interval > maxPollInterval {
			interval = maxPollInterval
		}
	}
}

// Release unlinks the lock for stage. Releasing an already-released lock is
// a no-op; unexpected filesystem errors are logged, never raised, so
// deferred releases cannot mask the stage outcome.
func (m *Manager) Release(stage string) {
	path := m.layout.LockPath(stage)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Error("lock release failed", "stage", stage, "path", path, "error", err)
	}
}
