package stagehand

import (
	"io"
	"log/slog"
	"time"
)

// Option configures an Orchestrator.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	configFile  string
	root        string
	lockTimeout time.Duration
	execTimeout time.Duration
	audit       *bool
	logger      *slog.Logger
	stdout      io.Writer
}

func defaultOptions() resolvedOptions {
	return resolvedOptions{}
}

// WithConfigFile loads runner configuration from the TOML file at path.
// Environment variables still take precedence over file values.
func WithConfigFile(path string) Option {
	return func(o *resolvedOptions) { o.configFile = path }
}

// WithRoot overrides the pipeline repository root from config
// (STAGEHAND_ROOT env var).
func WithRoot(root string) Option {
	return func(o *resolvedOptions) { o.root = root }
}

// WithLockTimeout overrides the per-stage lock acquisition timeout from
// config (STAGEHAND_LOCK_TIMEOUT env var).
func WithLockTimeout(d time.Duration) Option {
	return func(o *resolvedOptions) { o.lockTimeout = d }
}

// WithExecTimeout overrides the per-attempt processor timeout from config
// (STAGEHAND_EXEC_TIMEOUT env var).
func WithExecTimeout(d time.Duration) Option {
	return func(o *resolvedOptions) { o.execTimeout = d }
}

// WithAudit enables or disables the hash-chained audit trail.
func WithAudit(enabled bool) Option {
	return func(o *resolvedOptions) { o.audit = &enabled }
}

// WithLogger sets the structured logger for the Orchestrator.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithStdout redirects the run progress lines ([SKIP]/[DONE]/[FAIL]) that
// normally go to standard output.
func WithStdout(w io.Writer) Option {
	return func(o *resolvedOptions) { o.stdout = w }
}
