package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/stagehand"
	"github.com/ashita-ai/stagehand/internal/runner"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("STAGEHAND_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		if errors.Is(err, runner.ErrRunFailed) {
			// The failure is already persisted and printed; the exit
			// code is the only signal left to emit.
			return 1
		}
		slog.Error("fatal error", "error", err)
		return 2
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	var (
		pipelinePath    = flag.String("pipeline", "", "path to the pipeline declaration (required)")
		runID           = flag.String("run-id", "", "run identifier (generated when omitted)")
		validateOffline = flag.Bool("validate-offline", false, "scan all processors for forbidden imports before running")
		configFile      = flag.String("config", "", "optional TOML runner config file")
	)
	flag.Parse()

	if *pipelinePath == "" {
		flag.Usage()
		return fmt.Errorf("--pipeline is required")
	}

	orch, err := stagehand.New(
		stagehand.WithConfigFile(*configFile),
		stagehand.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	slog.Info("pipeline-runner starting", "version", version, "pipeline", *pipelinePath)

	id, err := orch.Run(ctx, *pipelinePath, *runID, *validateOffline)
	if err != nil {
		return fmt.Errorf("run %s: %w", id, err)
	}
	return nil
}
