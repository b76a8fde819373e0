package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/soakfire/soakfire/internal/adapter"
	"github.com/soakfire/soakfire/internal/artifact"
	"github.com/soakfire/soakfire/internal/config"
	"github.com/soakfire/soakfire/internal/environ"
	"github.com/soakfire/soakfire/internal/harness"
	"github.com/soakfire/soakfire/internal/httpclient"
	"github.com/soakfire/soakfire/internal/logging"
	"github.com/soakfire/soakfire/internal/output"
	"github.com/soakfire/soakfire/internal/tracing"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := adapter.Bind(cfg.Framework, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider := environ.NewDockerProvider()
	if err := provider.CheckAvailable(ctx); err != nil {
		return fmt.Errorf("docker unavailable: %w", err)
	}

	runID := artifact.NewRunID()
	runDir, err := artifact.NewRunDir(cfg.Workspace.BaseDir, runID)
	if err != nil {
		return err
	}
	defer runDir.Close()

	snapshot, err := config.Snapshot(cfg)
	if err != nil {
		return err
	}
	if err := runDir.WriteConfigSnapshot(snapshot); err != nil {
		return err
	}

	logger, err := logging.NewRunLogger(runDir.SummaryLogPath())
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracer, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("run starting",
		zap.String("run_id", runID),
		zap.String("framework", cfg.Framework),
		zap.String("image", cfg.Docker.Image),
		zap.String("mode", string(cfg.Test.Mode)),
		zap.Int("loops", cfg.Test.NumLoops),
		zap.String("artifacts", runDir.Path),
	)

	var progress io.Writer = os.Stdout
	if cfg.JSONOutput {
		progress = io.Discard
	}

	h, err := harness.New(harness.Options{
		Config:   cfg,
		Adapter:  a,
		Provider: provider,
		RunDir:   runDir,
		Logger:   logger,
		Tracer:   tracer.Tracer(),
		Client:   httpclient.NewClient(cfg.Timeouts.Prompt),
		Progress: progress,
	})
	if err != nil {
		return err
	}

	summary, err := h.Run(ctx)
	if err != nil {
		return err
	}

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(os.Stdout, summary); err != nil {
			return err
		}
	} else {
		output.PrintReport(os.Stdout, summary)
	}

	if summary.Failures > 0 {
		return fmt.Errorf("%d of %d iterations failed", summary.Failures, summary.Total)
	}
	return nil
}
