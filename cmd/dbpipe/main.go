package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/dbpipe/internal/app"
	"github.com/GriffinCanCode/dbpipe/internal/infrastructure/config"
	"github.com/GriffinCanCode/dbpipe/internal/infrastructure/logging"
	"github.com/GriffinCanCode/dbpipe/internal/launcher"
	"github.com/GriffinCanCode/dbpipe/internal/shared/id"
)

func main() {
	os.Exit(run())
}

func run() int {
	// No flags; everything comes from the environment.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger := logging.FromLevel(cfg.Logging.Level, cfg.Logging.Development)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Transport.Kind == config.TransportGRPC && cfg.Topology.Rank == config.LauncherRank {
		return launch(ctx, cfg, logger)
	}

	err = app.NewRunner(cfg, logger).WithOutput(os.Stdout, os.Stderr).Run(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, app.ErrTooFewParticipants):
		// Already reported on stderr by rank 0.
		logger.Debug("Topology check failed", zap.Error(err))
		return 1
	case ctx.Err() != nil:
		logger.Warn("Interrupted", zap.Error(err))
		return 1
	default:
		logger.Error("Run failed", zap.Error(err))
		return 1
	}
}

func launch(ctx context.Context, cfg *config.Config, logger *logging.Logger) int {
	runID := id.RunIDOr(cfg.Run.ID)
	code, err := launcher.New(launcher.Config{
		Size:       cfg.Topology.Size,
		Peers:      cfg.Topology.PeerAddrs(),
		RunID:      runID.String(),
		StatusAddr: cfg.Status.Addr,
		Logger:     logger.With(zap.String("run_id", runID.String())),
	}).Run(ctx)
	if err != nil {
		logger.Debug("Launch finished with failures", zap.Int("status", code), zap.Error(err))
	}
	return code
}
