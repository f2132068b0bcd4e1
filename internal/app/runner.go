package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/dbpipe/internal/api/middleware"
	"github.com/GriffinCanCode/dbpipe/internal/channel/grpcchan"
	"github.com/GriffinCanCode/dbpipe/internal/channel/local"
	"github.com/GriffinCanCode/dbpipe/internal/infrastructure/config"
	"github.com/GriffinCanCode/dbpipe/internal/infrastructure/logging"
	"github.com/GriffinCanCode/dbpipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/dbpipe/internal/infrastructure/server"
	"github.com/GriffinCanCode/dbpipe/internal/shared/id"
)

// ErrNoRank is returned when a gRPC participant is started without a rank.
var ErrNoRank = errors.New("no rank assigned")

const statusShutdownTimeout = 5 * time.Second

// Runner builds participants from configuration and runs them.
type Runner struct {
	cfg    *config.Config
	logger *logging.Logger
	stdout io.Writer
	stderr io.Writer
	lookup LookupFunc
}

// NewRunner creates a runner that writes nothing until WithOutput is set.
func NewRunner(cfg *config.Config, logger *logging.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		logger: logger,
		stdout: io.Discard,
		stderr: io.Discard,
	}
}

// WithOutput sets where reports and diagnostics are written.
func (r *Runner) WithOutput(stdout, stderr io.Writer) *Runner {
	r.stdout = stdout
	r.stderr = stderr
	return r
}

// WithLookupEnv replaces os.LookupEnv for the environment probe.
func (r *Runner) WithLookupEnv(lookup LookupFunc) *Runner {
	r.lookup = lookup
	return r
}

// Run starts this process's participant over gRPC, or every participant
// in-process when the transport is local.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	runID := id.RunIDOr(r.cfg.Run.ID)

	fields := []zap.Field{
		zap.String("run_id", runID.String()),
		zap.String("transport", r.cfg.Transport.Kind),
		zap.Int("size", r.cfg.Topology.Size),
	}
	if started, ok := runID.StartedAt(); ok {
		fields = append(fields, zap.Time("run_started", started))
	}
	r.logger.Info("Run starting", fields...)

	if r.cfg.Transport.Kind == config.TransportLocal {
		return r.runLocal(ctx, runID)
	}
	if r.cfg.Topology.Rank == config.LauncherRank {
		return fmt.Errorf("%w: set DBPIPE_RANK or start through the launcher", ErrNoRank)
	}
	return r.runRank(ctx, runID, r.cfg.Topology.Rank)
}

func (r *Runner) runRank(ctx context.Context, runID id.RunID, rank int) error {
	log := r.logger.ForParticipant(runID.String(), rank)
	metrics := monitoring.NewMetrics(runID.String(), rank)

	var status *server.Server
	if r.cfg.Status.Addr != "" {
		status = server.NewServer(server.Config{
			Addr:        r.cfg.Status.Addr,
			RunID:       runID.String(),
			Rank:        rank,
			Development: r.cfg.Logging.Development,
			RateLimit: middleware.RateLimitConfig{
				RequestsPerSecond: r.cfg.Status.RateLimit,
				Burst:             r.cfg.Status.Burst,
			},
			GlobalRateLimit: middleware.RateLimitConfig{
				RequestsPerSecond: r.cfg.Status.GlobalRateLimit,
				Burst:             r.cfg.Status.Burst,
			},
			CORS: middleware.CORSConfig{
				AllowOrigins: r.cfg.Status.CORSOrigins,
				AllowHeaders: middleware.DefaultCORSConfig().AllowHeaders,
				MaxAge:       middleware.DefaultCORSConfig().MaxAge,
			},
		}, metrics, log)
		if err := status.Start(); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
			defer cancel()
			if err := status.Shutdown(ctx); err != nil {
				log.Warn("Status server shutdown failed", zap.Error(err))
			}
		}()
	}

	ch, err := grpcchan.New(grpcchan.Config{
		Rank:            rank,
		Peers:           r.cfg.Topology.PeerAddrs(),
		Compression:     r.cfg.Transport.Compression,
		MaxMessageBytes: r.cfg.Transport.MaxMessageBytes,
		ConnectTimeout:  r.cfg.Transport.ConnectTimeout,
		RunID:           runID.String(),
		Logger:          log.Named("grpcchan"),
	})
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	// Cancellation unblocks any pending await by failing it.
	stop := context.AfterFunc(ctx, func() { ch.Close() })
	defer stop()

	_, runErr := NewParticipant(r.cfg, ch).
		WithLogger(log).
		WithOutput(r.stdout, r.stderr).
		WithObserver(metrics).
		WithStatus(status).
		WithLookupEnv(r.lookup).
		Run(ctx)

	closeErr := ch.Close()
	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("close transport: %w", closeErr)
	}
	return nil
}

// runLocal plays every rank as a goroutine over one local.World. The first
// failure closes the world, which fails the awaits of the other ranks.
func (r *Runner) runLocal(ctx context.Context, runID id.RunID) error {
	size := r.cfg.Topology.Size
	world := local.NewWorld(size)
	defer world.Close()

	if r.cfg.Status.Addr != "" {
		r.logger.Warn("Status server is not available with the local transport",
			zap.String("addr", r.cfg.Status.Addr))
	}

	stdout := &lockedWriter{w: r.stdout}
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { world.Close() })
	defer stop()

	for rank := 0; rank < size; rank++ {
		g.Go(func() error {
			log := r.logger.ForParticipant(runID.String(), rank)
			_, err := NewParticipant(r.cfg, world.Endpoint(rank)).
				WithLogger(log).
				WithOutput(stdout, r.stderr).
				WithObserver(monitoring.NewMetrics(runID.String(), rank)).
				WithLookupEnv(r.lookup).
				Run(gctx)
			if err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// lockedWriter serializes writes from in-process ranks so report lines do
// not interleave.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
