package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/dbpipe/internal/channel"
	"github.com/GriffinCanCode/dbpipe/internal/infrastructure/config"
	"github.com/GriffinCanCode/dbpipe/internal/infrastructure/server"
	"github.com/GriffinCanCode/dbpipe/internal/pipeline"
)

// ErrTooFewParticipants is returned by every participant of a world smaller
// than MinParticipants, before any transfer is issued.
var ErrTooFewParticipants = errors.New("too few participants")

// TooFewMessage is what rank 0 prints when the world is too small.
const TooFewMessage = "This program requires at least 2 participants"

// MinParticipants is the smallest world the pipeline runs in.
const MinParticipants = 2

// Observer receives driver events. *monitoring.Metrics implements it.
type Observer = pipeline.Observer

// Participant is one rank of a run: it probes its environment, checks the
// topology and plays its role over ch.
type Participant struct {
	cfg    *config.Config
	ch     channel.Channel
	log    *zap.Logger
	stdout io.Writer
	stderr io.Writer
	obs    Observer
	status *server.Server
	lookup LookupFunc
}

// NewParticipant creates the participant for ch.Rank().
func NewParticipant(cfg *config.Config, ch channel.Channel) *Participant {
	return &Participant{
		cfg:    cfg,
		ch:     ch,
		log:    zap.NewNop(),
		stdout: io.Discard,
		stderr: io.Discard,
	}
}

// WithLogger sets the logger.
func (p *Participant) WithLogger(log *zap.Logger) *Participant {
	p.log = log
	return p
}

// WithOutput sets where reports and diagnostics are written.
func (p *Participant) WithOutput(stdout, stderr io.Writer) *Participant {
	p.stdout = stdout
	p.stderr = stderr
	return p
}

// WithObserver forwards driver events to obs.
func (p *Participant) WithObserver(obs Observer) *Participant {
	p.obs = obs
	return p
}

// WithStatus reports the running driver through srv.
func (p *Participant) WithStatus(srv *server.Server) *Participant {
	p.status = srv
	return p
}

// WithLookupEnv replaces os.LookupEnv for the environment probe.
func (p *Participant) WithLookupEnv(lookup LookupFunc) *Participant {
	p.lookup = lookup
	return p
}

// Run plays the participant's role. It returns nil and a nil summary for an
// idle rank.
func (p *Participant) Run(ctx context.Context) (*pipeline.Summary, error) {
	rank, size := p.ch.Rank(), p.ch.Size()

	if err := Probe(p.stdout, rank, p.cfg.Report.ProbeVars, p.lookup); err != nil {
		return nil, err
	}

	if size < MinParticipants {
		if rank == 0 {
			fmt.Fprintln(p.stderr, TooFewMessage)
		}
		return nil, fmt.Errorf("%w: %d of %d", ErrTooFewParticipants, size, MinParticipants)
	}
	topo := p.cfg.Topology
	if topo.Producer >= size || topo.Consumer >= size {
		return nil, fmt.Errorf("%w: producer %d and consumer %d in a world of %d",
			config.ErrInvalid, topo.Producer, topo.Consumer, size)
	}

	role := topo.RoleOf(rank)
	p.log.Info("Participant starting",
		zap.Stringer("role", role),
		zap.Int("size", size),
	)

	switch role {
	case pipeline.RoleProducer:
		return p.runProducer(ctx, rank)
	case pipeline.RoleConsumer:
		return p.runConsumer(ctx, rank)
	default:
		p.log.Info("No role for this rank, staying idle")
		return nil, nil
	}
}

func (p *Participant) runProducer(ctx context.Context, rank int) (*pipeline.Summary, error) {
	prod := pipeline.NewProducer(p.ch, p.cfg.Driver(rank)).WithLogger(p.log)
	if p.obs != nil {
		prod.WithObserver(p.obs)
	}
	if p.status != nil {
		p.status.Attach(prod)
	}
	return prod.Run(ctx)
}

func (p *Participant) runConsumer(ctx context.Context, rank int) (*pipeline.Summary, error) {
	reporter, err := pipeline.NewReporter(p.cfg.Report.Format, p.stdout)
	if err != nil {
		return nil, err
	}
	cons := pipeline.NewConsumer(p.ch, p.cfg.Driver(rank)).WithLogger(p.log).WithReporter(reporter)
	if p.obs != nil {
		cons.WithObserver(p.obs)
	}
	if p.status != nil {
		p.status.Attach(cons)
	}
	return cons.Run(ctx)
}
