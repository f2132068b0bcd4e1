package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/dbpipe/internal/channel"
)

// ErrInvalidConfig is wrapped by every Config.Validate failure.
var ErrInvalidConfig = errors.New("invalid pipeline config")

// Config holds the parameters shared by both drivers.
type Config struct {
	BufferSize int
	Slots      int
	Iterations int
	// Delay is the simulated compute time the producer spends per iteration
	// while its send is in flight. The consumer ignores it.
	Delay time.Duration
	// Peer is the rank of the other role.
	Peer int
	Tag  int
}

// DefaultConfig returns the reference run: 1 MiB buffers, two slots, ten
// iterations, 200ms of simulated work, peer rank 1, tag 0.
func DefaultConfig() Config {
	return Config{
		BufferSize: 1024 * 1024,
		Slots:      2,
		Iterations: 10,
		Delay:      200 * time.Millisecond,
		Peer:       1,
		Tag:        0,
	}
}

// Validate checks the config for values no driver can run with.
func (c Config) Validate() error {
	switch {
	case c.BufferSize <= 0:
		return fmt.Errorf("%w: buffer size %d", ErrInvalidConfig, c.BufferSize)
	case c.Slots <= 0:
		return fmt.Errorf("%w: slots %d", ErrInvalidConfig, c.Slots)
	case c.Iterations < 0:
		return fmt.Errorf("%w: iterations %d", ErrInvalidConfig, c.Iterations)
	case c.Delay < 0:
		return fmt.Errorf("%w: delay %s", ErrInvalidConfig, c.Delay)
	case c.Tag < 0:
		return fmt.Errorf("%w: tag %d", ErrInvalidConfig, c.Tag)
	}
	return nil
}

// Observer receives driver events, typically to export them as metrics.
type Observer interface {
	ObserveState(role Role, state State, iteration int)
	ObserveTransfer(role Role, op channel.Op, bytes int)
	ObserveAwait(role Role, kind AwaitKind, pending bool, d time.Duration)
	SetInFlight(role Role, n int)
}

type nopObserver struct{}

func (nopObserver) ObserveState(Role, State, int)                     {}
func (nopObserver) ObserveTransfer(Role, channel.Op, int)             {}
func (nopObserver) ObserveAwait(Role, AwaitKind, bool, time.Duration) {}
func (nopObserver) SetInFlight(Role, int)                             {}

// Snapshot is a point-in-time view of a running driver.
type Snapshot struct {
	Role        Role
	State       State
	Iteration   int
	Outstanding int
}

// driver carries what the producer and consumer have in common.
type driver struct {
	role  Role
	ch    channel.Channel
	cfg   Config
	lanes *Lanes
	log   *zap.Logger
	obs   Observer

	state       atomic.Int32
	iteration   atomic.Int64
	outstanding atomic.Int32
}

func (d *driver) init(role Role, ch channel.Channel, cfg Config) {
	d.role = role
	d.ch = ch
	d.cfg = cfg
	d.lanes = NewLanes(cfg.Slots, cfg.BufferSize)
	d.log = zap.NewNop()
	d.obs = nopObserver{}
}

func (d *driver) setState(s State, iteration int) {
	d.state.Store(int32(s))
	d.iteration.Store(int64(iteration))
	d.obs.ObserveState(d.role, s, iteration)
}

func (d *driver) syncOutstanding() {
	n := d.lanes.Table.Outstanding()
	d.outstanding.Store(int32(n))
	d.obs.SetInFlight(d.role, n)
}

// Snapshot is safe to call from any goroutine.
func (d *driver) Snapshot() Snapshot {
	return Snapshot{
		Role:        d.role,
		State:       State(d.state.Load()),
		Iteration:   int(d.iteration.Load()),
		Outstanding: int(d.outstanding.Load()),
	}
}

// Lanes exposes the driver's ring and table.
func (d *driver) Lanes() *Lanes {
	return d.lanes
}

// fail marks the driver failed and wraps err with the iteration.
func (d *driver) fail(iteration int, what string, err error) error {
	d.setState(StateFailed, iteration)
	return fmt.Errorf("%s %s at iteration %d: %w", d.role, what, iteration, err)
}

// sleepContext waits for d unless ctx ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
