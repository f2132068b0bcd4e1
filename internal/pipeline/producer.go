package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/dbpipe/internal/channel"
)

// Producer fills slot buffers and sends them to the consumer.
type Producer struct {
	driver
	sleep func(ctx context.Context, d time.Duration) error
}

// NewProducer creates a producer sending to cfg.Peer over ch. Buffers are
// allocated here, once.
func NewProducer(ch channel.Channel, cfg Config) *Producer {
	p := &Producer{sleep: sleepContext}
	p.init(RoleProducer, ch, cfg)
	return p
}

// WithLogger sets the logger.
func (p *Producer) WithLogger(log *zap.Logger) *Producer {
	p.log = log.Named("producer")
	return p
}

// WithObserver sets the event observer.
func (p *Producer) WithObserver(obs Observer) *Producer {
	p.obs = obs
	return p
}

// WithSleep replaces the function used for the simulated work delay.
func (p *Producer) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Producer {
	p.sleep = sleep
	return p
}

// Run drives every iteration and drains outstanding sends before returning.
// Cancelling ctx aborts the run at the next step; sends already issued are
// left to the channel's Close.
func (p *Producer) Run(ctx context.Context) (*Summary, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}

	sum := newSummary(RoleProducer, p.cfg.Iterations)
	p.setState(StateIdle, 0)
	p.log.Info("Producer starting",
		zap.Int("peer", p.cfg.Peer),
		zap.Int("iterations", p.cfg.Iterations),
		zap.Int("buffer_size", p.cfg.BufferSize),
		zap.Int("slots", p.cfg.Slots),
		zap.Duration("delay", p.cfg.Delay),
	)

	for i := 0; i < p.cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return sum, p.fail(i, "aborted", err)
		}
		slot := p.lanes.Ring.Acquire(i)

		// The slot was last sent Slots iterations ago; that send may still
		// be reading the buffer.
		p.setState(StateGating, i)
		start := time.Now()
		buf, pending, err := p.lanes.Reuse(slot)
		wait := time.Since(start)
		p.obs.ObserveAwait(RoleProducer, AwaitGate, pending, wait)
		if err != nil {
			return sum, p.fail(i, "gate", err)
		}
		sum.addWait(wait, pending)
		p.syncOutstanding()

		p.setState(StateFilling, i)
		Fill(buf, i)

		p.setState(StateSending, i)
		req, err := p.ch.SendAsync(buf, p.cfg.Peer, p.cfg.Tag)
		if err != nil {
			return sum, p.fail(i, "send", err)
		}
		p.lanes.Table.Record(slot, req)
		p.syncOutstanding()
		p.obs.ObserveTransfer(RoleProducer, channel.OpSend, len(buf))
		sum.Bytes += int64(len(buf))

		p.log.Debug("Send issued",
			zap.Int("iteration", i),
			zap.Int("slot", slot),
			zap.Bool("gated", pending),
			zap.Duration("gate_wait", wait),
		)

		p.setState(StateThrottling, i)
		if err := p.sleep(ctx, p.cfg.Delay); err != nil {
			return sum, p.fail(i, "aborted", err)
		}
		sum.Iterations++
	}

	p.setState(StateDraining, p.cfg.Iterations)
	start := time.Now()
	err := p.lanes.Table.AwaitAll()
	sum.Drain = time.Since(start)
	p.obs.ObserveAwait(RoleProducer, AwaitDrain, true, sum.Drain)
	p.syncOutstanding()
	if err != nil {
		return sum, p.fail(p.cfg.Iterations, "drain", err)
	}

	p.setState(StateDone, p.cfg.Iterations)
	sum.finish()
	p.log.Info("Producer finished", sum.Fields()...)
	return sum, nil
}
