package pipeline

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/dbpipe/internal/channel"
)

// Consumer receives payloads into its slot buffers and reports on them.
type Consumer struct {
	driver
	reporter Reporter
}

// NewConsumer creates a consumer receiving from cfg.Peer over ch.
func NewConsumer(ch channel.Channel, cfg Config) *Consumer {
	c := &Consumer{reporter: NewTextReporter(io.Discard)}
	c.init(RoleConsumer, ch, cfg)
	return c
}

// WithLogger sets the logger.
func (c *Consumer) WithLogger(log *zap.Logger) *Consumer {
	c.log = log.Named("consumer")
	return c
}

// WithObserver sets the event observer.
func (c *Consumer) WithObserver(obs Observer) *Consumer {
	c.obs = obs
	return c
}

// WithReporter sets where per-iteration reports go.
func (c *Consumer) WithReporter(r Reporter) *Consumer {
	c.reporter = r
	return c
}

// Run drives every iteration. Each receive is awaited in the iteration that
// issued it, so nothing is outstanding when Run returns successfully.
func (c *Consumer) Run(ctx context.Context) (*Summary, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	sum := newSummary(RoleConsumer, c.cfg.Iterations)
	c.setState(StateIdle, 0)
	c.log.Info("Consumer starting",
		zap.Int("peer", c.cfg.Peer),
		zap.Int("iterations", c.cfg.Iterations),
		zap.Int("buffer_size", c.cfg.BufferSize),
		zap.Int("slots", c.cfg.Slots),
	)

	for i := 0; i < c.cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return sum, c.fail(i, "aborted", err)
		}
		slot := c.lanes.Ring.Acquire(i)

		// Every receive is awaited in its own iteration, so this gate never
		// finds anything outstanding with the current loop.
		buf, _, err := c.lanes.Reuse(slot)
		if err != nil {
			return sum, c.fail(i, "gate", err)
		}

		c.setState(StateReceiving, i)
		req, err := c.ch.ReceiveAsync(buf, c.cfg.Peer, c.cfg.Tag)
		if err != nil {
			return sum, c.fail(i, "receive", err)
		}
		c.lanes.Table.Record(slot, req)
		c.syncOutstanding()

		c.setState(StateWaiting, i)
		start := time.Now()
		status, _, err := c.lanes.Table.Await(slot)
		wait := time.Since(start)
		c.obs.ObserveAwait(RoleConsumer, AwaitReceive, true, wait)
		c.syncOutstanding()
		if err != nil {
			return sum, c.fail(i, "wait", err)
		}
		sum.addWait(wait, true)

		c.setState(StateConsuming, i)
		report := Inspect(i, slot, buf[:status.Count])
		c.obs.ObserveTransfer(RoleConsumer, channel.OpReceive, status.Count)
		sum.Bytes += int64(status.Count)

		c.log.Debug("Payload received",
			zap.Int("iteration", i),
			zap.Int("slot", slot),
			zap.Int("bytes", status.Count),
			zap.Duration("wait", wait),
			zap.Bool("valid", report.Valid),
		)
		if !report.Valid {
			c.log.Warn("Unexpected payload",
				zap.Int("iteration", i),
				zap.String("first_byte", string(rune(report.FirstByte))),
				zap.String("expected", string(rune(FillByte(i)))),
				zap.Bool("uniform", report.Uniform),
			)
		}

		if err := c.reporter.Report(report); err != nil {
			return sum, c.fail(i, "report", err)
		}
		sum.Iterations++
	}

	if err := c.lanes.Table.AwaitAll(); err != nil {
		return sum, c.fail(c.cfg.Iterations, "drain", err)
	}

	c.setState(StateDone, c.cfg.Iterations)
	sum.finish()
	c.log.Info("Consumer finished", sum.Fields()...)
	return sum, nil
}
