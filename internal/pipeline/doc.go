// Package pipeline implements the double-buffered producer/consumer drivers.
//
// A Ring holds a fixed number of equally sized buffers (two by default) and a
// Table holds at most one outstanding channel.Request per slot. Iteration i
// uses slot i mod Slots. Before a driver touches a slot's buffer it gates on
// that slot: if the transfer issued on it earlier is still live, the driver
// blocks until it completes. Completion is never polled ahead of time, so
// a send on one slot overlaps with filling and simulated work on the other.
//
// Producer states:
//
//	Idle → Gating → Filling → Sending → Throttling → (loop) → Draining → Done
//
// Consumer states:
//
//	Idle → Receiving → Waiting → Consuming → (loop) → Done
//
// Drivers are single goroutine. The only suspension points are the gate, the
// consumer's wait for its receive, and the final drain.
//
// Example Usage:
//
//	p := pipeline.NewProducer(ch, cfg).WithLogger(logger)
//	summary, err := p.Run(ctx)
package pipeline
