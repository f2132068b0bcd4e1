// Package local provides an in-process channel.World whose endpoints share
// mailboxes directly. Sends reference the sender's buffer until a matching
// receive copies it, which gives the same buffer-reuse contract as the
// network transport.
package local

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/dbpipe/internal/channel"
)

// World is a set of connected endpoints, one per rank.
type World struct {
	mailboxes []*channel.Mailbox
	endpoints []*Endpoint
	closeOnce sync.Once
}

// NewWorld creates a world of size participants.
func NewWorld(size int) *World {
	w := &World{
		mailboxes: make([]*channel.Mailbox, size),
		endpoints: make([]*Endpoint, size),
	}
	for i := range w.mailboxes {
		w.mailboxes[i] = channel.NewMailbox()
		w.endpoints[i] = &Endpoint{world: w, rank: i}
	}
	return w
}

// Size returns the number of participants.
func (w *World) Size() int {
	return len(w.endpoints)
}

// Endpoint returns the channel of the given rank.
func (w *World) Endpoint(rank int) *Endpoint {
	return w.endpoints[rank]
}

// Close closes every endpoint.
func (w *World) Close() error {
	w.closeOnce.Do(func() {
		for _, m := range w.mailboxes {
			m.Close(channel.ErrClosed)
		}
	})
	return nil
}

// Endpoint is one participant's view of a World. It implements
// channel.Channel.
type Endpoint struct {
	world  *World
	rank   int
	closed atomic.Bool

	sends    atomic.Int64
	receives atomic.Int64
}

var _ channel.Channel = (*Endpoint)(nil)

func (e *Endpoint) Rank() int { return e.rank }
func (e *Endpoint) Size() int { return e.world.Size() }

// SendAsync queues buf on the destination's mailbox.
func (e *Endpoint) SendAsync(buf []byte, dest, tag int) (*channel.Request, error) {
	if e.closed.Load() {
		return nil, channel.ErrClosed
	}
	if err := channel.CheckPeer(e.rank, e.Size(), dest, tag); err != nil {
		return nil, err
	}

	req := channel.NewRequest(channel.OpSend, buf, dest, tag)
	env := &channel.Envelope{
		Source:  e.rank,
		Tag:     tag,
		Payload: buf,
		Delivered: func(err error) {
			req.Complete(channel.Status{Source: e.rank, Tag: tag, Count: len(buf)}, err)
		},
	}
	if err := e.world.mailboxes[dest].Deliver(env); err != nil {
		return nil, fmt.Errorf("send to %d: %w", dest, err)
	}
	e.sends.Add(1)
	return req, nil
}

// ReceiveAsync posts buf on the caller's own mailbox.
func (e *Endpoint) ReceiveAsync(buf []byte, src, tag int) (*channel.Request, error) {
	if e.closed.Load() {
		return nil, channel.ErrClosed
	}
	if err := channel.CheckPeer(e.rank, e.Size(), src, tag); err != nil {
		return nil, err
	}

	req := channel.NewRequest(channel.OpReceive, buf, src, tag)
	if err := e.world.mailboxes[e.rank].Post(req); err != nil {
		return nil, fmt.Errorf("receive from %d: %w", src, err)
	}
	e.receives.Add(1)
	return req, nil
}

// Close stops the endpoint. Requests already posted on its mailbox fail with
// channel.ErrClosed.
func (e *Endpoint) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.world.mailboxes[e.rank].Close(channel.ErrClosed)
	return nil
}

// Counts returns the number of sends and receives issued so far.
func (e *Endpoint) Counts() (sends, receives int64) {
	return e.sends.Load(), e.receives.Load()
}
