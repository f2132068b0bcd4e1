package channel

import (
	"errors"
	"sync"
)

// Op identifies the direction of a transfer.
type Op int

const (
	OpSend Op = iota
	OpReceive
)

// String returns the string representation of the op
func (o Op) String() string {
	switch o {
	case OpSend:
		return "send"
	case OpReceive:
		return "receive"
	default:
		return "unknown"
	}
}

// Status describes a completed transfer.
type Status struct {
	Source int
	Tag    int
	Count  int
}

// Request is the handle of one non-blocking transfer. It completes exactly
// once; later completions are ignored.
type Request struct {
	op   Op
	peer int
	tag  int
	buf  []byte

	done   chan struct{}
	once   sync.Once
	status Status
	err    error
}

// NewRequest creates an incomplete request. Channel implementations call it
// when a transfer is issued.
func NewRequest(op Op, buf []byte, peer, tag int) *Request {
	return &Request{
		op:   op,
		peer: peer,
		tag:  tag,
		buf:  buf,
		done: make(chan struct{}),
	}
}

// Op reports whether the request is a send or a receive.
func (r *Request) Op() Op { return r.op }

// Peer is the destination of a send or the source of a receive.
func (r *Request) Peer() int { return r.peer }

// Tag is the message tag the request was issued with.
func (r *Request) Tag() int { return r.tag }

// Buffer is the caller's buffer. It must not be touched until the request
// completes.
func (r *Request) Buffer() []byte { return r.buf }

// Done is closed when the request completes.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Complete records the outcome and wakes every waiter.
func (r *Request) Complete(status Status, err error) {
	r.once.Do(func() {
		r.status = status
		r.err = err
		close(r.done)
	})
}

// Test reports whether the request has completed, without blocking.
func (r *Request) Test() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the request completes.
func (r *Request) Wait() (Status, error) {
	<-r.done
	return r.status, r.err
}

// Await blocks on r. A nil request is treated as already complete.
func Await(r *Request) (Status, error) {
	if r == nil {
		return Status{}, nil
	}
	return r.Wait()
}

// AwaitAll blocks until every non-nil request completes and joins their
// errors.
func AwaitAll(reqs ...*Request) error {
	var errs []error
	for _, r := range reqs {
		if _, err := Await(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
