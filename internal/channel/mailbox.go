package channel

import (
	"fmt"
	"sync"
)

// Envelope is an arrived message waiting to be matched with a receive.
type Envelope struct {
	Source  int
	Tag     int
	Payload []byte

	// Delivered is called once the payload has been copied into a receive
	// buffer, or the mailbox was closed first. It may be nil.
	Delivered func(err error)
}

type matchKey struct {
	source int
	tag    int
}

// Mailbox matches posted receives with arrived messages of one participant.
// Both sides are queued FIFO per (source, tag).
type Mailbox struct {
	mu      sync.Mutex
	posted  map[matchKey][]*Request
	arrived map[matchKey][]*Envelope
	err     error
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		posted:  make(map[matchKey][]*Request),
		arrived: make(map[matchKey][]*Envelope),
	}
}

// Deliver hands an arrived message to the oldest matching receive, or queues
// it until one is posted.
func (m *Mailbox) Deliver(env *Envelope) error {
	k := matchKey{source: env.Source, tag: env.Tag}

	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return err
	}
	q := m.posted[k]
	if len(q) == 0 {
		m.arrived[k] = append(m.arrived[k], env)
		m.mu.Unlock()
		return nil
	}
	req := q[0]
	m.posted[k] = pop(q)
	m.mu.Unlock()

	match(req, env)
	return nil
}

// Post queues a receive request, matching it at once if a message is
// already waiting.
func (m *Mailbox) Post(req *Request) error {
	k := matchKey{source: req.Peer(), tag: req.Tag()}

	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return err
	}
	q := m.arrived[k]
	if len(q) == 0 {
		m.posted[k] = append(m.posted[k], req)
		m.mu.Unlock()
		return nil
	}
	env := q[0]
	m.arrived[k] = pop(q)
	m.mu.Unlock()

	match(req, env)
	return nil
}

// Pending returns the number of unmatched receives and messages.
func (m *Mailbox) Pending() (receives, messages int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, q := range m.posted {
		receives += len(q)
	}
	for _, q := range m.arrived {
		messages += len(q)
	}
	return receives, messages
}

// Close fails everything still queued with err (ErrClosed if nil). Later
// calls to Deliver and Post return the same error.
func (m *Mailbox) Close(err error) {
	if err == nil {
		err = ErrClosed
	}

	m.mu.Lock()
	if m.err != nil {
		m.mu.Unlock()
		return
	}
	m.err = err
	posted, arrived := m.posted, m.arrived
	m.posted = make(map[matchKey][]*Request)
	m.arrived = make(map[matchKey][]*Envelope)
	m.mu.Unlock()

	for _, q := range posted {
		for _, req := range q {
			req.Complete(Status{Source: req.Peer(), Tag: req.Tag()}, err)
		}
	}
	for _, q := range arrived {
		for _, env := range q {
			if env.Delivered != nil {
				env.Delivered(err)
			}
		}
	}
}

func match(req *Request, env *Envelope) {
	n := copy(req.Buffer(), env.Payload)

	var err error
	if len(env.Payload) > len(req.Buffer()) {
		err = fmt.Errorf("%w: %d bytes into %d byte buffer", ErrTruncated, len(env.Payload), len(req.Buffer()))
	}

	req.Complete(Status{Source: env.Source, Tag: env.Tag, Count: n}, err)
	if env.Delivered != nil {
		env.Delivered(err)
	}
}

func pop[T any](q []T) []T {
	var zero T
	q[0] = zero
	return q[1:]
}
