package pipeline

import (
	"github.com/GriffinCanCode/dbpipe/internal/channel"
)

// Ring owns the slot buffers of one role. Buffers are allocated once and
// never resized.
type Ring struct {
	bufs [][]byte
}

// NewRing allocates slots buffers of size bytes each.
func NewRing(slots, size int) *Ring {
	bufs := make([][]byte, slots)
	for i := range bufs {
		bufs[i] = make([]byte, size)
	}
	return &Ring{bufs: bufs}
}

// Acquire maps an iteration to its slot.
func (r *Ring) Acquire(iteration int) int {
	return iteration % len(r.bufs)
}

// Buffer returns the buffer of slot. It must not be written while the slot
// has an outstanding request; use Lanes.Reuse to get it safely.
func (r *Ring) Buffer(slot int) []byte {
	return r.bufs[slot]
}

// Slots returns the number of slots.
func (r *Ring) Slots() int {
	return len(r.bufs)
}

// Table tracks at most one outstanding request per slot. A nil entry means
// nothing is outstanding.
type Table struct {
	pending []*channel.Request
}

// NewTable creates a table with every slot empty.
func NewTable(slots int) *Table {
	return &Table{pending: make([]*channel.Request, slots)}
}

// AwaitIfPending blocks on the slot's outstanding request, if any, and clears
// it. It reports whether there was one. The slot is cleared even when the
// request failed.
func (t *Table) AwaitIfPending(slot int) (bool, error) {
	_, pending, err := t.Await(slot)
	return pending, err
}

// Await is AwaitIfPending that also returns the completion status of the
// request it waited on.
func (t *Table) Await(slot int) (channel.Status, bool, error) {
	req := t.pending[slot]
	if req == nil {
		return channel.Status{}, false, nil
	}
	t.pending[slot] = nil

	status, err := req.Wait()
	return status, true, err
}

// Record stores a newly issued request. The slot must be empty, which holds
// as long as the caller gated on it earlier in the same iteration.
func (t *Table) Record(slot int, req *channel.Request) {
	t.pending[slot] = req
}

// AwaitAll drains every slot. Empty slots are skipped, so calling it on a
// drained table returns at once.
func (t *Table) AwaitAll() error {
	reqs := make([]*channel.Request, len(t.pending))
	copy(reqs, t.pending)
	clear(t.pending)
	return channel.AwaitAll(reqs...)
}

// Outstanding returns the number of slots holding a request.
func (t *Table) Outstanding() int {
	n := 0
	for _, req := range t.pending {
		if req != nil {
			n++
		}
	}
	return n
}

// Lanes binds a Ring to its Table.
type Lanes struct {
	Ring  *Ring
	Table *Table
}

// NewLanes allocates a ring and an empty table with the same slot count.
func NewLanes(slots, size int) *Lanes {
	return &Lanes{
		Ring:  NewRing(slots, size),
		Table: NewTable(slots),
	}
}

// Reuse gates on slot and returns its buffer, ready to be written. Every
// mutation of a slot buffer goes through here.
func (l *Lanes) Reuse(slot int) ([]byte, bool, error) {
	pending, err := l.Table.AwaitIfPending(slot)
	if err != nil {
		return nil, pending, err
	}
	return l.Ring.Buffer(slot), pending, nil
}
