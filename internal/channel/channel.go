package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed fails every request still outstanding when a channel closes,
	// and every request issued after.
	ErrClosed = errors.New("channel closed")
	// ErrTruncated fails a receive whose buffer is shorter than the matched
	// message, and the send that delivered it.
	ErrTruncated = errors.New("message truncated")
	// ErrInvalidRank is returned for a peer outside the world or equal to the
	// caller.
	ErrInvalidRank = errors.New("invalid rank")
	// ErrInvalidTag is returned for a negative tag.
	ErrInvalidTag = errors.New("invalid tag")
)

// Channel is the messaging capability shared by all participants of a run.
type Channel interface {
	// Rank returns the caller's participant id.
	Rank() int
	// Size returns the number of participants.
	Size() int
	// SendAsync starts sending buf to dest. buf must stay untouched until the
	// returned request completes.
	SendAsync(buf []byte, dest, tag int) (*Request, error)
	// ReceiveAsync starts receiving into buf from src.
	ReceiveAsync(buf []byte, src, tag int) (*Request, error)
	// Close fails every outstanding request with ErrClosed and releases
	// transport resources.
	Close() error
}

// CheckPeer validates a peer rank and tag against a world of the given size.
func CheckPeer(self, size, peer, tag int) error {
	if peer < 0 || peer >= size {
		return fmt.Errorf("%w: %d (size %d)", ErrInvalidRank, peer, size)
	}
	if peer == self {
		return fmt.Errorf("%w: %d is the caller", ErrInvalidRank, peer)
	}
	if tag < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTag, tag)
	}
	return nil
}
