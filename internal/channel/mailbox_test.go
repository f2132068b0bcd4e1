package channel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxPostThenDeliver(t *testing.T) {
	m := NewMailbox()
	buf := make([]byte, 4)
	req := NewRequest(OpReceive, buf, 0, 7)

	require.NoError(t, m.Post(req))
	assert.False(t, req.Test())

	var delivered error = errors.New("not called")
	require.NoError(t, m.Deliver(&Envelope{
		Source:    0,
		Tag:       7,
		Payload:   []byte("ABCD"),
		Delivered: func(err error) { delivered = err },
	}))

	status, err := req.Wait()
	require.NoError(t, err)
	assert.NoError(t, delivered)
	assert.Equal(t, Status{Source: 0, Tag: 7, Count: 4}, status)
	assert.Equal(t, []byte("ABCD"), buf)
}

func TestMailboxDeliverThenPost(t *testing.T) {
	m := NewMailbox()
	require.NoError(t, m.Deliver(&Envelope{Source: 1, Tag: 0, Payload: []byte("xy")}))

	receives, messages := m.Pending()
	assert.Equal(t, 0, receives)
	assert.Equal(t, 1, messages)

	buf := make([]byte, 2)
	req := NewRequest(OpReceive, buf, 1, 0)
	require.NoError(t, m.Post(req))

	assert.True(t, req.Test())
	assert.Equal(t, []byte("xy"), buf)
}

func TestMailboxPreservesOrderPerKey(t *testing.T) {
	m := NewMailbox()
	for _, b := range []byte("ABC") {
		require.NoError(t, m.Deliver(&Envelope{Source: 0, Tag: 0, Payload: []byte{b}}))
	}
	// A different tag must not be picked up by tag 0 receives.
	require.NoError(t, m.Deliver(&Envelope{Source: 0, Tag: 1, Payload: []byte{'Z'}}))

	var got []byte
	for i := 0; i < 3; i++ {
		buf := make([]byte, 1)
		req := NewRequest(OpReceive, buf, 0, 0)
		require.NoError(t, m.Post(req))
		_, err := req.Wait()
		require.NoError(t, err)
		got = append(got, buf[0])
	}

	assert.Equal(t, []byte("ABC"), got)
	_, messages := m.Pending()
	assert.Equal(t, 1, messages)
}

func TestMailboxTruncation(t *testing.T) {
	m := NewMailbox()
	buf := make([]byte, 2)
	req := NewRequest(OpReceive, buf, 0, 0)
	require.NoError(t, m.Post(req))

	var delivered error
	require.NoError(t, m.Deliver(&Envelope{
		Payload:   []byte("ABCD"),
		Delivered: func(err error) { delivered = err },
	}))

	status, err := req.Wait()
	assert.ErrorIs(t, err, ErrTruncated)
	assert.ErrorIs(t, delivered, ErrTruncated)
	assert.Equal(t, 2, status.Count)
	assert.Equal(t, []byte("AB"), buf)
}

func TestMailboxClose(t *testing.T) {
	m := NewMailbox()
	req := NewRequest(OpReceive, make([]byte, 1), 0, 0)
	require.NoError(t, m.Post(req))

	var delivered error
	require.NoError(t, m.Deliver(&Envelope{
		Source:    0,
		Tag:       3,
		Payload:   []byte{1},
		Delivered: func(err error) { delivered = err },
	}))

	m.Close(nil)

	_, err := req.Wait()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, delivered, ErrClosed)

	assert.ErrorIs(t, m.Post(NewRequest(OpReceive, nil, 0, 0)), ErrClosed)
	assert.ErrorIs(t, m.Deliver(&Envelope{}), ErrClosed)

	// Second close keeps the first error.
	m.Close(errors.New("other"))
	assert.ErrorIs(t, m.Post(NewRequest(OpReceive, nil, 0, 0)), ErrClosed)
}
