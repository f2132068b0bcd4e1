package grpcchan

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/GriffinCanCode/dbpipe/internal/channel"
)

// streamQueueDepth bounds the sends queued on one stream before SendAsync
// starts to block.
const streamQueueDepth = 64

type streamKey struct {
	dest int
	tag  int
}

// outStream carries every send from this participant to one (dest, tag).
// Frames go out in queue order and acks come back in the same order, which
// keeps messages of the same key FIFO end to end.
type outStream struct {
	owner *Channel
	key   streamKey
	id    string
	log   *zap.Logger
	queue chan *channel.Request

	mu  sync.Mutex
	err error
}

func newOutStream(owner *Channel, key streamKey) *outStream {
	id := uuid.NewString()
	return &outStream{
		owner: owner,
		key:   key,
		id:    id,
		log:   owner.log.With(zap.Int("dest", key.dest), zap.Int("tag", key.tag), zap.String("stream_id", id)),
		queue: make(chan *channel.Request, streamQueueDepth),
	}
}

func (s *outStream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	s.err = err
	if errors.Is(err, channel.ErrClosed) {
		s.log.Debug("Outbound stream closed")
		return
	}
	s.log.Error("Outbound stream failed", zap.Error(err))
}

func (s *outStream) error() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *outStream) status(req *channel.Request) channel.Status {
	return channel.Status{Source: s.owner.rank, Tag: s.key.tag, Count: len(req.Buffer())}
}

// run owns the client stream until ctx ends. After a failure it keeps
// consuming the queue so that no issued request is left uncompleted.
func (s *outStream) run(ctx context.Context) {
	inflight := make(chan *channel.Request, streamQueueDepth)
	acked := make(chan struct{})
	defer func() {
		close(inflight)
		<-acked
	}()

	cs, err := s.open(ctx)
	if err != nil {
		s.fail(err)
		close(acked)
	} else {
		go func() {
			defer close(acked)
			s.receiveAcks(cs, inflight)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			s.fail(channel.ErrClosed)
			return
		case req := <-s.queue:
			if err := s.error(); err != nil {
				req.Complete(s.status(req), err)
				continue
			}
			if err := cs.SendMsg(&wrapperspb.BytesValue{Value: req.Buffer()}); err != nil {
				s.fail(fmt.Errorf("send frame: %w", err))
				req.Complete(s.status(req), s.error())
				continue
			}
			inflight <- req
		}
	}
}

func (s *outStream) open(ctx context.Context) (grpc.ClientStream, error) {
	conn, err := s.owner.conn(s.key.dest)
	if err != nil {
		return nil, err
	}
	if err := waitReady(ctx, conn, s.owner.cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("connect to rank %d: %w", s.key.dest, err)
	}

	md := metadata.Pairs(
		mdSource, strconv.Itoa(s.owner.rank),
		mdTag, strconv.Itoa(s.key.tag),
		mdStreamID, s.id,
	)
	opts := []grpc.CallOption{grpc.WaitForReady(true)}
	if s.owner.cfg.Compression == CompressionZstd {
		opts = append(opts, grpc.UseCompressor(CompressionZstd))
	}

	cs, err := conn.NewStream(metadata.NewOutgoingContext(ctx, md), &serviceDesc.Streams[0], transferMethod, opts...)
	if err != nil {
		return nil, fmt.Errorf("open stream to rank %d: %w", s.key.dest, err)
	}
	s.log.Debug("Outbound stream opened")
	return cs, nil
}

func (s *outStream) receiveAcks(cs grpc.ClientStream, inflight <-chan *channel.Request) {
	for req := range inflight {
		if err := s.error(); err != nil {
			req.Complete(s.status(req), err)
			continue
		}
		if err := cs.RecvMsg(new(emptypb.Empty)); err != nil {
			s.fail(fmt.Errorf("receive ack: %w", err))
			req.Complete(s.status(req), s.error())
			continue
		}
		req.Complete(s.status(req), nil)
	}
}

// drain completes requests still queued after run has returned.
func (s *outStream) drain() {
	for {
		select {
		case req := <-s.queue:
			req.Complete(s.status(req), channel.ErrClosed)
		default:
			return
		}
	}
}
