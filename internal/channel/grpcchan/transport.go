// Package grpcchan implements channel.Channel on top of gRPC.
//
// Every participant runs one gRPC server on its own address and dials peers
// lazily on the first send. Sends to the same (dest, tag) share one
// bidirectional Transfer stream; the server acknowledges a frame only after it
// has been copied into a matching receive, so a completed send means the
// payload has landed on the peer.
//
// Messages use the protobuf well-known types (BytesValue frames, Empty acks),
// so no generated code is needed. Frames can be compressed with zstd. Streams
// carry the run ID and a receiver refuses streams from a different run.
package grpcchan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/GriffinCanCode/dbpipe/internal/channel"
)

// Config configures a gRPC channel endpoint.
type Config struct {
	// Rank is this participant's index into Peers.
	Rank int
	// Peers lists every participant's listen address, indexed by rank.
	Peers []string
	// Listener overrides listening on Peers[Rank]. Tests pass a listener bound
	// to an ephemeral port.
	Listener net.Listener
	// Compression is "" / "none" or CompressionZstd.
	Compression string
	// MaxMessageBytes bounds the payload of a single frame in both directions.
	// The gRPC limits are raised by the frame's encoding overhead.
	MaxMessageBytes int
	// ConnectTimeout bounds how long the first send waits for a peer to come up.
	ConnectTimeout time.Duration
	// RunID, when set, is sent with every stream and must match the peer's.
	RunID  string
	Logger *zap.Logger
}

const (
	defaultMaxMessageBytes = 16 * 1024 * 1024
	defaultConnectTimeout  = 30 * time.Second

	// gracefulStopTimeout bounds how long Close waits for inbound streams,
	// whose last acks may still be in flight, before cutting them off.
	gracefulStopTimeout = 5 * time.Second
)

// Channel is a gRPC-backed channel.Channel.
type Channel struct {
	cfg     Config
	rank    int
	size    int
	log     *zap.Logger
	mailbox *channel.Mailbox
	lis     net.Listener
	server  *grpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu     sync.RWMutex
	closed bool

	streamsMu sync.Mutex
	streams   map[streamKey]*outStream
	connsMu   sync.Mutex
	conns     map[int]*grpc.ClientConn

	closeOnce sync.Once
	closeErr  error
}

var _ channel.Channel = (*Channel)(nil)

// New starts serving on this participant's address. Peers are not contacted
// until the first send.
func New(cfg Config) (*Channel, error) {
	if cfg.Rank < 0 || cfg.Rank >= len(cfg.Peers) {
		return nil, fmt.Errorf("%w: %d of %d peers", channel.ErrInvalidRank, cfg.Rank, len(cfg.Peers))
	}
	switch cfg.Compression {
	case "", "none", CompressionZstd:
	default:
		return nil, fmt.Errorf("unsupported compression %q", cfg.Compression)
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	lis := cfg.Listener
	if lis == nil {
		var err error
		lis, err = net.Listen("tcp", cfg.Peers[cfg.Rank])
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Peers[cfg.Rank], err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:     cfg,
		rank:    cfg.Rank,
		size:    len(cfg.Peers),
		log:     cfg.Logger.With(zap.Int("rank", cfg.Rank)),
		mailbox: channel.NewMailbox(),
		lis:     lis,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[int]*grpc.ClientConn),
		streams: make(map[streamKey]*outStream),
	}

	c.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(frameLimit(cfg.MaxMessageBytes)),
		grpc.MaxSendMsgSize(frameLimit(cfg.MaxMessageBytes)),
		grpc.WaitForHandlers(true),
		grpc.StreamInterceptor(runIDServerInterceptor(cfg.RunID, c.log)),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             30 * time.Second,
			PermitWithoutStream: false,
		}),
	)
	c.server.RegisterService(&serviceDesc, &server{
		rank:    c.rank,
		size:    c.size,
		mailbox: c.mailbox,
		log:     c.log,
	})

	c.group.Go(func() error {
		if err := c.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	c.log.Info("Transport listening", zap.String("addr", lis.Addr().String()), zap.Int("size", c.size))
	return c, nil
}

func (c *Channel) Rank() int { return c.rank }
func (c *Channel) Size() int { return c.size }

// Addr returns the address the server is bound to.
func (c *Channel) Addr() net.Addr {
	return c.lis.Addr()
}

// SendAsync queues buf on the stream to (dest, tag).
func (c *Channel) SendAsync(buf []byte, dest, tag int) (*channel.Request, error) {
	if err := channel.CheckPeer(c.rank, c.size, dest, tag); err != nil {
		return nil, err
	}
	if len(buf) > c.cfg.MaxMessageBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, len(buf), c.cfg.MaxMessageBytes)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, channel.ErrClosed
	}

	s, err := c.stream(streamKey{dest: dest, tag: tag})
	if err != nil {
		return nil, err
	}

	req := channel.NewRequest(channel.OpSend, buf, dest, tag)
	select {
	case s.queue <- req:
		return req, nil
	case <-c.ctx.Done():
		return nil, channel.ErrClosed
	}
}

// ReceiveAsync posts buf to be filled by the next frame from (src, tag).
func (c *Channel) ReceiveAsync(buf []byte, src, tag int) (*channel.Request, error) {
	if err := channel.CheckPeer(c.rank, c.size, src, tag); err != nil {
		return nil, err
	}

	req := channel.NewRequest(channel.OpReceive, buf, src, tag)
	if err := c.mailbox.Post(req); err != nil {
		return nil, fmt.Errorf("receive from %d: %w", src, err)
	}
	return req, nil
}

// stream returns the outbound stream for key, starting it on first use. The
// caller holds c.mu for reading.
func (c *Channel) stream(key streamKey) (*outStream, error) {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()

	if s, ok := c.streams[key]; ok {
		return s, nil
	}
	s := newOutStream(c, key)
	c.streams[key] = s
	c.group.Go(func() error {
		s.run(c.ctx)
		return nil
	})
	return s, nil
}

// conn returns the client connection to dest, creating it on first use.
func (c *Channel) conn(dest int) (*grpc.ClientConn, error) {
	c.connsMu.Lock()
	defer c.connsMu.Unlock()

	if cc, ok := c.conns[dest]; ok {
		return cc, nil
	}

	cc, err := grpc.NewClient(c.cfg.Peers[dest],
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                60 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: false,
		}),
		grpc.WithStreamInterceptor(runIDClientInterceptor(c.cfg.RunID)),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(frameLimit(c.cfg.MaxMessageBytes)),
			grpc.MaxCallSendMsgSize(frameLimit(c.cfg.MaxMessageBytes)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rank %d at %s: %w", dest, c.cfg.Peers[dest], err)
	}
	c.conns[dest] = cc
	return cc, nil
}

// Close fails outstanding requests with channel.ErrClosed, stops the server
// and closes peer connections.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.mailbox.Close(channel.ErrClosed)
		c.stopServer()

		errs := []error{c.group.Wait()}

		c.streamsMu.Lock()
		for _, s := range c.streams {
			s.drain()
		}
		c.streamsMu.Unlock()

		c.connsMu.Lock()
		for dest, cc := range c.conns {
			if err := cc.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close conn to rank %d: %w", dest, err))
			}
		}
		c.connsMu.Unlock()

		c.closeErr = errors.Join(errs...)
		c.log.Info("Transport closed")
	})
	return c.closeErr
}

// stopServer lets inbound handlers finish sending acks for frames already
// delivered. Peers end those streams when they close.
func (c *Channel) stopServer() {
	stopped := make(chan struct{})
	go func() {
		c.server.GracefulStop()
		close(stopped)
	}()

	timer := time.NewTimer(gracefulStopTimeout)
	defer timer.Stop()
	select {
	case <-stopped:
	case <-timer.C:
		c.log.Warn("Inbound streams still open, stopping server", zap.Duration("waited", gracefulStopTimeout))
		c.server.Stop()
		<-stopped
	}
}

// waitReady blocks until conn is ready, the timeout passes, or ctx ends.
func waitReady(ctx context.Context, conn *grpc.ClientConn, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if state == connectivity.Shutdown {
			return channel.ErrClosed
		}
		if !conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}
