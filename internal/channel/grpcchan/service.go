package grpcchan

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/GriffinCanCode/dbpipe/internal/channel"
)

const (
	serviceName    = "dbpipe.v1.Transport"
	transferMethod = "/" + serviceName + "/Transfer"

	mdSource   = "dbpipe-source"
	mdTag      = "dbpipe-tag"
	mdStreamID = "dbpipe-stream-id"
)

// ErrMessageTooLarge is returned by SendAsync for a payload above
// Config.MaxMessageBytes.
var ErrMessageTooLarge = errors.New("message exceeds frame limit")

// frameLimit is the encoded size of a BytesValue frame carrying payload
// bytes: field 1 tag, length prefix, then the bytes.
func frameLimit(payload int) int {
	return protowire.SizeTag(1) + protowire.SizeBytes(payload)
}

// transportServer is the server side of the Transfer stream: the client sends
// one BytesValue frame per message, the server answers each with an Empty ack
// once the frame has been copied into a matching receive.
type transportServer interface {
	Transfer(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*transportServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Transfer",
			Handler:       transferHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "dbpipe/transport",
}

func transferHandler(srv any, stream grpc.ServerStream) error {
	return srv.(transportServer).Transfer(stream)
}

type server struct {
	rank    int
	size    int
	mailbox *channel.Mailbox
	log     *zap.Logger
}

func (s *server) Transfer(stream grpc.ServerStream) error {
	md, _ := metadata.FromIncomingContext(stream.Context())
	source, tag, err := parseHeader(md)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := channel.CheckPeer(s.rank, s.size, source, tag); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	log := s.log.With(zap.Int("source", source), zap.Int("tag", tag), zap.Strings("stream_id", md.Get(mdStreamID)))
	log.Debug("Inbound stream opened")

	for frames := 0; ; frames++ {
		frame := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(frame); err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug("Inbound stream closed", zap.Int("frames", frames))
				return nil
			}
			return err
		}

		delivered := make(chan error, 1)
		env := &channel.Envelope{
			Source:    source,
			Tag:       tag,
			Payload:   frame.GetValue(),
			Delivered: func(err error) { delivered <- err },
		}
		if err := s.mailbox.Deliver(env); err != nil {
			return status.Error(codes.Unavailable, err.Error())
		}

		select {
		case err := <-delivered:
			if err != nil {
				return deliveryStatus(err)
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}

		if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
			return err
		}
	}
}

func deliveryStatus(err error) error {
	switch {
	case errors.Is(err, channel.ErrTruncated):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.Is(err, channel.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func parseHeader(md metadata.MD) (source, tag int, err error) {
	source, err = intHeader(md, mdSource)
	if err != nil {
		return 0, 0, err
	}
	tag, err = intHeader(md, mdTag)
	if err != nil {
		return 0, 0, err
	}
	return source, tag, nil
}

func intHeader(md metadata.MD, key string) (int, error) {
	vals := md.Get(key)
	if len(vals) != 1 {
		return 0, fmt.Errorf("missing %s header", key)
	}
	v, err := strconv.Atoi(vals[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s header: %w", key, err)
	}
	return v, nil
}
