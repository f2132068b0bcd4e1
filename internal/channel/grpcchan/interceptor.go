package grpcchan

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const mdRunID = "dbpipe-run-id"

// runIDClientInterceptor stamps every outbound stream with the run ID so a
// peer left over from another run sharing the same ports is refused.
func runIDClientInterceptor(runID string) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		if runID != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, mdRunID, runID)
		}
		return streamer(ctx, desc, cc, method, opts...)
	}
}

// runIDServerInterceptor rejects streams whose run ID differs from ours and
// logs the lifetime of every accepted stream. Either side leaving the run ID
// empty disables the check.
func runIDServerInterceptor(runID string, log *zap.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		md, _ := metadata.FromIncomingContext(ss.Context())
		var remote string
		if vals := md.Get(mdRunID); len(vals) > 0 {
			remote = vals[0]
		}
		if runID != "" && remote != "" && remote != runID {
			log.Warn("Rejected stream from another run",
				zap.String("method", info.FullMethod),
				zap.String("remote_run_id", remote),
			)
			return status.Errorf(codes.FailedPrecondition, "run id %q does not match %q", remote, runID)
		}

		start := time.Now()
		err := handler(srv, ss)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			log.Debug("Stream ended with error", append(fields, zap.Error(err))...)
		} else {
			log.Debug("Stream completed", fields...)
		}
		return err
	}
}
