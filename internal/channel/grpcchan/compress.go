package grpcchan

import (
	"io"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
)

// CompressionZstd is the grpc compressor name registered by this package.
const CompressionZstd = "zstd"

func init() {
	encoding.RegisterCompressor(zstdCompressor{})
}

// zstdCompressor frames gRPC messages with klauspost zstd.
type zstdCompressor struct{}

func (zstdCompressor) Name() string { return CompressionZstd }

func (zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
}

func (zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &zstdReader{dec: dec}, nil
}

// zstdReader releases the decoder once the message is fully read.
type zstdReader struct {
	dec *zstd.Decoder
}

func (z *zstdReader) Read(p []byte) (int, error) {
	if z.dec == nil {
		return 0, io.EOF
	}
	n, err := z.dec.Read(p)
	if err == io.EOF {
		z.dec.Close()
		z.dec = nil
	}
	return n, err
}
