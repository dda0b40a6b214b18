package debug

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression formats of trace outputs.
const (
	Uncompressed = "none"
	Snappy       = "snappy"
	Zstd         = "zstd"
)

// NewWriter wraps w to compress the trace written to it. Closing the returned
// writer flushes the compressed stream but does not close w.
func NewWriter(w io.Writer, compression string) (io.WriteCloser, error) {
	switch compression {
	case "", Uncompressed:
		return nopCloser{w}, nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case Zstd:
		return zstd.NewWriter(w,
			zstd.WithEncoderCRC(false),
			zstd.WithEncoderConcurrency(1),
			zstd.WithEncoderLevel(zstd.SpeedFastest),
		)
	default:
		return nil, fmt.Errorf("unknown compression format: %q", compression)
	}
}

// NewReader decompresses a trace written by a writer returned by NewWriter.
func NewReader(r io.Reader, compression string) (io.ReadCloser, error) {
	switch compression {
	case "", Uncompressed:
		return io.NopCloser(r), nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case Zstd:
		d, err := zstd.NewReader(r,
			zstd.IgnoreChecksum(true),
			zstd.WithDecoderConcurrency(1),
		)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unknown compression format: %q", compression)
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
