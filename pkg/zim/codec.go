package zim

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz/lzma"
)

// Compression identifies a cluster compression algorithm. The values are
// format constants stored in the low four bits of the cluster info byte;
// changing them breaks archive compatibility.
type Compression uint8

const (
	CompressionNone  Compression = 1
	CompressionZip   Compression = 2
	CompressionBzip2 Compression = 3
	CompressionLzma  Compression = 4
	CompressionZstd  Compression = 5
)

// String returns the human-readable name of a compression algorithm.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZip:
		return "zip"
	case CompressionBzip2:
		return "bzip2"
	case CompressionLzma:
		return "lzma"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Codec compresses and decompresses cluster bodies as streams.
type Codec interface {
	// Compress wraps w; bytes written to the returned writer are stored
	// compressed. Close flushes the stream and must be called exactly once.
	Compress(w io.Writer) (io.WriteCloser, error)

	// Decompress wraps r so that reads return the decompressed bytes.
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// codecFor returns the Codec for a compression algorithm, or
// ErrUnsupportedCompression for algorithms this library does not carry.
func codecFor(c Compression) (Codec, error) {
	switch c {
	case CompressionNone:
		return nopCodec{}, nil
	case CompressionLzma:
		return lzmaCodec{}, nil
	case CompressionZstd:
		return zstdCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, c)
	}
}

// nopCodec passes bytes through unchanged, for uncompressed clusters.
type nopCodec struct{}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (nopCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (nopCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

// zstdCodec uses klauspost zstd. Encoder concurrency is pinned to one so
// that identical inputs produce identical archives regardless of GOMAXPROCS.
type zstdCodec struct{}

func (zstdCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
}

func (zstdCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

// lzmaCodec uses the ulikunitz LZMA implementation.
type lzmaCodec struct{}

func (lzmaCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	return lzma.NewWriter(w)
}

func (lzmaCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	lr, err := lzma.NewReader(r)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(lr), nil
}

// isCompressibleMimeType reports whether content of the given MIME type is
// worth compressing. Text and structured-text types compress well; media
// types are almost always compressed already.
func isCompressibleMimeType(mimeType string) bool {
	switch {
	case len(mimeType) >= 5 && mimeType[:5] == "text/":
		return true
	case mimeType == "application/json",
		mimeType == "application/xml",
		mimeType == "application/javascript",
		mimeType == "application/x-javascript",
		mimeType == "image/svg+xml":
		return true
	}
	for i := len(mimeType) - 1; i >= 0; i-- {
		if mimeType[i] == '+' {
			suffix := mimeType[i+1:]
			return suffix == "json" || suffix == "xml"
		}
	}
	return false
}
