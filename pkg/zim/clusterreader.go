package zim

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// clusterRef is the reader-side view of one cluster. The compressed region
// is wrapped in a bounded section reader; the decompressed body and parsed
// offset table are materialized once, on first blob access, and shared by
// every concurrent reader of the cluster. Blobs are sub-slices of the
// shared body; holding one keeps the body alive.
type clusterRef struct {
	compression Compression
	extended    bool
	src         *io.SectionReader // cluster body region, after the info byte

	once    sync.Once
	body    []byte
	offsets []uint64 // N+1 blob boundaries, relative to the body start
	err     error
}

// openClusterRef reads the cluster info byte at start and prepares a lazy
// reference over the body region [start+1, end).
func openClusterRef(r io.ReaderAt, start, end uint64) (*clusterRef, error) {
	if end <= start {
		return nil, fmt.Errorf("%w: empty cluster region", ErrCorruptArchive)
	}
	var info [1]byte
	if _, err := r.ReadAt(info[:], int64(start)); err != nil {
		return nil, fmt.Errorf("reading cluster info: %w", err)
	}
	comp := Compression(info[0] & 0x0F)
	switch comp {
	case CompressionNone, CompressionLzma, CompressionZstd:
	default:
		return nil, fmt.Errorf("%w: cluster compression %s", ErrUnsupportedCompression, comp)
	}
	return &clusterRef{
		compression: comp,
		extended:    info[0]&clusterExtendedFlag != 0,
		src:         io.NewSectionReader(r, int64(start)+1, int64(end-start)-1),
	}, nil
}

// load materializes the decompressed body and parses the offset table.
// Safe for concurrent callers; the work happens once.
func (c *clusterRef) load() error {
	c.once.Do(func() {
		codec, err := codecFor(c.compression)
		if err != nil {
			c.err = err
			return
		}
		dr, err := codec.Decompress(c.src)
		if err != nil {
			c.err = fmt.Errorf("opening decompressor: %w", err)
			return
		}
		defer dr.Close()
		body, err := io.ReadAll(dr)
		if err != nil {
			c.err = fmt.Errorf("decompressing cluster: %w", err)
			return
		}
		c.body = body
		c.err = c.parseOffsets()
	})
	return c.err
}

func (c *clusterRef) parseOffsets() error {
	offSize := uint64(4)
	if c.extended {
		offSize = 8
	}
	if uint64(len(c.body)) < offSize {
		return fmt.Errorf("%w: cluster body shorter than one offset", ErrCorruptArchive)
	}

	readOff := func(i uint64) uint64 {
		if c.extended {
			return binary.LittleEndian.Uint64(c.body[i*8:])
		}
		return uint64(binary.LittleEndian.Uint32(c.body[i*4:]))
	}

	first := readOff(0)
	if first < offSize || first%offSize != 0 {
		return fmt.Errorf("%w: invalid first blob offset %d", ErrCorruptArchive, first)
	}
	count := first / offSize // N+1 table entries
	if count*offSize > uint64(len(c.body)) {
		return fmt.Errorf("%w: offset table exceeds cluster body", ErrCorruptArchive)
	}

	offsets := make([]uint64, count)
	prev := uint64(0)
	for i := uint64(0); i < count; i++ {
		off := readOff(i)
		if off < prev || off > uint64(len(c.body)) {
			return fmt.Errorf("%w: blob offset %d out of range", ErrCorruptArchive, off)
		}
		offsets[i] = off
		prev = off
	}
	c.offsets = offsets
	return nil
}

// blobCount returns the number of blobs in the cluster.
func (c *clusterRef) blobCount() (uint32, error) {
	if err := c.load(); err != nil {
		return 0, err
	}
	return uint32(len(c.offsets) - 1), nil
}

// blobSize returns the size of blob i.
func (c *clusterRef) blobSize(i uint32) (uint64, error) {
	if err := c.load(); err != nil {
		return 0, err
	}
	if int(i)+1 >= len(c.offsets) {
		return 0, fmt.Errorf("%w: blob %d of %d", ErrInvalidBlob, i, len(c.offsets)-1)
	}
	return c.offsets[i+1] - c.offsets[i], nil
}

// blob returns the bytes of blob i. The slice shares the cluster's
// decompressed buffer and must be treated as read-only.
func (c *clusterRef) blob(i uint32) ([]byte, error) {
	if err := c.load(); err != nil {
		return nil, err
	}
	if int(i)+1 >= len(c.offsets) {
		return nil, fmt.Errorf("%w: blob %d of %d", ErrInvalidBlob, i, len(c.offsets)-1)
	}
	return c.body[c.offsets[i]:c.offsets[i+1]], nil
}

// blobRange returns size bytes of blob i starting at sub.
func (c *clusterRef) blobRange(i uint32, sub, size uint64) ([]byte, error) {
	b, err := c.blob(i)
	if err != nil {
		return nil, err
	}
	if sub+size > uint64(len(b)) {
		return nil, fmt.Errorf("%w: range [%d, %d) of %d-byte blob", ErrInvalidBlob, sub, sub+size, len(b))
	}
	return b[sub : sub+size], nil
}
