package zim

import (
	"bytes"
	"fmt"
	"io"
	"math"
)

// clusterInfo byte layout: low four bits are the compression algorithm,
// bit 4 is the extended (64-bit offsets) flag.
const clusterExtendedFlag = 0x10

// cluster accumulates blobs on the writer side. The Creator owns every
// cluster until the file write completes; dirents reference clusters only
// by index once the cluster is closed.
type cluster struct {
	compression Compression
	providers   []ContentProvider
	dirents     []*Dirent // dirents whose blobs live here, stamped at close
	size        uint64    // sum of provider sizes

	index  uint32 // assigned at close, before the cluster enters any queue
	offset uint64 // absolute file offset, recorded by the writer goroutine

	// Compression result, written once by a worker and read once by the
	// writer goroutine after done is closed.
	data []byte
	err  error
	done chan struct{}
}

func newCluster(compression Compression) *cluster {
	return &cluster{
		compression: compression,
		done:        make(chan struct{}),
	}
}

// count returns the number of blobs added so far.
func (c *cluster) count() int { return len(c.providers) }

// estimatedSize returns the running uncompressed payload size.
func (c *cluster) estimatedSize() uint64 { return c.size }

// addContent records a provider and the dirent owning the blob, returning
// the blob index within the cluster.
func (c *cluster) addContent(p ContentProvider, d *Dirent) uint32 {
	blobIdx := uint32(len(c.providers))
	c.providers = append(c.providers, p)
	if d != nil {
		c.dirents = append(c.dirents, d)
	}
	c.size += p.Size()
	return blobIdx
}

// isExtended reports whether the cluster body needs 64-bit blob offsets:
// the body (offset table plus payload) must fit addressable in 32 bits
// using 32-bit offsets, otherwise the extended layout is used.
func (c *cluster) isExtended() bool {
	n := uint64(len(c.providers))
	return (n+1)*4+c.size > math.MaxUint32
}

// serialize produces the complete on-disk cluster: the info byte followed
// by the (possibly compressed) body of (N+1) offsets and blob payloads.
// Offsets are relative to the byte after the info byte; the first equals
// the offset table's own length, the last equals the total body length.
func (c *cluster) serialize() ([]byte, error) {
	codec, err := codecFor(c.compression)
	if err != nil {
		return nil, err
	}

	extended := c.isExtended()
	info := byte(c.compression)
	if extended {
		info |= clusterExtendedFlag
	}

	var buf bytes.Buffer
	buf.WriteByte(info)

	cw, err := codec.Compress(&buf)
	if err != nil {
		return nil, fmt.Errorf("opening compressor: %w", err)
	}

	offSize := uint64(4)
	if extended {
		offSize = 8
	}
	n := uint64(len(c.providers))

	// Offset table: running offsets of each blob boundary.
	off := (n + 1) * offSize
	writeOff := func(v uint64) error {
		if extended {
			return writeUint64(cw, v)
		}
		return writeUint32(cw, uint32(v))
	}
	if err := writeOff(off); err != nil {
		return nil, err
	}
	for _, p := range c.providers {
		off += p.Size()
		if err := writeOff(off); err != nil {
			return nil, err
		}
	}

	// Blob payloads, each provider consumed exactly once.
	for i, p := range c.providers {
		var written uint64
		for {
			chunk, err := p.NextChunk()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("reading blob %d: %w", i, err)
			}
			if _, err := cw.Write(chunk); err != nil {
				return nil, err
			}
			written += uint64(len(chunk))
		}
		if written != p.Size() {
			return nil, fmt.Errorf("blob %d produced %d bytes, provider declared %d", i, written, p.Size())
		}
	}

	if err := cw.Close(); err != nil {
		return nil, fmt.Errorf("closing compressor: %w", err)
	}
	return buf.Bytes(), nil
}
