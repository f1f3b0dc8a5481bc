package zim

import (
	"fmt"
	"io"

	"github.com/google/uuid"
)

// File format magic and version constants.
const (
	Magic = uint32(0x44D495A) // "ZIM\x04"

	MajorVersionClassic  = uint16(5)
	MajorVersionExtended = uint16(6)
	MinorVersion         = uint16(1)

	HeaderSize = 80

	// ClusterBaseOffset is where the first cluster is written. The gap
	// after the mime list leaves headroom so the header and mime list can
	// be rewritten in place when the archive is finalized.
	ClusterBaseOffset = 1024

	// NoEntry is the sentinel for the header's main-page and layout-page
	// slots when no such entry is designated.
	NoEntry = uint32(0xFFFFFFFF)
)

// Header is the fixed 80-byte structure at the start of every archive.
// All offsets are absolute file byte offsets.
type Header struct {
	MajorVersion  uint16
	MinorVersion  uint16
	UUID          uuid.UUID
	EntryCount    uint32
	ClusterCount  uint32
	URLPtrPos     uint64
	TitleIdxPos   uint64
	ClusterPtrPos uint64
	MimeListPos   uint64
	MainPage      uint32
	LayoutPage    uint32
	ChecksumPos   uint64
}

// writeHeader writes h at the writer's current position.
func writeHeader(w io.Writer, h *Header) error {
	if err := writeUint32(w, Magic); err != nil {
		return err
	}
	if err := writeUint16(w, h.MajorVersion); err != nil {
		return err
	}
	if err := writeUint16(w, h.MinorVersion); err != nil {
		return err
	}
	if _, err := w.Write(h.UUID[:]); err != nil {
		return err
	}
	if err := writeUint32(w, h.EntryCount); err != nil {
		return err
	}
	if err := writeUint32(w, h.ClusterCount); err != nil {
		return err
	}
	if err := writeUint64(w, h.URLPtrPos); err != nil {
		return err
	}
	if err := writeUint64(w, h.TitleIdxPos); err != nil {
		return err
	}
	if err := writeUint64(w, h.ClusterPtrPos); err != nil {
		return err
	}
	if err := writeUint64(w, h.MimeListPos); err != nil {
		return err
	}
	if err := writeUint32(w, h.MainPage); err != nil {
		return err
	}
	if err := writeUint32(w, h.LayoutPage); err != nil {
		return err
	}
	return writeUint64(w, h.ChecksumPos)
}

// readHeader reads and validates a header from the reader's current position.
func readHeader(r io.Reader) (*Header, error) {
	magic, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: invalid magic 0x%X", ErrCorruptArchive, magic)
	}

	h := &Header{}
	if h.MajorVersion, err = readUint16(r); err != nil {
		return nil, err
	}
	if h.MajorVersion != MajorVersionClassic && h.MajorVersion != MajorVersionExtended {
		return nil, fmt.Errorf("%w: unsupported major version %d", ErrCorruptArchive, h.MajorVersion)
	}
	if h.MinorVersion, err = readUint16(r); err != nil {
		return nil, err
	}
	if _, err = io.ReadFull(r, h.UUID[:]); err != nil {
		return nil, err
	}
	if h.EntryCount, err = readUint32(r); err != nil {
		return nil, err
	}
	if h.ClusterCount, err = readUint32(r); err != nil {
		return nil, err
	}
	if h.URLPtrPos, err = readUint64(r); err != nil {
		return nil, err
	}
	if h.TitleIdxPos, err = readUint64(r); err != nil {
		return nil, err
	}
	if h.ClusterPtrPos, err = readUint64(r); err != nil {
		return nil, err
	}
	if h.MimeListPos, err = readUint64(r); err != nil {
		return nil, err
	}
	if h.MainPage, err = readUint32(r); err != nil {
		return nil, err
	}
	if h.LayoutPage, err = readUint32(r); err != nil {
		return nil, err
	}
	if h.ChecksumPos, err = readUint64(r); err != nil {
		return nil, err
	}
	return h, nil
}
