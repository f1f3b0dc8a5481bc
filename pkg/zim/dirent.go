package zim

import (
	"bytes"
	"fmt"
	"io"
)

// Reserved MIME type indexes marking non-item dirents. Anything below
// mimeDeleted is an ordinary index into the archive's mime list.
const (
	mimeRedirect   = uint16(0xFFFF)
	mimeLinkTarget = uint16(0xFFFE)
	mimeDeleted    = uint16(0xFFFD)
)

// Dirent is a directory entry: one entry's identity and, for items, the
// (cluster, blob) address of its data. The on-disk form is a fixed prefix
// followed by path, title and parameter bytes; the title is stored empty
// when it equals the path.
type Dirent struct {
	MimeIdx   uint16
	Namespace byte
	Revision  uint32
	Path      string
	Title     string // effective title; equal to Path when none was given
	Parameter []byte

	// Item dirents only.
	ClusterIdx uint32
	BlobIdx    uint32

	// Redirect dirents only.
	RedirectIdx uint32

	// Writer-side state, never serialized.
	entryIdx     uint32
	redirectNS   byte
	redirectPath string
	target       *Dirent
	origMimeType string
}

// IsRedirect reports whether the dirent is a redirect to another entry.
func (d *Dirent) IsRedirect() bool { return d.MimeIdx == mimeRedirect }

// IsLinkTarget reports whether the dirent is a link target placeholder.
func (d *Dirent) IsLinkTarget() bool { return d.MimeIdx == mimeLinkTarget }

// IsDeleted reports whether the dirent is a deleted placeholder.
func (d *Dirent) IsDeleted() bool { return d.MimeIdx == mimeDeleted }

// IsItem reports whether the dirent carries blob data.
func (d *Dirent) IsItem() bool { return d.MimeIdx < mimeDeleted }

// FullPath returns the namespace-qualified path, e.g. "C/A/hello".
func (d *Dirent) FullPath() string {
	return string(d.Namespace) + "/" + d.Path
}

// storedTitle is the on-disk form of the title: empty when it equals the path.
func (d *Dirent) storedTitle() string {
	if d.Title == d.Path {
		return ""
	}
	return d.Title
}

// fixedSize is the length of the dirent prefix before the string section.
func (d *Dirent) fixedSize() int {
	switch {
	case d.IsRedirect():
		return 12 // mime(2) + paramLen(1) + ns(1) + revision(4) + redirectIdx(4)
	case d.IsItem():
		return 16 // mime(2) + paramLen(1) + ns(1) + revision(4) + cluster(4) + blob(4)
	default:
		return 8 // linktarget / deleted carry no payload fields
	}
}

// predictSize returns the exact number of bytes encodeDirent will produce.
// The writer relies on this to lay out the URL pointer table without a
// second serialization pass.
func predictSize(d *Dirent) int {
	return d.fixedSize() + len(d.Path) + 1 + len(d.storedTitle()) + 1 + len(d.Parameter)
}

// encodeDirent serializes d. The result is always predictSize(d) bytes.
func encodeDirent(d *Dirent) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, predictSize(d)))
	writeUint16(buf, d.MimeIdx)
	buf.WriteByte(byte(len(d.Parameter)))
	buf.WriteByte(d.Namespace)
	writeUint32(buf, d.Revision)
	switch {
	case d.IsRedirect():
		writeUint32(buf, d.RedirectIdx)
	case d.IsItem():
		writeUint32(buf, d.ClusterIdx)
		writeUint32(buf, d.BlobIdx)
	}
	writeCString(buf, d.Path)
	writeCString(buf, d.storedTitle())
	buf.Write(d.Parameter)
	return buf.Bytes()
}

// byteCountReader counts consumed bytes so decodeDirent can report the
// dirent's on-disk length.
type byteCountReader struct {
	r io.Reader
	n int
}

func (c *byteCountReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func (c *byteCountReader) ReadByte() (byte, error) {
	var b [1]byte
	_, err := io.ReadFull(c.r, b[:])
	if err != nil {
		return 0, err
	}
	c.n++
	return b[0], nil
}

// decodeDirent parses one dirent from r, which must be positioned at the
// dirent's first byte. It returns the dirent and its on-disk length.
func decodeDirent(r io.Reader) (*Dirent, int, error) {
	cr := &byteCountReader{r: r}
	d := &Dirent{}

	var err error
	if d.MimeIdx, err = readUint16(cr); err != nil {
		return nil, 0, fmt.Errorf("reading dirent mimetype: %w", err)
	}
	paramLen, err := readUint8(cr)
	if err != nil {
		return nil, 0, err
	}
	if d.Namespace, err = cr.ReadByte(); err != nil {
		return nil, 0, err
	}
	if d.Revision, err = readUint32(cr); err != nil {
		return nil, 0, err
	}

	switch {
	case d.IsRedirect():
		if d.RedirectIdx, err = readUint32(cr); err != nil {
			return nil, 0, err
		}
	case d.IsItem():
		if d.ClusterIdx, err = readUint32(cr); err != nil {
			return nil, 0, err
		}
		if d.BlobIdx, err = readUint32(cr); err != nil {
			return nil, 0, err
		}
	}

	if d.Path, err = readCString(cr); err != nil {
		return nil, 0, err
	}
	if d.Title, err = readCString(cr); err != nil {
		return nil, 0, err
	}
	if d.Title == "" {
		d.Title = d.Path
	}
	if paramLen > 0 {
		d.Parameter = make([]byte, paramLen)
		if _, err = io.ReadFull(cr, d.Parameter); err != nil {
			return nil, 0, fmt.Errorf("%w: truncated dirent parameter", ErrCorruptArchive)
		}
	}
	return d, cr.n, nil
}

// urlLess orders dirents by (namespace, path), the canonical URL order.
// The namespace is compared as a single byte.
func urlLess(a, b *Dirent) bool {
	if a.Namespace != b.Namespace {
		return a.Namespace < b.Namespace
	}
	return a.Path < b.Path
}

// titleLess orders dirents by (namespace, title, path), the title order.
func titleLess(a, b *Dirent) bool {
	if a.Namespace != b.Namespace {
		return a.Namespace < b.Namespace
	}
	if a.Title != b.Title {
		return a.Title < b.Title
	}
	return a.Path < b.Path
}
