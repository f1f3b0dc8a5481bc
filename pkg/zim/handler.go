package zim

import (
	"bytes"
	"fmt"
	"sort"
)

// DirentHandler observes every dirent the Creator accepts and may
// contribute one entry of its own when the archive is finalized. This is
// the writer's only extension seam; title and full-text indexers plug in
// here.
//
// Lifecycle: Start is called when the Creator starts, Handle for every
// accepted dirent (with the Item for dirents added through AddItem, nil
// for metadata, redirects and handler-created dirents), and
// Stop after entry indexes, mime types and the title order are final.
// Dirent may be called before Stop to materialize the handler's entry;
// ContentProvider is called after Stop and its content is ingested as an
// ordinary uncompressed item. Handlers that only observe return nil from
// Dirent.
type DirentHandler interface {
	Start(c *Creator) error
	Handle(d *Dirent, item Item) error
	Stop() error
	Dirent() (*Dirent, error)
	ContentProvider() (ContentProvider, error)
}

// titleIndexHandler backs the header's title index table. It watches
// every accepted dirent and, once the layout is final, orders the
// survivors by (namespace, title, path). It contributes no entry of its
// own.
type titleIndexHandler struct {
	c    *Creator
	seen []*Dirent
}

func (h *titleIndexHandler) Start(c *Creator) error { h.c = c; return nil }

func (h *titleIndexHandler) Handle(d *Dirent, _ Item) error {
	h.seen = append(h.seen, d)
	return nil
}

func (h *titleIndexHandler) Stop() error              { return nil }
func (h *titleIndexHandler) Dirent() (*Dirent, error) { return nil, nil }
func (h *titleIndexHandler) ContentProvider() (ContentProvider, error) {
	return nil, nil
}

// titleOrder returns the seen dirents that survived redirect resolution
// and duplicate replacement, in title order.
func (h *titleIndexHandler) titleOrder() []*Dirent {
	ordered := make([]*Dirent, 0, len(h.seen))
	for _, d := range h.seen {
		if h.c.byPath[pathKey{d.Namespace, d.Path}] == d {
			ordered = append(ordered, d)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return titleLess(ordered[i], ordered[j]) })
	return ordered
}

// titleListingHandler emits the X/listing/titleOrdered/v1 entry: the
// title-ordered entry indexes as little-endian u32s, stored uncompressed
// so readers can binary search it without inflating a cluster.
type titleListingHandler struct {
	c      *Creator
	dirent *Dirent
}

func (h *titleListingHandler) Start(c *Creator) error     { h.c = c; return nil }
func (h *titleListingHandler) Handle(*Dirent, Item) error { return nil }
func (h *titleListingHandler) Stop() error                { return nil }

func (h *titleListingHandler) Dirent() (*Dirent, error) {
	if h.dirent == nil {
		h.dirent = h.c.createDirent('X', "listing/titleOrdered/v1", "application/octet-stream+zimlisting", "")
	}
	return h.dirent, nil
}

func (h *titleListingHandler) ContentProvider() (ContentProvider, error) {
	var buf bytes.Buffer
	for _, d := range h.c.titleIdx {
		if err := writeUint32(&buf, d.entryIdx); err != nil {
			return nil, err
		}
	}
	return NewBytesProvider(buf.Bytes()), nil
}

// TextIndex is the opaque full-text backend consumed through the handler
// seam. The Creator feeds it entries and, at finish, stores whatever
// content it produces under X/fulltext/xapian.
type TextIndex interface {
	Start(language string) error
	AddEntry(path, title string, item Item) error
	Stop() error
	ContentProvider() (ContentProvider, error)
}

// textIndexHandler adapts a TextIndex backend to the DirentHandler seam.
type textIndexHandler struct {
	c       *Creator
	backend TextIndex
	dirent  *Dirent
}

func (h *textIndexHandler) Start(c *Creator) error {
	h.c = c
	if err := h.backend.Start(c.indexLanguage); err != nil {
		return fmt.Errorf("starting text index: %w", err)
	}
	return nil
}

func (h *textIndexHandler) Handle(d *Dirent, item Item) error {
	if item == nil || !d.IsItem() {
		return nil
	}
	return h.backend.AddEntry(d.Path, d.Title, item)
}

func (h *textIndexHandler) Stop() error { return h.backend.Stop() }

func (h *textIndexHandler) Dirent() (*Dirent, error) {
	if h.dirent == nil {
		h.dirent = h.c.createDirent('X', "fulltext/xapian", "application/octet-stream+xapian", "")
	}
	return h.dirent, nil
}

func (h *textIndexHandler) ContentProvider() (ContentProvider, error) {
	return h.backend.ContentProvider()
}
