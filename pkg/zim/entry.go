package zim

import (
	"fmt"
)

// Entry is one archive entry: an item, a redirect, or an internal
// placeholder. Entries are cheap handles; blob data is fetched on demand
// through the archive's cluster cache.
type Entry struct {
	a   *Archive
	d   *Dirent
	idx uint32
}

// Index returns the entry's URL-order index.
func (e *Entry) Index() uint32 { return e.idx }

// Namespace returns the entry's namespace byte.
func (e *Entry) Namespace() byte { return e.d.Namespace }

// Path returns the entry path without the namespace prefix.
func (e *Entry) Path() string { return e.d.Path }

// FullPath returns the namespace-qualified path.
func (e *Entry) FullPath() string { return e.d.FullPath() }

// Title returns the entry title; equal to the path when none was stored.
func (e *Entry) Title() string { return e.d.Title }

// IsRedirect reports whether the entry redirects to another entry.
func (e *Entry) IsRedirect() bool { return e.d.IsRedirect() }

// RedirectIndex returns the target entry index of a redirect.
func (e *Entry) RedirectIndex() (uint32, error) {
	if !e.d.IsRedirect() {
		return 0, fmt.Errorf("entry %s is not a redirect", e.FullPath())
	}
	return e.d.RedirectIdx, nil
}

// Redirect returns the entry a redirect points at.
func (e *Entry) Redirect() (*Entry, error) {
	idx, err := e.RedirectIndex()
	if err != nil {
		return nil, err
	}
	return e.a.EntryByIndex(idx)
}

// Item resolves the entry to an item, following redirects. Redirect
// chains are bounded by the entry count, so a corrupt cycle terminates.
func (e *Entry) Item() (*Entry, error) {
	cur := e
	for hops := uint32(0); cur.IsRedirect(); hops++ {
		if hops > e.a.EntryCount() {
			return nil, fmt.Errorf("%w: redirect cycle at %s", ErrCorruptArchive, e.FullPath())
		}
		next, err := cur.Redirect()
		if err != nil {
			return nil, err
		}
		cur = next
	}
	if !cur.d.IsItem() {
		return nil, fmt.Errorf("entry %s has no data", cur.FullPath())
	}
	return cur, nil
}

// MimeType returns the entry's MIME type from the archive's mime list.
func (e *Entry) MimeType() (string, error) {
	if !e.d.IsItem() {
		return "", fmt.Errorf("entry %s has no mimetype", e.FullPath())
	}
	if int(e.d.MimeIdx) >= len(e.a.mimeTypes) {
		return "", fmt.Errorf("%w: mimetype index %d of %d", ErrCorruptArchive, e.d.MimeIdx, len(e.a.mimeTypes))
	}
	return e.a.mimeTypes[e.d.MimeIdx], nil
}

// Size returns the entry's blob size, following redirects.
func (e *Entry) Size() (uint64, error) {
	item, err := e.Item()
	if err != nil {
		return 0, err
	}
	ref, err := e.a.clusterAt(item.d.ClusterIdx)
	if err != nil {
		return 0, err
	}
	return ref.blobSize(item.d.BlobIdx)
}

// Data returns the entry's blob bytes, following redirects. The slice
// shares the cluster's decompressed buffer and must be treated as
// read-only; holding it keeps the buffer alive.
func (e *Entry) Data() ([]byte, error) {
	item, err := e.Item()
	if err != nil {
		return nil, err
	}
	ref, err := e.a.clusterAt(item.d.ClusterIdx)
	if err != nil {
		return nil, err
	}
	return ref.blob(item.d.BlobIdx)
}

// DataRange returns size bytes of the entry's blob starting at off.
func (e *Entry) DataRange(off, size uint64) ([]byte, error) {
	item, err := e.Item()
	if err != nil {
		return nil, err
	}
	ref, err := e.a.clusterAt(item.d.ClusterIdx)
	if err != nil {
		return nil, err
	}
	return ref.blobRange(item.d.BlobIdx, off, size)
}
