package zim

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Default reader cache capacities.
const (
	DefaultDirentCacheSize  = 512
	DefaultClusterCacheSize = 16
)

// Archive is a read-only view of a ZIM file. All public methods are safe
// for concurrent use: decoded dirents and decompressed clusters are shared
// through LRU caches, and a cached cluster is decompressed once however
// many readers share it. A cluster evicted from the cache is decompressed
// again on its next access.
type Archive struct {
	f    *os.File
	path string
	size uint64

	header      *Header
	mimeTypes   []string
	urlPtrs     []uint64
	titleIdx    []uint32
	clusterPtrs []uint64

	direntCache  *lru.Cache[uint32, *Dirent]
	clusterCache *lru.Cache[uint32, *clusterRef]
	clusterMu    sync.Mutex
}

// ArchiveOption configures an Archive on open.
type ArchiveOption func(*archiveConfig)

type archiveConfig struct {
	direntCacheSize  int
	clusterCacheSize int
}

// WithDirentCacheSize sets the decoded-dirent LRU capacity.
func WithDirentCacheSize(n int) ArchiveOption {
	return func(cfg *archiveConfig) { cfg.direntCacheSize = n }
}

// WithClusterCacheSize sets the decompressed-cluster LRU capacity.
func WithClusterCacheSize(n int) ArchiveOption {
	return func(cfg *archiveConfig) { cfg.clusterCacheSize = n }
}

// OpenArchive opens a ZIM file and reads its header, mime list and
// pointer tables.
func OpenArchive(path string, opts ...ArchiveOption) (*Archive, error) {
	cfg := &archiveConfig{
		direntCacheSize:  DefaultDirentCacheSize,
		clusterCacheSize: DefaultClusterCacheSize,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	a := &Archive{f: f, path: path}
	if err := a.load(cfg); err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) load(cfg *archiveConfig) error {
	fi, err := a.f.Stat()
	if err != nil {
		return err
	}
	a.size = uint64(fi.Size())
	if a.size < HeaderSize {
		return fmt.Errorf("%w: file shorter than header", ErrCorruptArchive)
	}

	header, err := readHeader(io.NewSectionReader(a.f, 0, HeaderSize))
	if err != nil {
		return err
	}
	a.header = header

	if header.ChecksumPos+16 > a.size {
		return fmt.Errorf("%w: checksum offset beyond end of file", ErrCorruptArchive)
	}
	for _, pos := range []uint64{header.MimeListPos, header.URLPtrPos, header.TitleIdxPos, header.ClusterPtrPos} {
		if pos > a.size {
			return fmt.Errorf("%w: table offset %d beyond end of file", ErrCorruptArchive, pos)
		}
	}

	if err := a.readMimeList(); err != nil {
		return err
	}
	if err := a.readTables(); err != nil {
		return err
	}

	a.direntCache, err = lru.New[uint32, *Dirent](cfg.direntCacheSize)
	if err != nil {
		return err
	}
	a.clusterCache, err = lru.New[uint32, *clusterRef](cfg.clusterCacheSize)
	if err != nil {
		return err
	}
	return nil
}

func (a *Archive) readMimeList() error {
	r := bufio.NewReader(io.NewSectionReader(a.f, int64(a.header.MimeListPos), int64(a.size-a.header.MimeListPos)))
	for {
		s, err := readCString(r)
		if err != nil {
			return fmt.Errorf("reading mime list: %w", err)
		}
		if s == "" {
			return nil
		}
		a.mimeTypes = append(a.mimeTypes, s)
	}
}

func (a *Archive) readTables() error {
	h := a.header

	if uint64(h.EntryCount)*8 > a.size-h.URLPtrPos {
		return fmt.Errorf("%w: URL pointer table out of range", ErrCorruptArchive)
	}
	r := bufio.NewReader(io.NewSectionReader(a.f, int64(h.URLPtrPos), int64(h.EntryCount)*8))
	a.urlPtrs = make([]uint64, h.EntryCount)
	for i := range a.urlPtrs {
		v, err := readUint64(r)
		if err != nil {
			return err
		}
		if v >= h.ChecksumPos {
			return fmt.Errorf("%w: dirent offset %d out of range", ErrCorruptArchive, v)
		}
		a.urlPtrs[i] = v
	}

	if uint64(h.EntryCount)*4 > a.size-h.TitleIdxPos {
		return fmt.Errorf("%w: title index table out of range", ErrCorruptArchive)
	}
	r = bufio.NewReader(io.NewSectionReader(a.f, int64(h.TitleIdxPos), int64(h.EntryCount)*4))
	a.titleIdx = make([]uint32, h.EntryCount)
	for i := range a.titleIdx {
		v, err := readUint32(r)
		if err != nil {
			return err
		}
		if v >= h.EntryCount {
			return fmt.Errorf("%w: title index entry %d out of range", ErrCorruptArchive, v)
		}
		a.titleIdx[i] = v
	}

	if uint64(h.ClusterCount)*8 > a.size-h.ClusterPtrPos {
		return fmt.Errorf("%w: cluster pointer table out of range", ErrCorruptArchive)
	}
	r = bufio.NewReader(io.NewSectionReader(a.f, int64(h.ClusterPtrPos), int64(h.ClusterCount)*8))
	a.clusterPtrs = make([]uint64, h.ClusterCount)
	for i := range a.clusterPtrs {
		v, err := readUint64(r)
		if err != nil {
			return err
		}
		if v >= h.ChecksumPos {
			return fmt.Errorf("%w: cluster offset %d out of range", ErrCorruptArchive, v)
		}
		a.clusterPtrs[i] = v
	}
	return nil
}

// Close releases the underlying file.
func (a *Archive) Close() error {
	return a.f.Close()
}

// EntryCount returns the number of entries.
func (a *Archive) EntryCount() uint32 { return a.header.EntryCount }

// ClusterCount returns the number of clusters.
func (a *Archive) ClusterCount() uint32 { return a.header.ClusterCount }

// UUID returns the archive identity.
func (a *Archive) UUID() uuid.UUID { return a.header.UUID }

// Filename returns the path the archive was opened from.
func (a *Archive) Filename() string { return a.path }

// HasMainEntry reports whether the archive designates a main page.
func (a *Archive) HasMainEntry() bool { return a.header.MainPage != NoEntry }

// MainEntry returns the archive's main page entry.
func (a *Archive) MainEntry() (*Entry, error) {
	if !a.HasMainEntry() {
		return nil, fmt.Errorf("%w: no main entry", ErrEntryNotFound)
	}
	return a.EntryByIndex(a.header.MainPage)
}

// EntryByIndex returns the entry at the given URL-order index.
func (a *Archive) EntryByIndex(idx uint32) (*Entry, error) {
	d, err := a.direntAt(idx)
	if err != nil {
		return nil, err
	}
	return &Entry{a: a, d: d, idx: idx}, nil
}

// EntryByTitleIndex returns the entry at the given title-order index.
func (a *Archive) EntryByTitleIndex(idx uint32) (*Entry, error) {
	if idx >= a.header.EntryCount {
		return nil, fmt.Errorf("%w: title index %d of %d", ErrEntryNotFound, idx, a.header.EntryCount)
	}
	return a.EntryByIndex(a.titleIdx[idx])
}

// EntryByPath looks an entry up by namespace and path via binary search
// over the URL pointer table.
func (a *Archive) EntryByPath(ns byte, path string) (*Entry, error) {
	var probeErr error
	i := sort.Search(int(a.header.EntryCount), func(i int) bool {
		if probeErr != nil {
			return true
		}
		d, err := a.direntAt(uint32(i))
		if err != nil {
			probeErr = err
			return true
		}
		if d.Namespace != ns {
			return d.Namespace > ns
		}
		return d.Path >= path
	})
	if probeErr != nil {
		return nil, probeErr
	}
	if i >= int(a.header.EntryCount) {
		return nil, fmt.Errorf("%w: %c/%s", ErrEntryNotFound, ns, path)
	}
	d, err := a.direntAt(uint32(i))
	if err != nil {
		return nil, err
	}
	if d.Namespace != ns || d.Path != path {
		return nil, fmt.Errorf("%w: %c/%s", ErrEntryNotFound, ns, path)
	}
	return &Entry{a: a, d: d, idx: uint32(i)}, nil
}

// Metadata returns the body of the named 'M'-namespace entry.
func (a *Archive) Metadata(name string) ([]byte, error) {
	e, err := a.EntryByPath('M', name)
	if err != nil {
		return nil, err
	}
	return e.Data()
}

// MetadataKeys returns the names of all metadata entries in URL order.
func (a *Archive) MetadataKeys() ([]string, error) {
	var keys []string
	it := a.IterByPath()
	for it.Next() {
		e := it.Entry()
		if e.Namespace() == 'M' {
			keys = append(keys, e.Path())
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// ParseValuesMap parses legacy map-valued metadata: entries are separated
// by ';', key and value by the first ':'.
func ParseValuesMap(s string) map[string]string {
	m := make(map[string]string)
	for _, part := range strings.Split(s, ";") {
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, ":")
		if !found {
			m[part] = ""
			continue
		}
		m[key] = value
	}
	return m
}

// direntAt returns the decoded dirent at the given entry index, through
// the dirent cache.
func (a *Archive) direntAt(idx uint32) (*Dirent, error) {
	if idx >= a.header.EntryCount {
		return nil, fmt.Errorf("%w: entry %d of %d", ErrEntryNotFound, idx, a.header.EntryCount)
	}
	if d, ok := a.direntCache.Get(idx); ok {
		cacheHits.WithLabelValues("dirent").Inc()
		return d, nil
	}
	cacheMisses.WithLabelValues("dirent").Inc()

	off := a.urlPtrs[idx]
	r := bufio.NewReader(io.NewSectionReader(a.f, int64(off), int64(a.header.ChecksumPos-off)))
	d, _, err := decodeDirent(r)
	if err != nil {
		return nil, fmt.Errorf("decoding dirent %d: %w", idx, err)
	}
	a.direntCache.Add(idx, d)
	return d, nil
}

// clusterAt returns the cluster reference for the given cluster index,
// through the cluster cache. The reference decompresses lazily; a cluster
// shared by concurrent readers is decompressed once.
func (a *Archive) clusterAt(idx uint32) (*clusterRef, error) {
	if idx >= a.header.ClusterCount {
		return nil, fmt.Errorf("%w: cluster %d of %d", ErrInvalidBlob, idx, a.header.ClusterCount)
	}

	a.clusterMu.Lock()
	if ref, ok := a.clusterCache.Get(idx); ok {
		a.clusterMu.Unlock()
		cacheHits.WithLabelValues("cluster").Inc()
		return ref, nil
	}
	cacheMisses.WithLabelValues("cluster").Inc()

	ref, err := openClusterRef(a.f, a.clusterPtrs[idx], a.clusterBound(idx))
	if err != nil {
		a.clusterMu.Unlock()
		return nil, err
	}
	a.clusterCache.Add(idx, ref)
	a.clusterMu.Unlock()
	return ref, nil
}

// clusterBound returns the exclusive end of the cluster's on-disk region:
// the next cluster's offset, or for the last cluster the start of the
// dirent region (the smallest dirent offset past the cluster) or the
// checksum.
func (a *Archive) clusterBound(idx uint32) uint64 {
	start := a.clusterPtrs[idx]
	bound := a.header.ChecksumPos
	if int(idx)+1 < len(a.clusterPtrs) && a.clusterPtrs[idx+1] > start {
		return a.clusterPtrs[idx+1]
	}
	for _, pos := range []uint64{a.header.URLPtrPos, a.header.TitleIdxPos, a.header.ClusterPtrPos} {
		if pos > start && pos < bound {
			bound = pos
		}
	}
	if len(a.urlPtrs) > 0 && a.urlPtrs[0] > start && a.urlPtrs[0] < bound {
		bound = a.urlPtrs[0]
	}
	return bound
}

// VerifyChecksum reads the whole file through MD5 and compares the result
// with the 16-byte trailer.
func (a *Archive) VerifyChecksum() error {
	digest := md5.New()
	r := io.NewSectionReader(a.f, 0, int64(a.header.ChecksumPos))
	if _, err := io.Copy(digest, r); err != nil {
		return fmt.Errorf("checksumming: %w", err)
	}
	want := make([]byte, 16)
	if _, err := a.f.ReadAt(want, int64(a.header.ChecksumPos)); err != nil {
		return fmt.Errorf("reading checksum trailer: %w", err)
	}
	if !bytes.Equal(digest.Sum(nil), want) {
		return ErrChecksumMismatch
	}
	return nil
}

// EntryIterator walks entries in URL or title order.
type EntryIterator struct {
	a       *Archive
	byTitle bool
	next    uint32
	cur     *Entry
	err     error
}

// IterByPath iterates entries in URL order.
func (a *Archive) IterByPath() *EntryIterator {
	return &EntryIterator{a: a}
}

// IterByTitle iterates entries in title order.
func (a *Archive) IterByTitle() *EntryIterator {
	return &EntryIterator{a: a, byTitle: true}
}

// Next advances the iterator. It returns false at the end or on error;
// check Err afterwards.
func (it *EntryIterator) Next() bool {
	if it.err != nil || it.next >= it.a.EntryCount() {
		return false
	}
	var e *Entry
	var err error
	if it.byTitle {
		e, err = it.a.EntryByTitleIndex(it.next)
	} else {
		e, err = it.a.EntryByIndex(it.next)
	}
	if err != nil {
		it.err = err
		return false
	}
	it.cur = e
	it.next++
	return true
}

// Entry returns the current entry. Only valid after Next returns true.
func (it *EntryIterator) Entry() *Entry { return it.cur }

// Err returns the first error the iterator hit, if any.
func (it *EntryIterator) Err() error { return it.err }
