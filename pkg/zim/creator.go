package zim

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMinClusterSize is the target cluster payload size in KiB.
	DefaultMinClusterSize = 2048

	// DefaultWorkers is the default number of compression workers.
	DefaultWorkers = 4
)

// Creator builds a ZIM archive. Items stream into clusters with bounded
// memory: a cluster that reaches the size target is closed, compressed on
// a worker goroutine, and written by a dedicated writer goroutine in close
// order. Layout fix-ups (redirect targets, mime renumbering, entry
// indexes, order tables) are deferred to Finish.
//
// All public methods must be called from a single producer goroutine.
// A failure on any goroutine is captured and re-surfaced on the next
// public call; after that the Creator is terminal and every call returns
// ErrCreatorErrored.
type Creator struct {
	logger         *slog.Logger
	verbose        bool
	compression    Compression
	minClusterSize uint64 // KiB
	numWorkers     int
	indexLanguage  string
	textIndex      TextIndex
	titleListing   bool
	archiveUUID    uuid.UUID
	mainPath       string
	faviconPath    string
	extraHandlers  []DirentHandler

	started  bool
	finished bool

	basename string
	file     *os.File

	byPath         map[pathKey]*Dirent
	dirents        []*Dirent // URL-sorted, built at Finish
	titleIdx       []*Dirent
	unresolved     map[*Dirent]struct{}
	mainPageDirent *Dirent

	mimeIdx  map[string]uint16
	mimeList []string

	handlers     []DirentHandler
	titleHandler *titleIndexHandler

	compCluster   *cluster
	uncompCluster *cluster
	clusters      []*cluster

	workQueue  chan *cluster
	writeQueue chan *cluster
	workerWG   sync.WaitGroup
	writerWG   sync.WaitGroup
	closeOnce  sync.Once
	clusterEnd uint64 // end of the cluster region, valid after the writer joins

	errMu       sync.Mutex
	err         error
	errReported bool

	nbDirents        int
	nbRedirects      int
	nbCompItems      int
	nbUncompItems    int
	nbCompClusters   int
	nbUncompClusters int
	startTime        time.Time
}

type pathKey struct {
	ns   byte
	path string
}

// CreatorOption configures a Creator.
type CreatorOption func(*Creator)

// WithVerbose enables periodic progress logging.
func WithVerbose(v bool) CreatorOption {
	return func(c *Creator) { c.verbose = v }
}

// WithCompression sets the cluster compression algorithm (default Zstd).
func WithCompression(comp Compression) CreatorOption {
	return func(c *Creator) { c.compression = comp }
}

// WithMinClusterSize sets the target cluster payload size in KiB.
func WithMinClusterSize(kib uint64) CreatorOption {
	return func(c *Creator) { c.minClusterSize = kib }
}

// WithWorkers sets the number of compression workers.
func WithWorkers(n int) CreatorOption {
	return func(c *Creator) { c.numWorkers = n }
}

// WithIndexing enables the full-text index handler backed by the given
// TextIndex, stemming for the given ISO-639 language tag.
func WithIndexing(language string, backend TextIndex) CreatorOption {
	return func(c *Creator) {
		c.indexLanguage = language
		c.textIndex = backend
	}
}

// WithTitleListing additionally emits the X/listing/titleOrdered/v1 entry.
func WithTitleListing() CreatorOption {
	return func(c *Creator) { c.titleListing = true }
}

// WithHandler registers an additional dirent handler.
func WithHandler(h DirentHandler) CreatorOption {
	return func(c *Creator) { c.extraHandlers = append(c.extraHandlers, h) }
}

// WithUUID fixes the archive identity instead of generating one.
func WithUUID(u uuid.UUID) CreatorOption {
	return func(c *Creator) { c.archiveUUID = u }
}

// WithLogger sets the logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) CreatorOption {
	return func(c *Creator) { c.logger = l }
}

// NewCreator returns a configured Creator. Zip and Bzip2 are valid format
// constants but this library cannot produce them.
func NewCreator(opts ...CreatorOption) (*Creator, error) {
	c := &Creator{
		compression:    CompressionZstd,
		minClusterSize: DefaultMinClusterSize,
		numWorkers:     DefaultWorkers,
		archiveUUID:    GenerateUUID(""),
		byPath:         make(map[pathKey]*Dirent),
		unresolved:     make(map[*Dirent]struct{}),
		mimeIdx:        make(map[string]uint16),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "zim.creator")

	if _, err := codecFor(c.compression); err != nil {
		return nil, err
	}
	if c.numWorkers < 1 {
		c.numWorkers = 1
	}
	if c.minClusterSize == 0 {
		c.minClusterSize = DefaultMinClusterSize
	}
	return c, nil
}

// SetMainPath designates the 'C'-namespace path the archive's main-page
// redirect will point at.
func (c *Creator) SetMainPath(path string) { c.mainPath = path }

// SetFaviconPath designates the 'C'-namespace path the favicon redirect
// will point at.
func (c *Creator) SetFaviconPath(path string) { c.faviconPath = path }

// SetUUID overrides the archive identity. Must be called before Finish.
func (c *Creator) SetUUID(u uuid.UUID) { c.archiveUUID = u }

// Start opens the temp file <base>.zim.tmp, where <base> is path with any
// trailing ".zim" removed, and launches the worker and writer goroutines.
// Finish renames the temp file to <base>.zim.
func (c *Creator) Start(path string) error {
	if c.started {
		return fmt.Errorf("creator already started")
	}

	c.basename = strings.TrimSuffix(path, ".zim")
	tmpPath := c.basename + ".zim.tmp"
	f, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmpPath, err)
	}
	c.file = f
	c.started = true
	c.startTime = time.Now()

	c.compCluster = newCluster(c.compression)
	c.uncompCluster = newCluster(CompressionNone)

	queueDepth := c.numWorkers * 4
	c.workQueue = make(chan *cluster, queueDepth)
	c.writeQueue = make(chan *cluster, queueDepth)

	c.workerWG.Add(c.numWorkers)
	for i := 0; i < c.numWorkers; i++ {
		go c.worker()
	}
	c.writerWG.Add(1)
	go c.clusterWriter()

	c.titleHandler = &titleIndexHandler{}
	c.handlers = append(c.handlers, c.titleHandler)
	if c.titleListing {
		c.handlers = append(c.handlers, &titleListingHandler{})
	}
	if c.textIndex != nil {
		c.handlers = append(c.handlers, &textIndexHandler{backend: c.textIndex})
	}
	c.handlers = append(c.handlers, c.extraHandlers...)
	for _, h := range c.handlers {
		if err := h.Start(c); err != nil {
			c.fail(err)
			return c.entry()
		}
	}
	return nil
}

// AddItem submits an item. The blob goes into the compressed or
// uncompressed open cluster depending on the item's compress hint, falling
// back to the MIME type heuristic. Blocks when the compression pipeline is
// saturated.
func (c *Creator) AddItem(item Item) error {
	if err := c.entry(); err != nil {
		return err
	}

	mimeType := item.MimeType()
	if mimeType == "" {
		c.logger.Warn("item has empty mimetype", "path", item.Path())
		mimeType = "application/octet-stream"
	}
	mimeIdx, err := c.mimeTypeIdx(mimeType)
	if err != nil {
		c.fail(err)
		return c.entry()
	}

	d := &Dirent{
		MimeIdx:      mimeIdx,
		Namespace:    'C',
		Path:         item.Path(),
		Title:        item.Title(),
		origMimeType: mimeType,
	}
	if d.Title == "" {
		d.Title = d.Path
	}
	if !c.addDirent(d) {
		return nil
	}

	compress, ok := item.Hints()[HintCompress]
	if !ok {
		compress = isCompressibleMimeType(mimeType)
	}
	provider, err := item.ContentProvider()
	if err != nil {
		c.fail(fmt.Errorf("content provider for %s: %w", d.FullPath(), err))
		return c.entry()
	}
	c.addItemData(d, provider, compress)

	if err := c.handleDirent(d, item); err != nil {
		c.fail(err)
		return c.entry()
	}

	itemsAddedTotal.Inc()
	c.tickProgress()
	return nil
}

// AddMetadata adds a metadata entry under the 'M' namespace.
func (c *Creator) AddMetadata(name string, content []byte, mimeType string) error {
	if err := c.entry(); err != nil {
		return err
	}
	mimeIdx, err := c.mimeTypeIdx(mimeType)
	if err != nil {
		c.fail(err)
		return c.entry()
	}
	d := &Dirent{
		MimeIdx:      mimeIdx,
		Namespace:    'M',
		Path:         name,
		Title:        name,
		origMimeType: mimeType,
	}
	if !c.addDirent(d) {
		return nil
	}
	c.addItemData(d, NewBytesProvider(content), isCompressibleMimeType(mimeType))
	if err := c.handleDirent(d, nil); err != nil {
		c.fail(err)
		return c.entry()
	}
	return nil
}

// AddRedirection adds a redirect in the 'C' namespace pointing at the
// 'C'-namespace target path. The target is resolved at Finish; a missing
// target drops the redirect.
func (c *Creator) AddRedirection(path, title, targetPath string) error {
	if err := c.entry(); err != nil {
		return err
	}
	if c.createRedirectDirent('C', path, title, 'C', targetPath) != nil {
		c.tickProgress()
	}
	return nil
}

// createDirent registers a dirent for the given namespace/path. Used by
// dirent handlers to materialize their virtual entries. Returns nil when
// a non-replaceable dirent already holds the path.
func (c *Creator) createDirent(ns byte, path, mimeType, title string) *Dirent {
	mimeIdx, err := c.mimeTypeIdx(mimeType)
	if err != nil {
		c.fail(err)
		return nil
	}
	d := &Dirent{
		MimeIdx:      mimeIdx,
		Namespace:    ns,
		Path:         path,
		Title:        title,
		origMimeType: mimeType,
	}
	if d.Title == "" {
		d.Title = d.Path
	}
	if !c.addDirent(d) {
		return nil
	}
	if err := c.handleDirent(d, nil); err != nil {
		c.fail(err)
		return nil
	}
	return d
}

func (c *Creator) createRedirectDirent(ns byte, path, title string, targetNS byte, targetPath string) *Dirent {
	d := &Dirent{
		MimeIdx:      mimeRedirect,
		Namespace:    ns,
		Path:         path,
		Title:        title,
		redirectNS:   targetNS,
		redirectPath: targetPath,
	}
	if d.Title == "" {
		d.Title = d.Path
	}
	if !c.addDirent(d) {
		return nil
	}
	if err := c.handleDirent(d, nil); err != nil {
		c.fail(err)
		return nil
	}
	return d
}

// addDirent registers d under its (namespace, path). On a duplicate, a
// non-redirect replaces an existing redirect; any other collision keeps
// the existing dirent and drops d with a warning.
func (c *Creator) addDirent(d *Dirent) bool {
	key := pathKey{d.Namespace, d.Path}
	if existing, ok := c.byPath[key]; ok {
		if existing.IsRedirect() && !d.IsRedirect() {
			delete(c.unresolved, existing)
		} else {
			c.logger.Warn("duplicate dirent ignored",
				"path", d.FullPath(),
				"title", d.Title,
				"existing_title", existing.Title)
			return false
		}
	}
	c.byPath[key] = d
	c.nbDirents++
	if d.IsRedirect() {
		c.unresolved[d] = struct{}{}
		c.nbRedirects++
	}
	return true
}

// addItemData appends the blob to the open cluster for the compression
// class, closing it first when the size target would be exceeded.
func (c *Creator) addItemData(d *Dirent, provider ContentProvider, compress bool) {
	size := provider.Size()

	cl := c.uncompCluster
	if compress {
		cl = c.compCluster
	}
	if cl.count() > 0 && cl.estimatedSize()+size >= c.minClusterSize*1024 {
		cl = c.closeCluster(compress)
	}
	d.BlobIdx = cl.addContent(provider, d)
	if compress {
		c.nbCompItems++
	} else {
		c.nbUncompItems++
	}
}

// closeCluster stamps the open cluster of the given class with its final
// cluster index, queues it for compression and ordered writing, and opens
// a fresh cluster. The index stamp happens on the producer goroutine,
// before the cluster enters any queue, so every dirent bound to the
// cluster observes the final index.
func (c *Creator) closeCluster(compressed bool) *cluster {
	cl := c.uncompCluster
	kind := "uncompressed"
	if compressed {
		cl = c.compCluster
		kind = "compressed"
		c.nbCompClusters++
	} else {
		c.nbUncompClusters++
	}

	cl.index = uint32(len(c.clusters))
	for _, d := range cl.dirents {
		d.ClusterIdx = cl.index
	}
	c.clusters = append(c.clusters, cl)

	if c.verbose {
		c.logger.Info("closing cluster",
			"index", cl.index,
			"kind", kind,
			"blobs", cl.count(),
			"bytes", cl.estimatedSize())
	}
	clustersClosedTotal.WithLabelValues(kind).Inc()

	// Both pushes may block: the work queue when all workers are busy,
	// the write queue when the writer is behind. This is the creator's
	// backpressure.
	c.workQueue <- cl
	c.writeQueue <- cl

	var fresh *cluster
	if compressed {
		fresh = newCluster(c.compression)
		c.compCluster = fresh
	} else {
		fresh = newCluster(CompressionNone)
		c.uncompCluster = fresh
	}
	return fresh
}

func (c *Creator) handleDirent(d *Dirent, item Item) error {
	for _, h := range c.handlers {
		if err := h.Handle(d, item); err != nil {
			return fmt.Errorf("dirent handler: %w", err)
		}
	}
	return nil
}

func (c *Creator) worker() {
	defer c.workerWG.Done()
	for cl := range c.workQueue {
		data, err := cl.serialize()
		cl.data, cl.err = data, err
		close(cl.done)
	}
}

// clusterWriter consumes closed clusters in submission order, waiting for
// each cluster's compression to complete before writing it. File offsets
// are therefore assigned in close order regardless of which worker
// finishes first.
func (c *Creator) clusterWriter() {
	defer c.writerWG.Done()
	offset := uint64(ClusterBaseOffset)
	for cl := range c.writeQueue {
		<-cl.done
		if cl.err != nil {
			c.fail(fmt.Errorf("compressing cluster %d: %w", cl.index, cl.err))
			continue
		}
		if c.failed() {
			continue // drain without writing
		}
		if _, err := c.file.WriteAt(cl.data, int64(offset)); err != nil {
			c.fail(fmt.Errorf("writing cluster %d: %w", cl.index, err))
			continue
		}
		cl.offset = offset
		offset += uint64(len(cl.data))
		cl.data = nil
	}
	c.clusterEnd = offset
}

func (c *Creator) mimeTypeIdx(mimeType string) (uint16, error) {
	if idx, ok := c.mimeIdx[mimeType]; ok {
		return idx, nil
	}
	if len(c.mimeList) >= int(mimeDeleted) {
		return 0, ErrMimeTableOverflow
	}
	idx := uint16(len(c.mimeList))
	c.mimeIdx[mimeType] = idx
	c.mimeList = append(c.mimeList, mimeType)
	return idx, nil
}

// fail records the first error; later errors are dropped.
func (c *Creator) fail(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Creator) failed() bool {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err != nil
}

// entry gates every public call. The captured error is reported exactly
// once; every later call returns ErrCreatorErrored.
func (c *Creator) entry() error {
	if !c.started {
		return fmt.Errorf("creator not started")
	}
	if c.finished {
		return ErrCreatorErrored
	}
	c.errMu.Lock()
	err := c.err
	reported := c.errReported
	c.errReported = c.err != nil
	c.errMu.Unlock()

	if err == nil {
		return nil
	}
	c.teardown()
	if reported {
		return ErrCreatorErrored
	}
	return err
}

// teardown drains the pipeline and discards the temp file after an error.
func (c *Creator) teardown() {
	c.closePipeline()
	if c.file != nil {
		c.file.Close()
		os.Remove(c.basename + ".zim.tmp")
		c.file = nil
	}
}

// closePipeline shuts the queues down and joins the goroutines, exactly once.
func (c *Creator) closePipeline() {
	c.closeOnce.Do(func() {
		close(c.workQueue)
		c.workerWG.Wait()
		close(c.writeQueue)
		c.writerWG.Wait()
	})
}

func (c *Creator) tickProgress() {
	if !c.verbose || c.nbDirents%1000 != 0 {
		return
	}
	c.logger.Info("progress",
		"elapsed", time.Since(c.startTime).Round(time.Second),
		"dirents", c.nbDirents,
		"redirects", c.nbRedirects,
		"comp_items", c.nbCompItems,
		"uncomp_items", c.nbUncompItems,
		"comp_clusters", c.nbCompClusters,
		"uncomp_clusters", c.nbUncompClusters,
		"queued", len(c.workQueue))
}

// Finish drains the handlers, resolves the deferred layout (redirects,
// entry indexes, mime renumbering, title order), flushes the remaining
// clusters through the pipeline, writes the directory and pointer tables,
// rewrites the header, appends the MD5 trailer and renames the temp file
// to its final name.
func (c *Creator) Finish() error {
	if err := c.entry(); err != nil {
		return err
	}
	c.finished = true

	// Mandatory redirects.
	if c.faviconPath != "" {
		c.createRedirectDirent('-', "favicon", "", 'C', c.faviconPath)
	}
	if c.mainPath != "" {
		c.mainPageDirent = c.createRedirectDirent('-', "mainPage", "", 'C', c.mainPath)
	}

	// Materialize handler entries so they take part in ordering.
	for _, h := range c.handlers {
		if _, err := h.Dirent(); err != nil {
			return c.abort(err)
		}
	}

	c.resolveRedirects()
	c.assignEntryIndexes()
	c.renumberMimeTypes()
	c.buildTitleIndex()

	// Handlers are final now; drain their content into the pipeline.
	for _, h := range c.handlers {
		if err := h.Stop(); err != nil {
			return c.abort(err)
		}
		d, err := h.Dirent()
		if err != nil {
			return c.abort(err)
		}
		if d == nil {
			continue
		}
		provider, err := h.ContentProvider()
		if err != nil {
			return c.abort(err)
		}
		if provider != nil {
			c.addItemData(d, provider, false)
		}
	}

	// Close the open clusters; empty clusters are never emitted.
	if c.compCluster.count() > 0 {
		c.closeCluster(true)
	}
	if c.uncompCluster.count() > 0 {
		c.closeCluster(false)
	}

	c.closePipeline()

	if c.failed() {
		c.errMu.Lock()
		err := c.err
		c.errReported = true
		c.errMu.Unlock()
		c.teardown()
		return err
	}

	if err := c.write(); err != nil {
		return c.abort(err)
	}

	if c.verbose {
		c.logger.Info("archive finished",
			"entries", len(c.dirents),
			"clusters", len(c.clusters),
			"elapsed", time.Since(c.startTime).Round(time.Second))
	}
	return nil
}

func (c *Creator) abort(err error) error {
	c.fail(err)
	c.errMu.Lock()
	c.errReported = true
	c.errMu.Unlock()
	c.teardown()
	return err
}

// resolveRedirects binds every redirect to its target dirent, following
// redirect chains to a non-redirect. Redirects with missing targets (or
// cyclic chains) are dropped; dropping the main-page redirect clears the
// main page.
func (c *Creator) resolveRedirects() {
	for d := range c.unresolved {
		target := c.resolveTarget(d)
		if target == nil {
			c.logger.Warn("dropping redirect",
				"error", fmt.Errorf("%w: %s -> %s", ErrInvalidRedirect,
					d.FullPath(), string(d.redirectNS)+"/"+d.redirectPath))
			key := pathKey{d.Namespace, d.Path}
			if c.byPath[key] == d {
				delete(c.byPath, key)
			}
			if d == c.mainPageDirent {
				c.mainPageDirent = nil
			}
			continue
		}
		d.target = target
	}
}

func (c *Creator) resolveTarget(d *Dirent) *Dirent {
	visited := map[*Dirent]struct{}{d: {}}
	ns, path := d.redirectNS, d.redirectPath
	for {
		target, ok := c.byPath[pathKey{ns, path}]
		if !ok {
			return nil
		}
		if !target.IsRedirect() {
			return target
		}
		if _, seen := visited[target]; seen {
			return nil // cycle
		}
		visited[target] = struct{}{}
		ns, path = target.redirectNS, target.redirectPath
	}
}

// assignEntryIndexes sorts the surviving dirents into URL order and
// assigns each its final entry index.
func (c *Creator) assignEntryIndexes() {
	c.dirents = make([]*Dirent, 0, len(c.byPath))
	for _, d := range c.byPath {
		c.dirents = append(c.dirents, d)
	}
	sort.Slice(c.dirents, func(i, j int) bool { return urlLess(c.dirents[i], c.dirents[j]) })
	for i, d := range c.dirents {
		d.entryIdx = uint32(i)
	}
}

// renumberMimeTypes sorts the accumulated mime types and rewrites every
// item dirent's index to match the sorted list.
func (c *Creator) renumberMimeTypes() {
	sorted := append([]string(nil), c.mimeList...)
	sort.Strings(sorted)

	pos := make(map[string]uint16, len(sorted))
	for i, m := range sorted {
		pos[m] = uint16(i)
	}
	mapping := make([]uint16, len(c.mimeList))
	for i, m := range c.mimeList {
		mapping[i] = pos[m]
	}

	for _, d := range c.dirents {
		if d.IsItem() {
			d.MimeIdx = mapping[d.MimeIdx]
		}
	}
	c.mimeList = sorted
}

// buildTitleIndex takes the title ordering from the title-index handler,
// which has watched every accepted dirent.
func (c *Creator) buildTitleIndex() {
	c.titleIdx = c.titleHandler.titleOrder()
}

// write lays down everything but the clusters: mime list, dirents, the
// three pointer tables, the header and the MD5 trailer.
func (c *Creator) write() error {
	var mimeBuf bytes.Buffer
	for _, m := range c.mimeList {
		writeCString(&mimeBuf, m)
	}
	mimeBuf.WriteByte(0)
	if HeaderSize+mimeBuf.Len() > ClusterBaseOffset {
		return fmt.Errorf("mime list (%d bytes) overflows the header headroom", mimeBuf.Len())
	}
	if _, err := c.file.WriteAt(mimeBuf.Bytes(), HeaderSize); err != nil {
		return fmt.Errorf("writing mime list: %w", err)
	}

	// Dirents go after the cluster region, or directly after the mime
	// list when the archive has no clusters.
	pos := uint64(HeaderSize + mimeBuf.Len())
	if len(c.clusters) > 0 {
		pos = c.clusterEnd
	}
	if _, err := c.file.Seek(int64(pos), io.SeekStart); err != nil {
		return err
	}
	bw := bufio.NewWriter(c.file)

	header := &Header{
		MajorVersion: MajorVersionClassic,
		MinorVersion: MinorVersion,
		UUID:         c.archiveUUID,
		EntryCount:   uint32(len(c.dirents)),
		ClusterCount: uint32(len(c.clusters)),
		MimeListPos:  HeaderSize,
		MainPage:     NoEntry,
		LayoutPage:   NoEntry,
	}
	if c.mainPageDirent != nil {
		header.MainPage = c.mainPageDirent.entryIdx
	}

	direntOffsets := make([]uint64, len(c.dirents))
	for i, d := range c.dirents {
		if d.IsRedirect() && d.target != nil {
			d.RedirectIdx = d.target.entryIdx
		}
		b := encodeDirent(d)
		if len(b) != predictSize(d) {
			return fmt.Errorf("dirent %s: encoded %d bytes, predicted %d", d.FullPath(), len(b), predictSize(d))
		}
		direntOffsets[i] = pos
		if _, err := bw.Write(b); err != nil {
			return err
		}
		pos += uint64(len(b))
	}

	header.URLPtrPos = pos
	for _, off := range direntOffsets {
		if err := writeUint64(bw, off); err != nil {
			return err
		}
	}
	pos += 8 * uint64(len(direntOffsets))

	header.TitleIdxPos = pos
	for _, d := range c.titleIdx {
		if err := writeUint32(bw, d.entryIdx); err != nil {
			return err
		}
	}
	pos += 4 * uint64(len(c.titleIdx))

	header.ClusterPtrPos = pos
	for _, cl := range c.clusters {
		if err := writeUint64(bw, cl.offset); err != nil {
			return err
		}
		if cl.isExtended() {
			header.MajorVersion = MajorVersionExtended
		}
	}
	pos += 8 * uint64(len(c.clusters))

	header.ChecksumPos = pos
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing tables: %w", err)
	}

	var headerBuf bytes.Buffer
	if err := writeHeader(&headerBuf, header); err != nil {
		return err
	}
	if _, err := c.file.WriteAt(headerBuf.Bytes(), 0); err != nil {
		return fmt.Errorf("rewriting header: %w", err)
	}

	// MD5 over everything before the checksum, appended as the trailer.
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	digest := md5.New()
	if _, err := io.CopyN(digest, c.file, int64(header.ChecksumPos)); err != nil {
		return fmt.Errorf("checksumming: %w", err)
	}
	if _, err := c.file.WriteAt(digest.Sum(nil), int64(header.ChecksumPos)); err != nil {
		return fmt.Errorf("writing checksum: %w", err)
	}

	if err := c.file.Close(); err != nil {
		return err
	}
	c.file = nil
	if err := os.Rename(c.basename+".zim.tmp", c.basename+".zim"); err != nil {
		return fmt.Errorf("renaming archive: %w", err)
	}
	return nil
}
