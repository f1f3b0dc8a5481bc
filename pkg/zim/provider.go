package zim

import (
	"fmt"
	"io"
	"os"
)

// ContentProvider is a lazy byte source with a known size. Providers are
// consumed exactly once, when their cluster is serialized.
type ContentProvider interface {
	// Size returns the total number of bytes the provider will produce.
	Size() uint64

	// NextChunk returns the next chunk of content, or io.EOF when the
	// provider is exhausted. The returned slice is only valid until the
	// next call.
	NextChunk() ([]byte, error)
}

// StringProvider serves a fixed in-memory byte string.
type StringProvider struct {
	data []byte
	done bool
}

// NewStringProvider returns a provider over the given content.
func NewStringProvider(content string) *StringProvider {
	return &StringProvider{data: []byte(content)}
}

// NewBytesProvider returns a provider over the given bytes. The slice is
// not copied; the caller must not mutate it before the archive is written.
func NewBytesProvider(content []byte) *StringProvider {
	return &StringProvider{data: content}
}

func (p *StringProvider) Size() uint64 { return uint64(len(p.data)) }

func (p *StringProvider) NextChunk() ([]byte, error) {
	if p.done {
		return nil, io.EOF
	}
	p.done = true
	if len(p.data) == 0 {
		return nil, io.EOF
	}
	return p.data, nil
}

const fileProviderChunkSize = 1 << 20

// FileProvider streams a file from disk in fixed-size chunks.
type FileProvider struct {
	path string
	size uint64
	f    *os.File
	buf  []byte
}

// NewFileProvider returns a provider over the file at path. The file is
// opened lazily on the first chunk request.
func NewFileProvider(path string) (*FileProvider, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &FileProvider{path: path, size: uint64(fi.Size())}, nil
}

func (p *FileProvider) Size() uint64 { return p.size }

func (p *FileProvider) NextChunk() ([]byte, error) {
	if p.f == nil {
		f, err := os.Open(p.path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", p.path, err)
		}
		p.f = f
		p.buf = make([]byte, fileProviderChunkSize)
	}
	n, err := p.f.Read(p.buf)
	if n > 0 {
		return p.buf[:n], nil
	}
	p.f.Close()
	p.f = nil
	if err == nil || err == io.EOF {
		return nil, io.EOF
	}
	return nil, err
}

// ReaderProvider streams from an arbitrary reader whose total size is
// known up front.
type ReaderProvider struct {
	r    io.Reader
	size uint64
	buf  []byte
}

// NewReaderProvider returns a provider over r, which must produce exactly
// size bytes.
func NewReaderProvider(r io.Reader, size uint64) *ReaderProvider {
	return &ReaderProvider{r: r, size: size}
}

func (p *ReaderProvider) Size() uint64 { return p.size }

func (p *ReaderProvider) NextChunk() ([]byte, error) {
	if p.buf == nil {
		p.buf = make([]byte, fileProviderChunkSize)
	}
	n, err := p.r.Read(p.buf)
	if n > 0 {
		return p.buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}
