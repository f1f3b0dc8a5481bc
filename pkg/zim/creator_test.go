package zim

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func testUUID() uuid.UUID {
	var u uuid.UUID
	u[15] = 1
	return u
}

// buildArchive runs a Creator over the given setup and opens the result.
func buildArchive(t *testing.T, opts []CreatorOption, setup func(c *Creator)) *Archive {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.zim")

	c, err := NewCreator(append([]CreatorOption{WithUUID(testUUID())}, opts...)...)
	if err != nil {
		t.Fatalf("NewCreator: %v", err)
	}
	if err := c.Start(path); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if setup != nil {
		setup(c)
	}
	if err := c.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	a, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestEmptyArchive(t *testing.T) {
	a := buildArchive(t, nil, nil)

	if a.EntryCount() != 0 {
		t.Errorf("EntryCount: got %d, want 0", a.EntryCount())
	}
	if a.ClusterCount() != 0 {
		t.Errorf("ClusterCount: got %d, want 0", a.ClusterCount())
	}
	if a.UUID() != testUUID() {
		t.Errorf("UUID: got %s", a.UUID())
	}
	if a.HasMainEntry() {
		t.Error("empty archive must not have a main entry")
	}
	if err := a.VerifyChecksum(); err != nil {
		t.Errorf("VerifyChecksum: %v", err)
	}
}

func TestSingleItem(t *testing.T) {
	a := buildArchive(t, nil, func(c *Creator) {
		if err := c.AddItem(NewStringItem("A/hello", "text/plain", "Hello", "hi")); err != nil {
			t.Fatalf("AddItem: %v", err)
		}
	})

	if a.EntryCount() != 1 {
		t.Fatalf("EntryCount: got %d, want 1", a.EntryCount())
	}
	if a.ClusterCount() != 1 {
		t.Errorf("ClusterCount: got %d, want 1", a.ClusterCount())
	}
	if a.HasMainEntry() {
		t.Error("main page must be the sentinel when unset")
	}

	e, err := a.EntryByPath('C', "A/hello")
	if err != nil {
		t.Fatalf("EntryByPath: %v", err)
	}
	if e.Title() != "Hello" {
		t.Errorf("Title: got %q", e.Title())
	}
	data, err := e.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if string(data) != "hi" {
		t.Errorf("Data: got %q, want %q", data, "hi")
	}
	mime, err := e.MimeType()
	if err != nil || mime != "text/plain" {
		t.Errorf("MimeType: got %q, err %v", mime, err)
	}

	byTitle, err := a.EntryByTitleIndex(0)
	if err != nil {
		t.Fatalf("EntryByTitleIndex: %v", err)
	}
	if byTitle.Path() != "A/hello" {
		t.Errorf("title index entry: got %q", byTitle.Path())
	}
}

func TestRedirectResolution(t *testing.T) {
	a := buildArchive(t, nil, func(c *Creator) {
		if err := c.AddItem(NewStringItem("target", "text/plain", "Target", "hi")); err != nil {
			t.Fatal(err)
		}
		if err := c.AddRedirection("alias", "Alias", "target"); err != nil {
			t.Fatal(err)
		}
	})

	target, err := a.EntryByPath('C', "target")
	if err != nil {
		t.Fatalf("target lookup: %v", err)
	}
	alias, err := a.EntryByPath('C', "alias")
	if err != nil {
		t.Fatalf("alias lookup: %v", err)
	}
	if !alias.IsRedirect() {
		t.Fatal("alias must be a redirect")
	}
	idx, err := alias.RedirectIndex()
	if err != nil {
		t.Fatal(err)
	}
	if idx != target.Index() {
		t.Errorf("redirect index: got %d, want %d", idx, target.Index())
	}
	data, err := alias.Data()
	if err != nil {
		t.Fatalf("following redirect: %v", err)
	}
	if string(data) != "hi" {
		t.Errorf("redirected data: got %q", data)
	}
}

func TestBrokenRedirectDropped(t *testing.T) {
	a := buildArchive(t, nil, func(c *Creator) {
		if err := c.AddRedirection("x", "", "missing"); err != nil {
			t.Fatal(err)
		}
	})

	if a.EntryCount() != 0 {
		t.Errorf("EntryCount: got %d, want 0", a.EntryCount())
	}
	if _, err := a.EntryByPath('C', "x"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("x lookup: got %v, want ErrEntryNotFound", err)
	}
}

func TestBrokenMainPageClearsHeader(t *testing.T) {
	a := buildArchive(t, nil, func(c *Creator) {
		c.SetMainPath("missing")
	})
	if a.HasMainEntry() {
		t.Error("dropped main-page redirect must clear the header slot")
	}
}

func TestMainPageRedirect(t *testing.T) {
	a := buildArchive(t, nil, func(c *Creator) {
		if err := c.AddItem(NewStringItem("home", "text/html", "Home", "<html></html>")); err != nil {
			t.Fatal(err)
		}
		c.SetMainPath("home")
	})

	main, err := a.MainEntry()
	if err != nil {
		t.Fatalf("MainEntry: %v", err)
	}
	item, err := main.Item()
	if err != nil {
		t.Fatalf("resolving main entry: %v", err)
	}
	if item.Path() != "home" {
		t.Errorf("main entry resolves to %q", item.Path())
	}
}

func TestClusterSplit(t *testing.T) {
	payload := strings.Repeat("a", 300)
	a := buildArchive(t, []CreatorOption{WithMinClusterSize(1)}, func(c *Creator) {
		for i := 0; i < 10; i++ {
			item := NewStringItem(fmt.Sprintf("doc-%02d", i), "text/plain", "", payload)
			if err := c.AddItem(item); err != nil {
				t.Fatal(err)
			}
		}
	})

	if a.ClusterCount() < 3 {
		t.Errorf("ClusterCount: got %d, want >= 3", a.ClusterCount())
	}
	for i := 1; i < len(a.clusterPtrs); i++ {
		if a.clusterPtrs[i] <= a.clusterPtrs[i-1] {
			t.Errorf("cluster pointers not strictly monotonic at %d: %d <= %d", i, a.clusterPtrs[i], a.clusterPtrs[i-1])
		}
	}
	for i := 0; i < 10; i++ {
		e, err := a.EntryByPath('C', fmt.Sprintf("doc-%02d", i))
		if err != nil {
			t.Fatalf("doc-%02d: %v", i, err)
		}
		data, err := e.Data()
		if err != nil {
			t.Fatalf("doc-%02d data: %v", i, err)
		}
		if string(data) != payload {
			t.Errorf("doc-%02d: payload mismatch", i)
		}
	}
}

func TestURLOrderInvariant(t *testing.T) {
	a := buildArchive(t, nil, func(c *Creator) {
		for _, p := range []string{"zebra", "alpha", "monkey/1", "monkey", "Alpha"} {
			if err := c.AddItem(NewStringItem(p, "text/plain", "", p)); err != nil {
				t.Fatal(err)
			}
		}
		if err := c.AddMetadata("Title", []byte("ordered"), "text/plain"); err != nil {
			t.Fatal(err)
		}
	})

	var prev *Entry
	it := a.IterByPath()
	for it.Next() {
		e := it.Entry()
		if prev != nil {
			if e.Namespace() < prev.Namespace() ||
				(e.Namespace() == prev.Namespace() && e.Path() <= prev.Path()) {
				t.Errorf("URL order violated: %s after %s", e.FullPath(), prev.FullPath())
			}
		}
		prev = e
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestTitleOrderInvariant(t *testing.T) {
	a := buildArchive(t, nil, func(c *Creator) {
		titles := []string{"delta", "alpha", "echo", "bravo", "charlie"}
		for i, title := range titles {
			item := NewStringItem(fmt.Sprintf("p%d", i), "text/plain", title, "")
			if err := c.AddItem(item); err != nil {
				t.Fatal(err)
			}
		}
	})

	seen := make(map[uint32]bool)
	var prev *Entry
	it := a.IterByTitle()
	for it.Next() {
		e := it.Entry()
		if seen[e.Index()] {
			t.Errorf("entry %d appears twice in title index", e.Index())
		}
		seen[e.Index()] = true
		if prev != nil && prev.Namespace() == e.Namespace() && e.Title() < prev.Title() {
			t.Errorf("title order violated: %q after %q", e.Title(), prev.Title())
		}
		prev = e
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	if len(seen) != int(a.EntryCount()) {
		t.Errorf("title index covers %d of %d entries", len(seen), a.EntryCount())
	}
}

func TestMimeTypeRenumbering(t *testing.T) {
	mimes := map[string]string{
		"a": "text/plain",
		"b": "image/png",
		"c": "application/json",
		"d": "text/html",
	}
	a := buildArchive(t, nil, func(c *Creator) {
		// Insertion order deliberately unsorted.
		for _, p := range []string{"a", "b", "c", "d"} {
			if err := c.AddItem(NewStringItem(p, mimes[p], "", "x")); err != nil {
				t.Fatal(err)
			}
		}
	})

	for i := 1; i < len(a.mimeTypes); i++ {
		if a.mimeTypes[i] < a.mimeTypes[i-1] {
			t.Errorf("mime list not sorted: %q after %q", a.mimeTypes[i], a.mimeTypes[i-1])
		}
	}
	for p, want := range mimes {
		e, err := a.EntryByPath('C', p)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		mime, err := e.MimeType()
		if err != nil {
			t.Fatal(err)
		}
		if mime != want {
			t.Errorf("%s: mimetype got %q, want %q", p, mime, want)
		}
	}
}

func TestMetadata(t *testing.T) {
	a := buildArchive(t, nil, func(c *Creator) {
		if err := c.AddMetadata("Title", []byte("My Archive"), "text/plain"); err != nil {
			t.Fatal(err)
		}
		if err := c.AddMetadata("Language", []byte("eng"), "text/plain"); err != nil {
			t.Fatal(err)
		}
	})

	data, err := a.Metadata("Title")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if string(data) != "My Archive" {
		t.Errorf("Title metadata: got %q", data)
	}
	keys, err := a.MetadataKeys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "Language" || keys[1] != "Title" {
		t.Errorf("MetadataKeys: got %v", keys)
	}
}

func TestDuplicatePathPolicy(t *testing.T) {
	a := buildArchive(t, nil, func(c *Creator) {
		// A later item replaces an earlier redirect at the same path.
		if err := c.AddRedirection("page", "", "other"); err != nil {
			t.Fatal(err)
		}
		if err := c.AddItem(NewStringItem("page", "text/plain", "", "real content")); err != nil {
			t.Fatal(err)
		}
		if err := c.AddItem(NewStringItem("other", "text/plain", "", "other content")); err != nil {
			t.Fatal(err)
		}
		// A duplicate item is ignored.
		if err := c.AddItem(NewStringItem("page", "text/plain", "", "ignored")); err != nil {
			t.Fatal(err)
		}
	})

	e, err := a.EntryByPath('C', "page")
	if err != nil {
		t.Fatal(err)
	}
	if e.IsRedirect() {
		t.Fatal("item must replace the redirect at the same path")
	}
	data, err := e.Data()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "real content" {
		t.Errorf("page data: got %q", data)
	}
}

func TestCompressHint(t *testing.T) {
	a := buildArchive(t, nil, func(c *Creator) {
		// PNG is not compressible by MIME, the hint forces it anyway;
		// and vice versa for the text item.
		png := NewStringItem("img", "image/png", "", "pseudo-png").WithHint(HintCompress, true)
		txt := NewStringItem("txt", "text/plain", "", "plain text").WithHint(HintCompress, false)
		if err := c.AddItem(png); err != nil {
			t.Fatal(err)
		}
		if err := c.AddItem(txt); err != nil {
			t.Fatal(err)
		}
	})

	// One compressed cluster (hinted png), one uncompressed (hinted txt).
	if a.ClusterCount() != 2 {
		t.Fatalf("ClusterCount: got %d, want 2", a.ClusterCount())
	}
	for _, p := range []string{"img", "txt"} {
		e, err := a.EntryByPath('C', p)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := e.Data(); err != nil {
			t.Errorf("%s: %v", p, err)
		}
	}
}

func TestParallelDeterminism(t *testing.T) {
	build := func(path string) {
		c, err := NewCreator(
			WithUUID(testUUID()),
			WithCompression(CompressionZstd),
			WithWorkers(1),
		)
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Start(path); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 20; i++ {
			item := NewStringItem(
				fmt.Sprintf("article/%02d", i),
				"text/html",
				fmt.Sprintf("Article %02d", i),
				strings.Repeat(fmt.Sprintf("content %d ", i), 50),
			)
			if err := c.AddItem(item); err != nil {
				t.Fatal(err)
			}
		}
		c.SetMainPath("article/00")
		if err := c.Finish(); err != nil {
			t.Fatal(err)
		}
	}

	dir := t.TempDir()
	p1 := filepath.Join(dir, "one.zim")
	p2 := filepath.Join(dir, "two.zim")
	build(p1)
	build(p2)

	b1, err := os.ReadFile(p1)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := os.ReadFile(p2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b1, b2) {
		t.Error("identical inputs must produce byte-identical archives")
	}
}

func TestLzmaArchive(t *testing.T) {
	a := buildArchive(t, []CreatorOption{WithCompression(CompressionLzma)}, func(c *Creator) {
		if err := c.AddItem(NewStringItem("doc", "text/plain", "", "lzma body")); err != nil {
			t.Fatal(err)
		}
	})
	e, err := a.EntryByPath('C', "doc")
	if err != nil {
		t.Fatal(err)
	}
	data, err := e.Data()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "lzma body" {
		t.Errorf("lzma data: got %q", data)
	}
}

func TestUnsupportedCompressionRejected(t *testing.T) {
	for _, comp := range []Compression{CompressionZip, CompressionBzip2} {
		if _, err := NewCreator(WithCompression(comp)); !errors.Is(err, ErrUnsupportedCompression) {
			t.Errorf("%s: got %v, want ErrUnsupportedCompression", comp, err)
		}
	}
}

func TestAddItemAfterFinish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "done.zim")
	c, err := NewCreator(WithUUID(testUUID()))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(path); err != nil {
		t.Fatal(err)
	}
	if err := c.Finish(); err != nil {
		t.Fatal(err)
	}
	if err := c.AddItem(NewStringItem("late", "text/plain", "", "x")); !errors.Is(err, ErrCreatorErrored) {
		t.Errorf("AddItem after Finish: got %v, want ErrCreatorErrored", err)
	}
	if err := c.Finish(); !errors.Is(err, ErrCreatorErrored) {
		t.Errorf("second Finish: got %v, want ErrCreatorErrored", err)
	}
}

func TestTitleListingEntry(t *testing.T) {
	a := buildArchive(t, []CreatorOption{WithTitleListing()}, func(c *Creator) {
		for i, title := range []string{"bravo", "alpha"} {
			if err := c.AddItem(NewStringItem(fmt.Sprintf("p%d", i), "text/plain", title, "")); err != nil {
				t.Fatal(err)
			}
		}
	})

	e, err := a.EntryByPath('X', "listing/titleOrdered/v1")
	if err != nil {
		t.Fatalf("title listing entry: %v", err)
	}
	data, err := e.Data()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 4*int(a.EntryCount()) {
		t.Fatalf("listing size: got %d bytes for %d entries", len(data), a.EntryCount())
	}
	// The listing mirrors the header's title index table.
	for i := uint32(0); i < a.EntryCount(); i++ {
		got := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		if got != a.titleIdx[i] {
			t.Errorf("listing[%d]: got %d, want %d", i, got, a.titleIdx[i])
		}
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.zim")
	c, err := NewCreator(WithUUID(testUUID()))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(path); err != nil {
		t.Fatal(err)
	}
	if err := c.AddItem(NewStringItem("doc", "text/plain", "", "content")); err != nil {
		t.Fatal(err)
	}
	if err := c.Finish(); err != nil {
		t.Fatal(err)
	}

	// Flip one byte in the middle of the file.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	var b [1]byte
	if _, err := f.ReadAt(b[:], 100); err != nil {
		t.Fatal(err)
	}
	b[0] ^= 0xFF
	if _, err := f.WriteAt(b[:], 100); err != nil {
		t.Fatal(err)
	}
	f.Close()

	a, err := OpenArchive(path)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if err := a.VerifyChecksum(); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("VerifyChecksum on corrupted file: got %v", err)
	}
}
