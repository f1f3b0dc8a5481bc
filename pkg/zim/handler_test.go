package zim

import (
	"fmt"
	"strings"
	"testing"
)

// fakeTextIndex records what it is fed and emits a listing of indexed
// paths as its content.
type fakeTextIndex struct {
	language string
	paths    []string
	stopped  bool
}

func (f *fakeTextIndex) Start(language string) error {
	f.language = language
	return nil
}

func (f *fakeTextIndex) AddEntry(path, title string, item Item) error {
	f.paths = append(f.paths, path)
	return nil
}

func (f *fakeTextIndex) Stop() error {
	f.stopped = true
	return nil
}

func (f *fakeTextIndex) ContentProvider() (ContentProvider, error) {
	return NewStringProvider(strings.Join(f.paths, "\n")), nil
}

func TestTextIndexHandler(t *testing.T) {
	backend := &fakeTextIndex{}
	a := buildArchive(t, []CreatorOption{WithIndexing("eng", backend)}, func(c *Creator) {
		for i := 0; i < 3; i++ {
			if err := c.AddItem(NewStringItem(fmt.Sprintf("doc%d", i), "text/plain", "", "body")); err != nil {
				t.Fatal(err)
			}
		}
		if err := c.AddRedirection("alias", "", "doc0"); err != nil {
			t.Fatal(err)
		}
	})

	if backend.language != "eng" {
		t.Errorf("language: got %q", backend.language)
	}
	if !backend.stopped {
		t.Error("backend was not stopped")
	}
	// Only item dirents reach the backend; the redirect does not.
	if len(backend.paths) != 3 {
		t.Errorf("indexed paths: got %v", backend.paths)
	}

	e, err := a.EntryByPath('X', "fulltext/xapian")
	if err != nil {
		t.Fatalf("index entry: %v", err)
	}
	data, err := e.Data()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "doc0\ndoc1\ndoc2" {
		t.Errorf("index content: got %q", data)
	}
}
