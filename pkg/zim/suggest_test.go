package zim

import (
	"testing"
)

func suggestionArchive(t *testing.T, titles []string) *Archive {
	t.Helper()
	return buildArchive(t, nil, func(c *Creator) {
		for _, title := range titles {
			item := NewStringItem("dummyPath"+title, "text/plain", title, "")
			if err := c.AddItem(item); err != nil {
				t.Fatal(err)
			}
		}
	})
}

func suggestTitles(t *testing.T, a *Archive, query string) []string {
	t.Helper()
	entries, err := NewSuggestionSearcher(a).Suggest(query, 0)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	titles := make([]string, len(entries))
	for i, e := range entries {
		titles[i] = e.Title()
	}
	return titles
}

func TestSuggestionOrdering(t *testing.T) {
	a := suggestionArchive(t, []string{
		"fooland",
		"berlin wall",
		"hotel berlin, berlin",
		"again berlin",
		"berlin",
		"not berlin",
	})

	got := suggestTitles(t, a, "berlin")
	want := []string{
		"berlin",
		"hotel berlin, berlin",
		"again berlin",
		"berlin wall",
		"not berlin",
	}
	if len(got) != len(want) {
		t.Fatalf("result count: got %d (%v), want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("result %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSuggestionEmptyQuery(t *testing.T) {
	a := suggestionArchive(t, []string{"fooland", "berlin"})
	if got := suggestTitles(t, a, ""); len(got) != 0 {
		t.Errorf("empty query: got %v, want no results", got)
	}
}

func TestSuggestionNoResult(t *testing.T) {
	a := suggestionArchive(t, []string{"fooland", "berlin"})
	if got := suggestTitles(t, a, "none"); len(got) != 0 {
		t.Errorf("unmatched query: got %v, want no results", got)
	}
}

func TestSuggestionLimit(t *testing.T) {
	a := suggestionArchive(t, []string{"berlin wall", "berlin", "not berlin"})
	got := suggestTitles(t, a, "berlin")
	if len(got) != 3 {
		t.Fatalf("unlimited: got %d results", len(got))
	}
	entries, err := NewSuggestionSearcher(a).Suggest("berlin", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("limit 2: got %d results", len(entries))
	}
	if entries[0].Title() != "berlin" {
		t.Errorf("best match: got %q", entries[0].Title())
	}
}
