package zim

import (
	"sort"
	"strings"
)

// SuggestionSearcher ranks title matches for type-ahead style queries
// over an archive's title index. Ranking: an exact title match first,
// then by how often the query terms occur in the title, ties broken by
// title order.
type SuggestionSearcher struct {
	a *Archive
}

// NewSuggestionSearcher returns a searcher over the archive.
func NewSuggestionSearcher(a *Archive) *SuggestionSearcher {
	return &SuggestionSearcher{a: a}
}

type scoredEntry struct {
	entry *Entry
	exact bool
	freq  int
}

// Suggest returns up to limit 'C'-namespace entries whose titles contain
// every query term, best match first. An empty query matches nothing.
// limit <= 0 means no limit.
func (s *SuggestionSearcher) Suggest(query string, limit int) ([]*Entry, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	terms := strings.Fields(q)
	if len(terms) == 0 {
		return nil, nil
	}

	var matches []scoredEntry
	it := s.a.IterByTitle()
	for it.Next() {
		e := it.Entry()
		if e.Namespace() != 'C' {
			continue
		}
		title := strings.ToLower(e.Title())
		freq := 0
		ok := true
		for _, term := range terms {
			n := strings.Count(title, term)
			if n == 0 {
				ok = false
				break
			}
			freq += n
		}
		if !ok {
			continue
		}
		matches = append(matches, scoredEntry{entry: e, exact: title == q, freq: freq})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	// Stable sort keeps title order within equal scores.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].exact != matches[j].exact {
			return matches[i].exact
		}
		return matches[i].freq > matches[j].freq
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	entries := make([]*Entry, len(matches))
	for i, m := range matches {
		entries[i] = m.entry
	}
	return entries, nil
}
