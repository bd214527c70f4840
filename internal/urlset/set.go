// Package urlset implements the ordered, deduplicating URL set shared between
// the discovery phase, the SETUP hook and the sitemap traversal engine.
package urlset

import (
	"strings"
	"sync"
)

// Set is an insertion-ordered set of URL strings. Membership is exact on the
// trimmed string; no other normalization is applied.
//
// A Set is safe for concurrent use, but callers are expected to only mutate
// it during sequential phases (SETUP, discovery). Snapshot returns an
// immutable copy for everything that happens afterwards.
type Set struct {
	mu    sync.RWMutex
	order []string
	index map[string]int
}

// New returns a Set seeded with urls.
func New(urls ...string) *Set {
	s := &Set{index: make(map[string]int)}
	for _, u := range urls {
		s.Add(u)
	}
	return s
}

// Clean strips surrounding whitespace and embedded newlines from a URL.
func Clean(raw string) string {
	raw = strings.NewReplacer("\r", "", "\n", "").Replace(raw)
	return strings.TrimSpace(raw)
}

// Add inserts url and reports whether it was not already present.
func (s *Set) Add(url string) bool {
	url = Clean(url)
	if url == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[url]; ok {
		return false
	}
	s.index[url] = len(s.order)
	s.order = append(s.order, url)
	return true
}

// AddIfBelow inserts url only while the set holds fewer than limit entries.
// A limit <= 0 means unbounded. It returns whether url was added and whether
// the set is now at (or beyond) the limit.
func (s *Set) AddIfBelow(url string, limit int) (added bool, full bool) {
	url = Clean(url)
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 && len(s.order) >= limit {
		return false, true
	}
	if url == "" {
		return false, limit > 0 && len(s.order) >= limit
	}
	if _, ok := s.index[url]; !ok {
		s.index[url] = len(s.order)
		s.order = append(s.order, url)
		added = true
	}
	return added, limit > 0 && len(s.order) >= limit
}

// Remove deletes url and reports whether it was present.
func (s *Set) Remove(url string) bool {
	url = Clean(url)
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[url]
	if !ok {
		return false
	}
	s.order = append(s.order[:pos], s.order[pos+1:]...)
	delete(s.index, url)
	for i := pos; i < len(s.order); i++ {
		s.index[s.order[i]] = i
	}
	return true
}

// Has reports whether url is a member.
func (s *Set) Has(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[Clean(url)]
	return ok
}

// Len returns the number of members.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Snapshot returns the members in insertion order. The returned slice is a
// copy and never changes afterwards.
func (s *Set) Snapshot() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Merge adds every url and returns how many were new.
func (s *Set) Merge(urls []string) int {
	added := 0
	for _, u := range urls {
		if s.Add(u) {
			added++
		}
	}
	return added
}
