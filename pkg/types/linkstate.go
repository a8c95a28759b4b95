package types

import (
	"path/filepath"
	"sort"
)

// LinkKind distinguishes what a published path is.
type LinkKind string

const (
	LinkSymlink LinkKind = "symlink"
	LinkConfig  LinkKind = "config"
	LinkDir     LinkKind = "dir"
)

// LinkRecord describes one published path in the shared root.
type LinkRecord struct {
	Package string   `toml:"package"`
	Version string   `toml:"version"`
	Target  string   `toml:"target,omitempty"`
	Kind    LinkKind `toml:"kind"`
}

// LinkState maps every published path (relative to the shared root) to the
// package that owns it. It is the single source of truth for ownership.
type LinkState struct {
	Links map[string]LinkRecord `toml:"links"`
}

// NewLinkState returns an empty state.
func NewLinkState() *LinkState {
	return &LinkState{Links: map[string]LinkRecord{}}
}

// Owner returns the record for path, if any.
func (s *LinkState) Owner(path string) (LinkRecord, bool) {
	r, ok := s.Links[filepath.ToSlash(path)]
	return r, ok
}

// Set records ownership of path.
func (s *LinkState) Set(path string, r LinkRecord) {
	if s.Links == nil {
		s.Links = map[string]LinkRecord{}
	}
	s.Links[filepath.ToSlash(path)] = r
}

// Delete forgets path.
func (s *LinkState) Delete(path string) {
	delete(s.Links, filepath.ToSlash(path))
}

// PathsOwnedBy returns every path owned by pkg, sorted.
func (s *LinkState) PathsOwnedBy(pkg string) []string {
	var paths []string
	for p, r := range s.Links {
		if r.Package == pkg {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// Packages returns the names of every package owning at least one path.
func (s *LinkState) Packages() []string {
	seen := map[string]bool{}
	var names []string
	for _, r := range s.Links {
		if !seen[r.Package] {
			seen[r.Package] = true
			names = append(names, r.Package)
		}
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy.
func (s *LinkState) Clone() *LinkState {
	c := NewLinkState()
	for p, r := range s.Links {
		c.Links[p] = r
	}
	return c
}
