package stage

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arthur-debert/keg/pkg/types"
)

// glob matches a slash-separated pattern against the tree under base and
// returns the matching paths relative to base, sorted. Each pattern
// segment is matched with path.Match; there is no ** support.
func glob(fsys types.FS, base, pattern string) ([]string, error) {
	pattern = path.Clean(filepath.ToSlash(pattern))
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}

	matches := []string{""}
	for _, seg := range strings.Split(pattern, "/") {
		var next []string
		for _, m := range matches {
			dir := filepath.Join(base, filepath.FromSlash(m))
			if !hasMeta(seg) {
				if _, err := fsys.Lstat(filepath.Join(dir, seg)); err == nil {
					next = append(next, path.Join(m, seg))
				}
				continue
			}
			entries, err := fsys.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if ok, _ := path.Match(seg, e.Name()); ok {
					next = append(next, path.Join(m, e.Name()))
				}
			}
		}
		matches = next
	}
	sort.Strings(matches)
	return matches, nil
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, `*?[\`)
}

// excluded reports whether rel matches any of the patterns.
func excluded(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(path.Clean(filepath.ToSlash(p)), rel); ok {
			return true
		}
	}
	return false
}

type walkFunc func(rel string, info fs.FileInfo) error

// walk visits root and everything below it in lexical order without
// following symlinks. rel is slash-separated and empty for root itself.
func walk(fsys types.FS, root string, fn walkFunc) error {
	return walkRel(fsys, root, "", fn)
}

func walkRel(fsys types.FS, root, rel string, fn walkFunc) error {
	full := filepath.Join(root, filepath.FromSlash(rel))
	info, err := fsys.Lstat(full)
	if err != nil {
		return err
	}
	if err := fn(rel, info); err != nil {
		if err == fs.SkipDir {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return nil
	}
	entries, err := fsys.ReadDir(full)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if err := walkRel(fsys, root, path.Join(rel, e.Name()), fn); err != nil {
			return err
		}
	}
	return nil
}

// copyPath copies the file, symlink or directory tree at src to dst. skip
// receives slash-separated paths relative to src.
func copyPath(fsys types.FS, src, dst string, skip func(rel string) bool) error {
	return walk(fsys, src, func(rel string, info fs.FileInfo) error {
		if rel != "" && skip(rel) {
			if info.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		from := filepath.Join(src, filepath.FromSlash(rel))
		to := filepath.Join(dst, filepath.FromSlash(rel))
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := fsys.Readlink(from)
			if err != nil {
				return err
			}
			if err := fsys.MkdirAll(filepath.Dir(to), 0755); err != nil {
				return err
			}
			_ = fsys.Remove(to)
			return fsys.Symlink(target, to)
		case info.IsDir():
			return fsys.MkdirAll(to, info.Mode().Perm()|0700)
		default:
			return copyFile(fsys, from, to, info.Mode().Perm())
		}
	})
}

func copyFile(fsys types.FS, from, to string, perm fs.FileMode) error {
	data, err := fsys.ReadFile(from)
	if err != nil {
		return err
	}
	if err := fsys.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return err
	}
	return fsys.WriteFile(to, data, perm)
}
