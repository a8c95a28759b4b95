package filesystem

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/arthur-debert/keg/pkg/types"
)

// ReplaceSymlink points link at target. An existing symlink at link is
// replaced atomically: the new link is created under a temporary name next
// to it and renamed into place, so readers see either the old or the new
// target. Existing regular files and directories are left alone and
// reported as fs.ErrExist.
func ReplaceSymlink(fsys types.FS, target, link string) error {
	if info, err := fsys.Lstat(link); err == nil && info.Mode()&os.ModeSymlink == 0 {
		return &os.LinkError{Op: "symlink", Old: target, New: link, Err: fs.ErrExist}
	}
	if err := fsys.MkdirAll(filepath.Dir(link), 0755); err != nil {
		return err
	}

	tmp := filepath.Join(filepath.Dir(link), fmt.Sprintf(".%s.keg-tmp-%d", filepath.Base(link), os.Getpid()))
	_ = fsys.Remove(tmp)
	if err := fsys.Symlink(target, tmp); err != nil {
		return err
	}
	if err := fsys.Rename(tmp, link); err != nil {
		_ = fsys.Remove(tmp)
		return err
	}
	return nil
}

// IsSymlink reports whether path exists and is a symbolic link.
func IsSymlink(fsys types.FS, path string) bool {
	info, err := fsys.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// Exists reports whether anything exists at path, without following links.
func Exists(fsys types.FS, path string) bool {
	_, err := fsys.Lstat(path)
	return err == nil
}

// PruneEmptyDirs removes dir and then each of its parents while they are
// empty, stopping at stop (which is never removed).
func PruneEmptyDirs(fsys types.FS, dir, stop string) {
	stop = filepath.Clean(stop)
	for dir = filepath.Clean(dir); dir != stop && len(dir) > len(stop); dir = filepath.Dir(dir) {
		entries, err := fsys.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := fsys.Remove(dir); err != nil {
			return
		}
	}
}
