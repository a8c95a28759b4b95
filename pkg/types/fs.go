package types

import (
	"io/fs"
)

// FS is the filesystem surface used by the formula registry and the link
// manager. Production code runs on the OS; tests swap in afero.
type FS interface {
	Stat(name string) (fs.FileInfo, error)
	Lstat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm fs.FileMode) error
	ReadDir(name string) ([]fs.DirEntry, error)

	MkdirAll(path string, perm fs.FileMode) error

	Symlink(oldname, newname string) error
	Readlink(name string) (string, error)

	Remove(name string) error
	RemoveAll(path string) error
	Rename(oldpath, newpath string) error
}
