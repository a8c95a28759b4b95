// Package filesystem provides the types.FS implementations used by keg: the
// host filesystem and an afero-backed one for tests.
//
// It also carries the few symlink helpers the link manager relies on. The
// shared root must never show a half-written link, so links are replaced by
// renaming a freshly created temporary link over the old path.
package filesystem
