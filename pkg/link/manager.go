// Package link publishes sealed installations into the shared root.
//
// Publishing exposes a keg through symlinks in the shared link directories
// (bin, sbin, lib, include, share by default) plus opt/<name>, installs its
// configuration files into the shared etc/ and creates its runtime
// directories. Every published path is recorded in the LinkState together
// with its owner. Nothing is written when a path is owned by another
// package or by nobody, unless the caller forces the publish. A publish
// that fails part way reverts the links it wrote and leaves the LinkState
// as it was.
//
// Mutations are serialized twice: by a mutex inside the process and by the
// datastore's file lock across processes.
package link

import (
	"bytes"
	"context"
	"maps"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/arthur-debert/keg/pkg/datastore"
	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/filesystem"
	"github.com/arthur-debert/keg/pkg/logging"
	"github.com/arthur-debert/keg/pkg/paths"
	"github.com/arthur-debert/keg/pkg/types"
	"github.com/rs/zerolog"
)

// Configuration file policies.
const (
	PolicyPreserve = "preserve"
	PolicyRefresh  = "refresh"
)

// SaveSuffix is appended to a configuration file replaced under the
// refresh policy.
const SaveSuffix = ".kegsave"

// DefaultDirs are the prefix directories linked into the shared root.
var DefaultDirs = []string{"bin", "sbin", "lib", "include", "share"}

// Options configures a Manager.
type Options struct {
	Dirs         []string
	ConfigPolicy string
}

// Report summarizes what a publish did.
type Report struct {
	Linked    []string
	Installed []string
	Preserved []string
	Saved     []string
	Removed   []string
}

// Manager owns the LinkState.
type Manager struct {
	fsys   types.FS
	paths  paths.Paths
	store  datastore.LinkStore
	opts   Options
	mu     sync.Mutex
	logger zerolog.Logger
}

// New creates a Manager.
func New(fsys types.FS, p paths.Paths, store datastore.LinkStore, opts Options) *Manager {
	if len(opts.Dirs) == 0 {
		opts.Dirs = DefaultDirs
	}
	if opts.ConfigPolicy == "" {
		opts.ConfigPolicy = PolicyPreserve
	}
	return &Manager{fsys: fsys, paths: p, store: store, opts: opts, logger: logging.GetLogger("link")}
}

// entry is one path the publish wants to own, relative to the root.
type entry struct {
	path   string
	kind   types.LinkKind
	target string // link text for symlinks, prefix-relative source for configs
}

// State returns a snapshot of the LinkState.
func (m *Manager) State() (*types.LinkState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Load()
}

// PublishedVersion returns the version of name currently exposed through
// its opt link.
func (m *Manager) PublishedVersion(name string) (string, bool, error) {
	state, err := m.State()
	if err != nil {
		return "", false, err
	}
	rec, ok := state.Owner(path.Join(paths.OptDir, name))
	if !ok || rec.Package != name {
		return "", false, nil
	}
	return rec.Version, true, nil
}

// Publish exposes staged in the shared root. With force, paths owned by
// other packages or by nobody are taken over.
func (m *Manager) Publish(ctx context.Context, staged *types.StagedInstallation, force bool) (*Report, error) {
	if !staged.Sealed {
		return nil, errors.Newf(errors.ErrInternal, "refusing to publish unsealed installation %s %s", staged.Name, staged.Version)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	unlock, err := m.store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	before := state.Clone()

	entries, err := m.plan(staged)
	if err != nil {
		return nil, err
	}
	if err := m.preflight(state, staged, entries, force); err != nil {
		return nil, err
	}

	report := &Report{}
	var undo undoLog
	if err := m.apply(state, staged, entries, report, &undo); err != nil {
		m.rollback(staged, undo)
		return nil, err
	}
	if !maps.Equal(before.Links, state.Links) {
		if err := m.store.Save(state); err != nil {
			m.rollback(staged, undo)
			return nil, err
		}
	}

	m.logger.Info().
		Str("package", staged.Name).
		Str("version", staged.Version).
		Int("linked", len(report.Linked)).
		Int("configs", len(report.Installed)).
		Msg("Published")
	return report, nil
}

// plan lists the paths staged wants, in a stable order.
func (m *Manager) plan(staged *types.StagedInstallation) ([]entry, error) {
	root := m.paths.Root()
	var entries []entry

	for _, dir := range m.opts.Dirs {
		base := filepath.Join(staged.Prefix, dir)
		if !filesystem.Exists(m.fsys, base) {
			continue
		}
		leaves, err := m.leaves(base, dir)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to scan %s", base)
		}
		for _, rel := range leaves {
			link := filepath.Join(root, filepath.FromSlash(rel))
			target, err := filepath.Rel(filepath.Dir(link), filepath.Join(staged.Prefix, filepath.FromSlash(rel)))
			if err != nil {
				return nil, errors.Wrapf(err, errors.ErrInternal, "cannot relate %s to %s", link, staged.Prefix)
			}
			entries = append(entries, entry{path: rel, kind: types.LinkSymlink, target: target})
		}
	}

	opt := path.Join(paths.OptDir, staged.Name)
	optTarget, err := filepath.Rel(filepath.Dir(m.paths.OptPath(staged.Name)), staged.Prefix)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrInternal, "cannot relate opt link to %s", staged.Prefix)
	}
	entries = append(entries, entry{path: opt, kind: types.LinkSymlink, target: optTarget})

	for _, cf := range staged.Receipt.ConfigFiles {
		entries = append(entries, entry{path: path.Clean(cf.Dest), kind: types.LinkConfig, target: cf.Source})
	}
	for _, dir := range staged.Receipt.Directories {
		entries = append(entries, entry{path: path.Clean(dir), kind: types.LinkDir})
	}
	return entries, nil
}

// leaves returns every non-directory below base as root-relative paths
// prefixed with rel.
func (m *Manager) leaves(base, rel string) ([]string, error) {
	items, err := m.fsys.ReadDir(base)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name() < items[j].Name() })
	var out []string
	for _, item := range items {
		full := filepath.Join(base, item.Name())
		info, err := m.fsys.Lstat(full)
		if err != nil {
			return nil, err
		}
		sub := path.Join(rel, item.Name())
		if info.IsDir() {
			nested, err := m.leaves(full, sub)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

// preflight checks every path before anything is written.
func (m *Manager) preflight(state *types.LinkState, staged *types.StagedInstallation, entries []entry, force bool) error {
	for _, e := range entries {
		if e.kind == types.LinkDir {
			continue
		}
		rec, owned := state.Owner(e.path)
		if owned {
			if rec.Package == staged.Name || force {
				continue
			}
			return errors.NewLinkConflictError(e.path, rec.Package, staged.Name)
		}

		full := filepath.Join(m.paths.Root(), filepath.FromSlash(e.path))
		info, err := m.fsys.Lstat(full)
		if err != nil {
			continue
		}
		switch {
		case e.kind == types.LinkConfig && !info.IsDir():
			// an existing unmanaged config file is the user's and is kept
			continue
		case e.kind == types.LinkSymlink && info.Mode()&os.ModeSymlink != 0:
			if current, err := m.fsys.Readlink(full); err == nil && current == e.target {
				continue
			}
		}
		if !force {
			return errors.NewLinkConflictError(e.path, "", staged.Name)
		}
		if info.IsDir() {
			return errors.Newf(errors.ErrLinkConflict, "cannot replace directory %s, even with force", e.path).
				WithDetail(errors.DetailPath, e.path).
				WithDetail(errors.DetailPackage, staged.Name)
		}
	}
	return nil
}

// undoLog reverts, in reverse order, the disk changes of a publish that
// did not complete. The LinkState is only saved once everything applied.
type undoLog []func() error

func (u *undoLog) push(fn func() error) { *u = append(*u, fn) }

func (m *Manager) rollback(staged *types.StagedInstallation, undo undoLog) {
	for i := len(undo) - 1; i >= 0; i-- {
		if err := undo[i](); err != nil {
			m.logger.Warn().Err(err).
				Str("package", staged.Name).
				Str("version", staged.Version).
				Msg("Could not revert part of a failed publish")
		}
	}
}

func (m *Manager) apply(state *types.LinkState, staged *types.StagedInstallation, entries []entry, report *Report, undo *undoLog) error {
	root := m.paths.Root()
	wanted := make(map[string]bool, len(entries))
	for _, e := range entries {
		wanted[e.path] = true
	}

	// links left over from another version of the same package
	for _, p := range state.PathsOwnedBy(staged.Name) {
		rec, _ := state.Owner(p)
		if wanted[p] || rec.Kind != types.LinkSymlink {
			continue
		}
		full := filepath.Join(root, filepath.FromSlash(p))
		if filesystem.IsSymlink(m.fsys, full) {
			if err := m.fsys.Remove(full); err != nil {
				return errors.Wrapf(err, errors.ErrSymlinkCreate, "failed to remove stale link %s", p)
			}
			filesystem.PruneEmptyDirs(m.fsys, filepath.Dir(full), root)
			target := rec.Target
			undo.push(func() error { return filesystem.ReplaceSymlink(m.fsys, target, full) })
		}
		state.Delete(p)
		report.Removed = append(report.Removed, p)
	}

	for _, e := range entries {
		full := filepath.Join(root, filepath.FromSlash(e.path))
		rec := types.LinkRecord{Package: staged.Name, Version: staged.Version, Kind: e.kind}
		switch e.kind {
		case types.LinkSymlink:
			if err := m.link(full, e.target, undo); err != nil {
				return errors.Wrapf(err, errors.ErrSymlinkCreate, "failed to link %s", e.path).
					WithDetail(errors.DetailPath, e.path).
					WithDetail(errors.DetailPackage, staged.Name)
			}
			rec.Target = e.target
			report.Linked = append(report.Linked, e.path)
		case types.LinkConfig:
			if err := m.installConfig(staged, e, full, report, undo); err != nil {
				return err
			}
		case types.LinkDir:
			if !filesystem.Exists(m.fsys, full) {
				undo.push(func() error {
					filesystem.PruneEmptyDirs(m.fsys, full, root)
					return nil
				})
			}
			if err := m.fsys.MkdirAll(full, 0755); err != nil {
				return errors.Wrapf(err, errors.ErrDirCreate, "failed to create %s", e.path).
					WithDetail(errors.DetailPath, e.path)
			}
			if owner, ok := state.Owner(e.path); ok && owner.Package != staged.Name {
				continue
			}
		}
		state.Set(e.path, rec)
	}
	return nil
}

// link makes full a symlink to target. A link already pointing there is
// left untouched; anything else that is not a directory is replaced.
// A replaced symlink is restored on undo; a replaced file is not.
func (m *Manager) link(full, target string, undo *undoLog) error {
	root := m.paths.Root()
	var previous string
	info, err := m.fsys.Lstat(full)
	if err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			current, err := m.fsys.Readlink(full)
			if err == nil && current == target {
				return nil
			}
			previous = current
		} else if !info.IsDir() {
			if err := m.fsys.Remove(full); err != nil {
				return err
			}
		}
	}
	if err := filesystem.ReplaceSymlink(m.fsys, target, full); err != nil {
		return err
	}
	undo.push(func() error {
		if previous != "" {
			return filesystem.ReplaceSymlink(m.fsys, previous, full)
		}
		if err := m.fsys.Remove(full); err != nil && !os.IsNotExist(err) {
			return err
		}
		filesystem.PruneEmptyDirs(m.fsys, filepath.Dir(full), root)
		return nil
	})
	return nil
}

func (m *Manager) installConfig(staged *types.StagedInstallation, e entry, dest string, report *Report, undo *undoLog) error {
	src := filepath.Join(staged.Prefix, filepath.FromSlash(e.target))
	data, err := m.fsys.ReadFile(src)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to read staged config %s", e.target)
	}
	info, err := m.fsys.Stat(src)
	if err != nil {
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to stat staged config %s", e.target)
	}

	current, err := m.fsys.ReadFile(dest)
	switch {
	case err != nil && !os.IsNotExist(err):
		return errors.Wrapf(err, errors.ErrFileAccess, "failed to read %s", e.path)
	case err == nil && bytes.Equal(current, data):
		return nil
	case err == nil && m.opts.ConfigPolicy != PolicyRefresh:
		report.Preserved = append(report.Preserved, e.path)
		return nil
	case err == nil:
		if err := m.fsys.Rename(dest, dest+SaveSuffix); err != nil {
			return errors.Wrapf(err, errors.ErrFileWrite, "failed to keep previous %s", e.path)
		}
		report.Saved = append(report.Saved, e.path+SaveSuffix)
		undo.push(func() error { return m.fsys.Rename(dest+SaveSuffix, dest) })
	default:
		undo.push(func() error {
			if err := m.fsys.Remove(dest); err != nil && !os.IsNotExist(err) {
				return err
			}
			filesystem.PruneEmptyDirs(m.fsys, filepath.Dir(dest), m.paths.Root())
			return nil
		})
	}

	if err := m.fsys.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errors.Wrapf(err, errors.ErrDirCreate, "failed to create %s", filepath.Dir(dest))
	}
	if err := m.fsys.WriteFile(dest, data, info.Mode().Perm()); err != nil {
		return errors.Wrapf(err, errors.ErrFileWrite, "failed to install %s", e.path).
			WithDetail(errors.DetailPath, e.path)
	}
	report.Installed = append(report.Installed, e.path)
	return nil
}

// Unpublish removes every link owned by name and prunes directories left
// empty. Configuration files stay in place; only their records go.
func (m *Manager) Unpublish(ctx context.Context, name string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	unlock, err := m.store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := m.store.Load()
	if err != nil {
		return nil, err
	}

	root := m.paths.Root()
	owned := state.PathsOwnedBy(name)
	var removed []string
	// deepest first so directory records see their children gone
	sort.Sort(sort.Reverse(sort.StringSlice(owned)))
	for _, p := range owned {
		rec, _ := state.Owner(p)
		full := filepath.Join(root, filepath.FromSlash(p))
		switch rec.Kind {
		case types.LinkSymlink:
			if filesystem.IsSymlink(m.fsys, full) {
				if err := m.fsys.Remove(full); err != nil {
					_ = m.store.Save(state)
					return removed, errors.Wrapf(err, errors.ErrFileWrite, "failed to remove link %s", p).
						WithDetail(errors.DetailPath, p)
				}
				removed = append(removed, p)
			}
			filesystem.PruneEmptyDirs(m.fsys, filepath.Dir(full), root)
		case types.LinkDir:
			filesystem.PruneEmptyDirs(m.fsys, full, root)
		}
		state.Delete(p)
	}

	if len(owned) > 0 {
		if err := m.store.Save(state); err != nil {
			return removed, err
		}
	}
	sort.Strings(removed)
	m.logger.Info().Str("package", name).Int("removed", len(removed)).Msg("Unpublished")
	return removed, nil
}
