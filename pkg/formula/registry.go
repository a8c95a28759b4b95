package formula

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/logging"
	"github.com/arthur-debert/keg/pkg/types"
)

// Registry resolves formula names to formulae.
type Registry interface {
	// Get returns the named formula or an ErrNotFound error.
	Get(name string) (*types.Formula, error)
	// Names lists every formula the registry can serve, sorted.
	Names() ([]string, error)
}

// FileRegistry serves formulae from a list of directories. Earlier
// directories shadow later ones. Loaded formulae are cached for the
// lifetime of the registry.
type FileRegistry struct {
	fs   types.FS
	dirs []string

	mu    sync.Mutex
	cache map[string]*types.Formula
}

// NewFileRegistry creates a registry searching dirs in order.
func NewFileRegistry(fsys types.FS, dirs ...string) *FileRegistry {
	return &FileRegistry{fs: fsys, dirs: dirs, cache: map[string]*types.Formula{}}
}

// Dirs returns the searched directories.
func (r *FileRegistry) Dirs() []string {
	return r.dirs
}

func (r *FileRegistry) Get(name string) (*types.Formula, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.cache[name]; ok {
		return f, nil
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, errors.Newf(errors.ErrInvalidInput, "invalid formula name %q", name)
	}

	for _, dir := range r.dirs {
		for _, ext := range Extensions {
			path := filepath.Join(dir, name+ext)
			if _, err := r.fs.Stat(path); err != nil {
				continue
			}
			f, err := LoadFile(r.fs, path)
			if err != nil {
				return nil, err
			}
			logger := logging.GetLogger("formula")
			logger.Debug().Str("formula", name).Str("path", path).Msg("Loaded formula")
			r.cache[name] = f
			return f, nil
		}
	}
	return nil, errors.Newf(errors.ErrNotFound, "no formula named %q", name).
		WithDetail(errors.DetailPackage, name)
}

func (r *FileRegistry) Names() ([]string, error) {
	seen := map[string]bool{}
	for _, dir := range r.dirs {
		entries, err := r.fs.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, errors.ErrFileAccess, "cannot list formulae in %s", dir)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := filepath.Ext(e.Name())
			for _, known := range Extensions {
				if ext == known {
					seen[strings.TrimSuffix(e.Name(), ext)] = true
				}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// StaticRegistry is an in-memory registry.
type StaticRegistry map[string]*types.Formula

// NewStaticRegistry indexes formulae by name.
func NewStaticRegistry(formulae ...*types.Formula) StaticRegistry {
	r := StaticRegistry{}
	for _, f := range formulae {
		r[f.Name] = f
	}
	return r
}

func (r StaticRegistry) Get(name string) (*types.Formula, error) {
	if f, ok := r[name]; ok {
		return f, nil
	}
	return nil, errors.Newf(errors.ErrNotFound, "no formula named %q", name).
		WithDetail(errors.DetailPackage, name)
}

func (r StaticRegistry) Names() ([]string, error) {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}
