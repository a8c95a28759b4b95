package stage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/filesystem"
	"github.com/arthur-debert/keg/pkg/logging"
	"github.com/arthur-debert/keg/pkg/types"
)

// Prefix is a private installation prefix held for the duration of one
// package pipeline. It must be released with Release; until Commit is
// called, Release discards whatever was written and puts back the keg
// that previously lived at the same path.
type Prefix struct {
	Path string

	fsys      types.FS
	aside     string
	committed bool
	released  bool
}

// Acquire reserves path as an empty private prefix. An existing keg at
// path is moved aside, not removed, so a failed reinstall can restore it.
func Acquire(fsys types.FS, path string) (*Prefix, error) {
	logger := logging.GetLogger("stage")
	p := &Prefix{Path: filepath.Clean(path), fsys: fsys}

	if filesystem.Exists(fsys, p.Path) {
		p.aside = filepath.Join(filepath.Dir(p.Path),
			fmt.Sprintf(".%s.keg-previous-%d", filepath.Base(p.Path), os.Getpid()))
		_ = fsys.RemoveAll(p.aside)
		if err := fsys.Rename(p.Path, p.aside); err != nil {
			return nil, errors.Wrapf(err, errors.ErrInstall, "failed to set aside existing keg %s", p.Path).
				WithDetail(errors.DetailPath, p.Path)
		}
		logger.Debug().Str("keg", p.Path).Str("aside", p.aside).Msg("Existing keg set aside")
	}

	if err := fsys.MkdirAll(p.Path, 0755); err != nil {
		p.restore()
		return nil, errors.Wrapf(err, errors.ErrDirCreate, "failed to create prefix %s", p.Path).
			WithDetail(errors.DetailPath, p.Path)
	}
	return p, nil
}

// Replacing reports whether a previous keg was set aside.
func (p *Prefix) Replacing() bool {
	return p.aside != ""
}

// Commit keeps the prefix and drops the keg it replaced.
func (p *Prefix) Commit() {
	if p.committed || p.released {
		return
	}
	p.committed = true
	if p.aside != "" {
		_ = p.fsys.RemoveAll(p.aside)
		p.aside = ""
	}
}

// Discard removes everything written into the prefix so far. The prefix
// stays acquired.
func (p *Prefix) Discard() {
	_ = p.fsys.RemoveAll(p.Path)
}

// Release ends the acquisition. Uncommitted prefixes are removed and the
// previous keg, if any, is moved back. Empty rack directories are pruned.
// Release is safe to call more than once.
func (p *Prefix) Release() {
	if p.released {
		return
	}
	p.released = true
	if p.committed {
		return
	}
	p.Discard()
	p.restore()
	filesystem.PruneEmptyDirs(p.fsys, filepath.Dir(p.Path), filepath.Dir(filepath.Dir(p.Path)))
}

func (p *Prefix) restore() {
	if p.aside == "" {
		return
	}
	if err := p.fsys.Rename(p.aside, p.Path); err != nil {
		logger := logging.GetLogger("stage")
		logger.Error().Err(err).
			Str("keg", p.Path).
			Str("aside", p.aside).
			Msg("Failed to restore previous keg")
		return
	}
	p.aside = ""
}
