package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/logging"
	"github.com/arthur-debert/keg/pkg/types"
	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
)

// DefaultLockTimeout bounds how long Lock waits for another process.
const DefaultLockTimeout = 30 * time.Second

const lockRetryDelay = 100 * time.Millisecond

// LinkStore loads and saves the LinkState.
type LinkStore interface {
	// Load returns the stored state, or an empty one if none was saved yet.
	Load() (*types.LinkState, error)
	// Save replaces the stored state atomically.
	Save(state *types.LinkState) error
	// Lock takes the cross-process writer lock. The returned function
	// releases it.
	Lock(ctx context.Context) (func(), error)
}

type fileStore struct {
	fs       types.FS
	path     string
	lockPath string
	timeout  time.Duration
}

// New creates a LinkStore keeping its state at statePath, locked through
// lockPath. The lock always lives on the real filesystem.
func New(fs types.FS, statePath, lockPath string) LinkStore {
	return &fileStore{fs: fs, path: statePath, lockPath: lockPath, timeout: DefaultLockTimeout}
}

func (s *fileStore) Load() (*types.LinkState, error) {
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.NewLinkState(), nil
		}
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to read link state %s", s.path).
			WithDetail(errors.DetailPath, s.path)
	}

	state := types.NewLinkState()
	if err := toml.Unmarshal(data, state); err != nil {
		return nil, errors.Wrapf(err, errors.ErrLinkState, "corrupt link state %s", s.path).
			WithDetail(errors.DetailPath, s.path)
	}
	if state.Links == nil {
		state.Links = map[string]types.LinkRecord{}
	}
	return state, nil
}

func (s *fileStore) Save(state *types.LinkState) error {
	data, err := toml.Marshal(state)
	if err != nil {
		return errors.Wrap(err, errors.ErrLinkState, "failed to encode link state")
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.Wrapf(err, errors.ErrDirCreate, "failed to create %s", filepath.Dir(s.path))
	}

	tmp := fmt.Sprintf("%s.tmp-%d", s.path, os.Getpid())
	if err := s.fs.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, errors.ErrFileWrite, "failed to write %s", tmp)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return errors.Wrapf(err, errors.ErrFileWrite, "failed to replace link state %s", s.path).
			WithDetail(errors.DetailPath, s.path)
	}

	logger := logging.GetLogger("datastore")
	logger.Debug().
		Str("path", s.path).
		Int("links", len(state.Links)).
		Msg("Link state saved")
	return nil
}

func (s *fileStore) Lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrDirCreate, "failed to create lock directory")
	}

	lock := flock.New(s.lockPath)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrLinkState, "failed to lock %s", s.lockPath).
			WithDetail(errors.DetailPath, s.lockPath)
	}
	if !locked {
		return nil, errors.Newf(errors.ErrLinkState, "timed out waiting for %s; is another keg running?", s.lockPath).
			WithDetail(errors.DetailPath, s.lockPath)
	}
	return func() { _ = lock.Unlock() }, nil
}
