package paths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/arthur-debert/keg/pkg/errors"
)

// Environment variable names
const (
	EnvRoot      = "KEG_ROOT"
	EnvConfigDir = "KEG_CONFIG_DIR"
	EnvCacheDir  = "KEG_CACHE_DIR"
	EnvStateDir  = "KEG_STATE_DIR"
	EnvHome      = "HOME"
)

// Fixed layout names. These define keg's on-disk structure and are not
// user-configurable.
const (
	KegDirName      = "keg"
	CellarDir       = "cellar"
	OptDir          = "opt"
	FormulaeDir     = "formulae"
	DownloadsDir    = "downloads"
	BuildDir        = "build"
	LinkStateFile   = "links.toml"
	HistoryFile     = "history.db"
	LockFile        = "keg.lock"
	LogFileName     = "keg.log"
	ReceiptFileName = "INSTALL_RECEIPT.toml"
	ConfigFileName  = "config.toml"
)

// Paths provides centralized path management for keg
type Paths interface {
	Root() string
	CellarDir() string
	RackPath(name string) string
	KegPath(name, version string) string
	OptPath(name string) string
	SharedDir(sub string) string
	ConfigDir() string
	ConfigFile() string
	FormulaeDir() string
	CacheDir() string
	DownloadsDir() string
	BuildDir() string
	StateDir() string
	LinkStatePath() string
	HistoryPath() string
	LockPath() string
	LogFilePath() string
	Rel(path string) (string, error)
}

type paths struct {
	root      string
	xdgConfig string
	xdgCache  string
	xdgState  string
}

// New creates a Paths instance for the given shared root. If root is empty
// it comes from KEG_ROOT, falling back to $XDG_DATA_HOME/keg.
func New(root string) (Paths, error) {
	p := &paths{}

	if root == "" {
		root = os.Getenv(EnvRoot)
	}
	if root == "" {
		root = filepath.Join(xdg.DataHome, KegDirName)
	}
	abs, err := filepath.Abs(expandHome(root))
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to get absolute path for root")
	}
	p.root = filepath.Clean(abs)

	p.setupXDGDirs()
	return p, nil
}

func (p *paths) setupXDGDirs() {
	p.xdgConfig = envOr(EnvConfigDir, filepath.Join(xdg.ConfigHome, KegDirName))
	p.xdgCache = envOr(EnvCacheDir, filepath.Join(xdg.CacheHome, KegDirName))
	p.xdgState = envOr(EnvStateDir, filepath.Join(xdg.StateHome, KegDirName))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return expandHome(v)
	}
	return fallback
}

// expandHome expands ~ to the home directory
func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv(EnvHome)
		if homeDir == "" {
			return path
		}
	}
	if len(path) == 1 {
		return homeDir
	}
	if path[1] == '/' || path[1] == filepath.Separator {
		return filepath.Join(homeDir, path[2:])
	}
	// ~user is not expanded
	return path
}

// ExpandHome expands a leading ~ in path.
func ExpandHome(path string) string {
	return expandHome(path)
}

func (p *paths) Root() string { return p.root }

func (p *paths) CellarDir() string { return filepath.Join(p.root, CellarDir) }

// RackPath holds every installed version of one package.
func (p *paths) RackPath(name string) string {
	return filepath.Join(p.CellarDir(), name)
}

// KegPath is the private prefix of one package version.
func (p *paths) KegPath(name, version string) string {
	return filepath.Join(p.RackPath(name), version)
}

func (p *paths) OptPath(name string) string {
	return filepath.Join(p.root, OptDir, name)
}

// SharedDir returns a top-level directory of the shared root such as bin or
// etc.
func (p *paths) SharedDir(sub string) string {
	return filepath.Join(p.root, sub)
}

func (p *paths) ConfigDir() string   { return p.xdgConfig }
func (p *paths) ConfigFile() string  { return filepath.Join(p.xdgConfig, ConfigFileName) }
func (p *paths) FormulaeDir() string { return filepath.Join(p.xdgConfig, FormulaeDir) }

func (p *paths) CacheDir() string     { return p.xdgCache }
func (p *paths) DownloadsDir() string { return filepath.Join(p.xdgCache, DownloadsDir) }
func (p *paths) BuildDir() string     { return filepath.Join(p.xdgCache, BuildDir) }

func (p *paths) StateDir() string      { return p.xdgState }
func (p *paths) LinkStatePath() string { return filepath.Join(p.xdgState, LinkStateFile) }
func (p *paths) HistoryPath() string   { return filepath.Join(p.xdgState, HistoryFile) }
func (p *paths) LockPath() string      { return filepath.Join(p.xdgState, LockFile) }
func (p *paths) LogFilePath() string   { return filepath.Join(p.xdgState, LogFileName) }

// Rel returns path relative to the shared root. Paths outside the root are
// rejected.
func (p *paths) Rel(path string) (string, error) {
	rel, err := filepath.Rel(p.root, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Newf(errors.ErrInvalidInput, "%s is outside the keg root %s", path, p.root).
			WithDetail(errors.DetailPath, path)
	}
	return rel, nil
}
