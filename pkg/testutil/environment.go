// pkg/testutil/environment.go
// DEPENDENCIES: None (base test utilities)
// PURPOSE: Isolated on-disk layout for tests that install packages

package testutil

import (
	"path/filepath"
	"testing"

	"github.com/arthur-debert/keg/pkg/filesystem"
	"github.com/arthur-debert/keg/pkg/paths"
	"github.com/arthur-debert/keg/pkg/types"
)

// TestEnvironment is a throwaway keg installation.
type TestEnvironment struct {
	Root      string
	ConfigDir string
	CacheDir  string
	StateDir  string

	FS    types.FS
	Paths paths.Paths

	t *testing.T
}

// NewTestEnvironment creates the directories under t.TempDir() and points
// the KEG_* variables at them for the duration of the test.
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	base := t.TempDir()
	env := &TestEnvironment{
		Root:      filepath.Join(base, "root"),
		ConfigDir: filepath.Join(base, "config"),
		CacheDir:  filepath.Join(base, "cache"),
		StateDir:  filepath.Join(base, "state"),
		FS:        filesystem.NewOS(),
		t:         t,
	}

	t.Setenv(paths.EnvRoot, env.Root)
	t.Setenv(paths.EnvConfigDir, env.ConfigDir)
	t.Setenv(paths.EnvCacheDir, env.CacheDir)
	t.Setenv(paths.EnvStateDir, env.StateDir)
	t.Setenv("KEG_CONFIG", filepath.Join(env.ConfigDir, paths.ConfigFileName))

	for _, dir := range []string{env.Root, env.ConfigDir, env.CacheDir, env.StateDir} {
		CreateDir(t, dir, "")
	}

	p, err := paths.New(env.Root)
	if err != nil {
		t.Fatalf("Failed to create paths: %v", err)
	}
	env.Paths = p
	return env
}

// Shared returns a path inside the shared root.
func (env *TestEnvironment) Shared(parts ...string) string {
	return filepath.Join(append([]string{env.Root}, parts...)...)
}

// Keg returns the private prefix of name at version.
func (env *TestEnvironment) Keg(name, version string) string {
	return env.Paths.KegPath(name, version)
}

// WriteFormula writes a formula file into the user formulae directory.
func (env *TestEnvironment) WriteFormula(name, content string) string {
	env.t.Helper()
	return CreateFile(env.t, env.Paths.FormulaeDir(), name+".toml", content)
}
