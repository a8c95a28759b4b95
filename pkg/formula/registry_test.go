// pkg/formula/registry_test.go
// TEST TYPE: Unit Test
// DEPENDENCIES: afero in-memory FS
// PURPOSE: Test formula lookup across directories

package formula_test

import (
	"path"
	"testing"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/filesystem"
	"github.com/arthur-debert/keg/pkg/formula"
	"github.com/arthur-debert/keg/pkg/types"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memRegistry(t *testing.T, files map[string]string, dirs ...string) *formula.FileRegistry {
	t.Helper()
	fsys := filesystem.NewAferoFS(afero.NewMemMapFs())
	for p, content := range files {
		require.NoError(t, fsys.MkdirAll(path.Dir(p), 0755))
		require.NoError(t, fsys.WriteFile(p, []byte(content), 0644))
	}
	return formula.NewFileRegistry(fsys, dirs...)
}

func toolFormula(version string) string {
	return "name = \"tool\"\nversion = \"" + version + "\"\n[source.stable]\nurl = \"https://x\"\ndigest = \"" + sha256Hex + "\"\n"
}

func TestFileRegistry_Get(t *testing.T) {
	r := memRegistry(t, map[string]string{
		"/local/tool.toml": toolFormula("2.0"),
		"/core/tool.toml":  toolFormula("1.0"),
		"/core/other.yml":  "name: other\nversion: '1'\nsource:\n  head:\n    url: https://x\n    vcs: git\nlayout: {}\nstage: {}\n",
	}, "/local", "/core")

	f, err := r.Get("tool")
	require.NoError(t, err)
	assert.Equal(t, "2.0", f.Version, "earlier directories shadow later ones")

	again, err := r.Get("tool")
	require.NoError(t, err)
	assert.Same(t, f, again, "formulae are cached")

	other, err := r.Get("other")
	require.NoError(t, err)
	assert.Equal(t, types.VCSGit, other.Head.VCS)

	_, err = r.Get("missing")
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrNotFound))

	_, err = r.Get("../etc/passwd")
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidInput))
}

func TestFileRegistry_Names(t *testing.T) {
	r := memRegistry(t, map[string]string{
		"/local/tool.toml": toolFormula("2.0"),
		"/core/tool.toml":  toolFormula("1.0"),
		"/core/hello.yaml": "",
		"/core/README.md":  "",
	}, "/local", "/core", "/absent")

	names, err := r.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "tool"}, names)
}

func TestStaticRegistry(t *testing.T) {
	r := formula.NewStaticRegistry(&types.Formula{Name: "a"}, &types.Formula{Name: "b"})

	f, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", f.Name)

	_, err = r.Get("c")
	assert.True(t, errors.IsErrorCode(err, errors.ErrNotFound))

	names, err := r.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}
