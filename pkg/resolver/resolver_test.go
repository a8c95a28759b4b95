// pkg/resolver/resolver_test.go
// TEST TYPE: Unit Test
// DEPENDENCIES: In-memory registry, formulae/zookeeper.toml
// PURPOSE: Test plan ordering, cycle detection and predicate evaluation

package resolver_test

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/filesystem"
	"github.com/arthur-debert/keg/pkg/formula"
	"github.com/arthur-debert/keg/pkg/resolver"
	"github.com/arthur-debert/keg/pkg/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linux = types.Platform{OS: "linux", Arch: "x86_64", Version: "6.1", Bits: 64}

func mk(name string, deps ...string) *types.Formula {
	f := &types.Formula{
		Name:    name,
		Version: "1.0",
		Stable:  &types.SourceSpec{URL: "https://example.com/" + name + ".tar.gz", Digest: "sha256:00"},
	}
	for _, d := range deps {
		f.Dependencies = append(f.Dependencies, types.DependencySpec{Name: d, Kind: types.DependencyRuntime})
	}
	return f
}

func resolve(t *testing.T, reg formula.Registry, target string, req types.BuildRequest) (*types.ResolvedPlan, error) {
	t.Helper()
	return resolver.New(reg, linux).Resolve(target, req)
}

func assertTopological(t *testing.T, plan *types.ResolvedPlan) {
	t.Helper()
	pos := map[string]int{}
	for i, name := range plan.Names() {
		_, dup := pos[name]
		require.False(t, dup, "%s planned twice", name)
		pos[name] = i
	}
	for _, pkg := range plan.Packages {
		for _, dep := range pkg.DependencyNames() {
			assert.Less(t, pos[dep], pos[pkg.Name()], "%s must precede %s", dep, pkg.Name())
		}
	}
}

func TestResolve_Chain(t *testing.T) {
	reg := formula.NewStaticRegistry(mk("a", "b"), mk("b", "c"), mk("c"))

	plan, err := resolve(t, reg, "a", types.BuildRequest{})
	require.NoError(t, err)

	if diff := cmp.Diff([]string{"c", "b", "a"}, plan.Names()); diff != "" {
		t.Errorf("plan order mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, plan.Packages[2].Target)
	assert.False(t, plan.Packages[0].Target)
	assert.Equal(t, "a", plan.Target)
}

func TestResolve_Diamond(t *testing.T) {
	reg := formula.NewStaticRegistry(mk("a", "b", "c"), mk("b", "d"), mk("c", "d"), mk("d"))

	plan, err := resolve(t, reg, "a", types.BuildRequest{})
	require.NoError(t, err)

	if diff := cmp.Diff([]string{"d", "b", "c", "a"}, plan.Names()); diff != "" {
		t.Errorf("plan order mismatch (-want +got):\n%s", diff)
	}
	assert.ElementsMatch(t, []string{"b", "c", "a"}, plan.Dependents("d"))
	assert.Equal(t, []string{"a"}, plan.Dependents("b"))
}

func TestResolve_Cycle(t *testing.T) {
	reg := formula.NewStaticRegistry(mk("a", "b"), mk("b", "c"), mk("c", "a"))

	plan, err := resolve(t, reg, "a", types.BuildRequest{})
	require.Error(t, err)
	assert.Nil(t, plan)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCycle))
	assert.Equal(t, []string{"a", "b", "c", "a"}, errors.GetErrorDetails(err)[errors.DetailCycle])
}

func TestResolve_CycleBelowTarget(t *testing.T) {
	reg := formula.NewStaticRegistry(mk("app", "x"), mk("x", "y"), mk("y", "x"))

	_, err := resolve(t, reg, "app", types.BuildRequest{})
	require.Error(t, err)
	assert.Equal(t, []string{"x", "y", "x"}, errors.GetErrorDetails(err)[errors.DetailCycle])
}

func TestResolve_Unresolved(t *testing.T) {
	reg := formula.NewStaticRegistry(mk("a", "b"), mk("b", "ghost"))

	_, err := resolve(t, reg, "a", types.BuildRequest{})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrUnresolvedDependency))
	assert.Equal(t, "b", errors.GetErrorDetails(err)[errors.DetailPackage])
	assert.Equal(t, "ghost", errors.GetErrorDetails(err)["dependency"])
}

func TestResolve_MissingTarget(t *testing.T) {
	_, err := resolve(t, formula.NewStaticRegistry(), "nope", types.BuildRequest{})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrNotFound))
}

func TestResolve_OptionGatedDependency(t *testing.T) {
	app := mk("app")
	app.Options = []types.Option{{Name: "ssl"}, {Name: "docs", Default: true}}
	app.Dependencies = []types.DependencySpec{
		{Name: "openssl", Kind: types.DependencyRuntime, When: "option.ssl"},
		{Name: "pandoc", Kind: types.DependencyBuild, When: "option.docs"},
	}
	openssl := mk("openssl")
	openssl.Options = []types.Option{{Name: "fips"}}
	openssl.Dependencies = []types.DependencySpec{{Name: "fips-module", When: "option.fips"}}
	reg := formula.NewStaticRegistry(app, openssl, mk("pandoc"))

	plan, err := resolve(t, reg, "app", types.BuildRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"pandoc", "app"}, plan.Names())

	plan, err = resolve(t, reg, "app", types.BuildRequest{With: []string{"ssl"}, Without: []string{"docs"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"openssl", "app"}, plan.Names())

	target, ok := plan.Lookup("app")
	require.True(t, ok)
	assert.Equal(t, []string{"ssl"}, target.EnabledOptions())
	assert.Equal(t, []string{"openssl"}, target.RuntimeDependencies())

	dep, ok := plan.Lookup("openssl")
	require.True(t, ok)
	assert.Empty(t, dep.EnabledOptions(), "dependencies use their defaults")
}

func TestResolve_UndeclaredOption(t *testing.T) {
	reg := formula.NewStaticRegistry(mk("app"))

	_, err := resolve(t, reg, "app", types.BuildRequest{With: []string{"gui"}})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidInput))
	assert.Contains(t, err.Error(), `no option "gui"`)
}

func TestResolve_HeadOnly(t *testing.T) {
	tool := &types.Formula{Name: "tool", Version: "0", Head: &types.SourceSpec{URL: "https://git.example.com/tool", VCS: "git"}}
	app := mk("app", "tool")
	reg := formula.NewStaticRegistry(app, tool)

	_, err := resolve(t, reg, "tool", types.BuildRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "head-only")

	plan, err := resolve(t, reg, "app", types.BuildRequest{})
	require.NoError(t, err)
	dep, _ := plan.Lookup("tool")
	assert.Equal(t, types.VariantHead, dep.Variant, "head-only dependencies build from head")

	_, err = resolve(t, reg, "app", types.BuildRequest{Head: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no head source")
}

func TestResolve_MergesDuplicateDependencies(t *testing.T) {
	app := mk("app")
	app.Stable.Dependencies = []types.DependencySpec{{Name: "lib", Kind: types.DependencyBuild}}
	app.Dependencies = []types.DependencySpec{{Name: "lib", Kind: types.DependencyRuntime}}
	reg := formula.NewStaticRegistry(app, mk("lib"))

	plan, err := resolve(t, reg, "app", types.BuildRequest{})
	require.NoError(t, err)
	target, _ := plan.Lookup("app")
	require.Len(t, target.Dependencies, 1)
	assert.Equal(t, types.DependencyRuntime, target.Dependencies[0].Kind)
}

func zookeeperRegistry(t *testing.T) formula.StaticRegistry {
	t.Helper()
	zk, err := formula.LoadFile(filesystem.NewOS(), filepath.Join("..", "..", "formulae", "zookeeper.toml"))
	require.NoError(t, err)
	reg := formula.NewStaticRegistry(zk)
	for _, name := range []string{"ant", "cppunit", "libtool", "autoconf", "automake", "python"} {
		reg[name] = mk(name)
	}
	return reg
}

func TestResolve_ZookeeperPredicates(t *testing.T) {
	reg := zookeeperRegistry(t)

	t.Run("stable_linux", func(t *testing.T) {
		plan, err := resolver.New(reg, linux).Resolve("zookeeper", types.BuildRequest{})
		require.NoError(t, err)
		assert.Equal(t, []string{"zookeeper"}, plan.Names())

		zk := plan.Packages[0]
		assert.Equal(t, "3.4.6_1", zk.Version)
		assert.Empty(t, zk.Patches)
		var names []string
		for _, a := range zk.Actions {
			names = append(names, a.Identity())
		}
		assert.Equal(t, []string{"configure", "make-install"}, names)
		require.Len(t, zk.Stage.Installs, 3, "head install rule is inactive")
	})

	t.Run("stable_yosemite_with_python", func(t *testing.T) {
		yosemite := types.Platform{OS: "darwin", Arch: "x86_64", Version: "10.10.5", Bits: 64}
		plan, err := resolver.New(reg, yosemite).Resolve("zookeeper", types.BuildRequest{With: []string{"python"}})
		require.NoError(t, err)
		assertTopological(t, plan)
		assert.Equal(t, []string{"cppunit", "libtool", "autoconf", "automake", "python", "zookeeper"}, plan.Names())

		zk, _ := plan.Lookup("zookeeper")
		require.Len(t, zk.Patches, 1)
		assert.Equal(t, 0, zk.Patches[0].Strip)
		assert.Len(t, zk.Actions, 6)
		assert.Equal(t, []string{"python"}, zk.RuntimeDependencies())
	})

	t.Run("head", func(t *testing.T) {
		plan, err := resolver.New(reg, linux).Resolve("zookeeper", types.BuildRequest{Head: true})
		require.NoError(t, err)
		assertTopological(t, plan)

		zk, _ := plan.Lookup("zookeeper")
		assert.Equal(t, types.VariantHead, zk.Variant)
		assert.Equal(t, "HEAD", zk.Version)
		assert.Equal(t, types.VCSSvn, zk.Source.VCS)
		assert.Equal(t, []string{"ant", "cppunit", "libtool", "autoconf", "automake"}, zk.BuildDependencies())
		assert.Equal(t, "compile-jute", zk.Actions[0].Identity())
		assert.Equal(t, "ant", zk.Actions[len(zk.Actions)-1].Identity())
	})
}

// Random DAGs: edges only point from higher to lower indices, so the graph
// is acyclic by construction.
func TestResolve_RandomDAGsAreTopological(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		n := 2 + rng.Intn(12)
		reg := formula.StaticRegistry{}
		var deps [][]string
		for i := 0; i < n; i++ {
			var ds []string
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					ds = append(ds, fmt.Sprintf("p%d", j))
				}
			}
			deps = append(deps, ds)
			reg[fmt.Sprintf("p%d", i)] = mk(fmt.Sprintf("p%d", i), ds...)
		}
		root := mk("root")
		for i := 0; i < n; i++ {
			root.Dependencies = append(root.Dependencies, types.DependencySpec{Name: fmt.Sprintf("p%d", i)})
		}
		reg["root"] = root

		plan, err := resolve(t, reg, "root", types.BuildRequest{})
		require.NoError(t, err)
		assert.Len(t, plan.Packages, n+1)
		assertTopological(t, plan)
	}
}

// Adding a back edge to any DAG must surface as a cycle.
func TestResolve_RandomCycles(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 30; round++ {
		n := 2 + rng.Intn(8)
		reg := formula.StaticRegistry{}
		for i := 0; i < n; i++ {
			var ds []string
			if i > 0 {
				ds = append(ds, fmt.Sprintf("p%d", i-1))
			}
			reg[fmt.Sprintf("p%d", i)] = mk(fmt.Sprintf("p%d", i), ds...)
		}
		// p0 -> p(k) closes a loop through the chain
		k := rng.Intn(n)
		reg["p0"].Dependencies = append(reg["p0"].Dependencies, types.DependencySpec{Name: fmt.Sprintf("p%d", k)})

		_, err := resolve(t, reg, fmt.Sprintf("p%d", n-1), types.BuildRequest{})
		require.Error(t, err)
		assert.True(t, errors.IsErrorCode(err, errors.ErrCycle))
		cycle := errors.GetErrorDetails(err)[errors.DetailCycle].([]string)
		assert.Equal(t, cycle[0], cycle[len(cycle)-1])
	}
}
