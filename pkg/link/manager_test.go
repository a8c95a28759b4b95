// pkg/link/manager_test.go
// TEST TYPE: Integration Tests
// DEPENDENCIES: Temp directories with real symlinks
// PURPOSE: Test publish, conflicts, idempotence, upgrades, config policies and unpublish

package link_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/arthur-debert/keg/pkg/datastore"
	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/link"
	"github.com/arthur-debert/keg/pkg/testutil"
	"github.com/arthur-debert/keg/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kegSpec struct {
	name    string
	version string
	files   map[string]string
	configs []string
	dirs    []string
}

// sealedKeg writes files into the keg of spec and returns the sealed
// installation the stager would have produced.
func sealedKeg(t *testing.T, env *testutil.TestEnvironment, spec kegSpec) *types.StagedInstallation {
	t.Helper()
	prefix := env.Keg(spec.name, spec.version)
	for rel, content := range spec.files {
		testutil.CreateFile(t, prefix, rel, content)
	}
	receipt := types.Receipt{Name: spec.name, Version: spec.version, Directories: spec.dirs}
	for _, c := range spec.configs {
		receipt.ConfigFiles = append(receipt.ConfigFiles, types.ConfigFile{Source: c, Dest: c})
	}
	return &types.StagedInstallation{
		Name:    spec.name,
		Version: spec.version,
		Prefix:  prefix,
		Receipt: receipt,
		Sealed:  true,
	}
}

func newManager(env *testutil.TestEnvironment, policy string) *link.Manager {
	store := datastore.New(env.FS, env.Paths.LinkStatePath(), env.Paths.LockPath())
	return link.New(env.FS, env.Paths, store, link.Options{ConfigPolicy: policy})
}

func zookeeperKeg(t *testing.T, env *testutil.TestEnvironment) *types.StagedInstallation {
	return sealedKeg(t, env, kegSpec{
		name:    "zookeeper",
		version: "3.4.6_1",
		files: map[string]string{
			"bin/zkServer":                  "#!/bin/sh\n",
			"bin/zkCli":                     "#!/bin/sh\n",
			"lib/libzookeeper_mt.a":         "archive",
			"include/zookeeper/zookeeper.h": "/* header */",
			"libexec/bin/zkServer.sh":       "#!/bin/sh\n",
			"etc/zookeeper/defaults":        "export ZOOCFGDIR=x\n",
		},
		configs: []string{"etc/zookeeper/defaults"},
		dirs:    []string{"etc/zookeeper", "var/log/zookeeper", "var/run/zookeeper/data"},
	})
}

func TestPublish(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	m := newManager(env, "")
	staged := zookeeperKeg(t, env)

	report, err := m.Publish(context.Background(), staged, false)
	require.NoError(t, err)

	testutil.AssertSymlink(t, env.Shared("bin", "zkServer"), "../cellar/zookeeper/3.4.6_1/bin/zkServer")
	testutil.AssertSymlink(t, env.Shared("include", "zookeeper", "zookeeper.h"), "../../cellar/zookeeper/3.4.6_1/include/zookeeper/zookeeper.h")
	testutil.AssertSymlink(t, env.Shared("opt", "zookeeper"), "../cellar/zookeeper/3.4.6_1")
	testutil.AssertNoPath(t, env.Shared("libexec"))
	testutil.AssertFileContent(t, env.Shared("etc", "zookeeper", "defaults"), "export ZOOCFGDIR=x\n")
	assert.DirExists(t, env.Shared("var", "run", "zookeeper", "data"))
	assert.DirExists(t, env.Shared("var", "log", "zookeeper"))

	assert.Contains(t, report.Linked, "bin/zkCli")
	assert.Equal(t, []string{"etc/zookeeper/defaults"}, report.Installed)

	state, err := m.State()
	require.NoError(t, err)
	rec, ok := state.Owner("bin/zkServer")
	require.True(t, ok)
	assert.Equal(t, types.LinkRecord{
		Package: "zookeeper",
		Version: "3.4.6_1",
		Target:  "../cellar/zookeeper/3.4.6_1/bin/zkServer",
		Kind:    types.LinkSymlink,
	}, rec)
	cfg, _ := state.Owner("etc/zookeeper/defaults")
	assert.Equal(t, types.LinkConfig, cfg.Kind)

	version, published, err := m.PublishedVersion("zookeeper")
	require.NoError(t, err)
	assert.True(t, published)
	assert.Equal(t, "3.4.6_1", version)
}

func TestPublish_Idempotent(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	m := newManager(env, "")
	staged := zookeeperKeg(t, env)

	_, err := m.Publish(context.Background(), staged, false)
	require.NoError(t, err)
	first, err := os.ReadFile(env.Paths.LinkStatePath())
	require.NoError(t, err)
	info, err := os.Stat(env.Paths.LinkStatePath())
	require.NoError(t, err)

	report, err := m.Publish(context.Background(), staged, false)
	require.NoError(t, err)
	assert.Empty(t, report.Installed)
	assert.Empty(t, report.Preserved)

	second, err := os.ReadFile(env.Paths.LinkStatePath())
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	again, err := os.Stat(env.Paths.LinkStatePath())
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), again.ModTime(), "unchanged state is not rewritten")
}

func TestPublish_ConflictWithAnotherPackage(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	m := newManager(env, "")
	x := sealedKeg(t, env, kegSpec{name: "x", version: "1.0", files: map[string]string{"bin/foo": "x"}})
	y := sealedKeg(t, env, kegSpec{name: "y", version: "1.0", files: map[string]string{
		"bin/bar": "y",
		"bin/foo": "y",
	}})

	_, err := m.Publish(context.Background(), x, false)
	require.NoError(t, err)

	_, err = m.Publish(context.Background(), y, false)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrLinkConflict))
	details := errors.GetErrorDetails(err)
	assert.Equal(t, "bin/foo", details[errors.DetailPath])
	assert.Equal(t, "x", details[errors.DetailOwner])

	testutil.AssertSymlink(t, env.Shared("bin", "foo"), "../cellar/x/1.0/bin/foo")
	testutil.AssertNoPath(t, env.Shared("bin", "bar"))
	testutil.AssertNoPath(t, env.Shared("opt", "y"))

	state, err := m.State()
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, state.Packages())
}

func TestPublish_ForceTakesOver(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	m := newManager(env, "")
	x := sealedKeg(t, env, kegSpec{name: "x", version: "1.0", files: map[string]string{"bin/foo": "x"}})
	y := sealedKeg(t, env, kegSpec{name: "y", version: "1.0", files: map[string]string{"bin/foo": "y"}})

	_, err := m.Publish(context.Background(), x, false)
	require.NoError(t, err)
	_, err = m.Publish(context.Background(), y, true)
	require.NoError(t, err)

	testutil.AssertSymlink(t, env.Shared("bin", "foo"), "../cellar/y/1.0/bin/foo")
	state, err := m.State()
	require.NoError(t, err)
	rec, _ := state.Owner("bin/foo")
	assert.Equal(t, "y", rec.Package)
}

func TestPublish_UnmanagedFileConflict(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	m := newManager(env, "")
	testutil.CreateFile(t, env.Shared("bin"), "foo", "mine")
	x := sealedKeg(t, env, kegSpec{name: "x", version: "1.0", files: map[string]string{"bin/foo": "x"}})

	_, err := m.Publish(context.Background(), x, false)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrLinkConflict))
	assert.Equal(t, "", errors.GetErrorDetails(err)[errors.DetailOwner])
	testutil.AssertFileContent(t, env.Shared("bin", "foo"), "mine")

	_, err = m.Publish(context.Background(), x, true)
	require.NoError(t, err)
	testutil.AssertSymlink(t, env.Shared("bin", "foo"), "../cellar/x/1.0/bin/foo")
}

func TestPublish_UpgradeReplacesOwnLinks(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	m := newManager(env, "")
	v1 := sealedKeg(t, env, kegSpec{name: "app", version: "1.0", files: map[string]string{
		"bin/app":    "1",
		"bin/legacy": "1",
	}})
	v2 := sealedKeg(t, env, kegSpec{name: "app", version: "2.0", files: map[string]string{"bin/app": "2"}})

	_, err := m.Publish(context.Background(), v1, false)
	require.NoError(t, err)
	report, err := m.Publish(context.Background(), v2, false)
	require.NoError(t, err)

	testutil.AssertSymlink(t, env.Shared("bin", "app"), "../cellar/app/2.0/bin/app")
	testutil.AssertSymlink(t, env.Shared("opt", "app"), "../cellar/app/2.0")
	testutil.AssertNoPath(t, env.Shared("bin", "legacy"))
	assert.Equal(t, []string{"bin/legacy"}, report.Removed)

	version, _, err := m.PublishedVersion("app")
	require.NoError(t, err)
	assert.Equal(t, "2.0", version)
}

func TestPublish_FailureRevertsFreshInstall(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	m := newManager(env, "")
	// runtime directories come last, after links and configs are written
	testutil.CreateFile(t, env.Paths.Root(), "var", "not a directory")
	staged := sealedKeg(t, env, kegSpec{
		name:    "app",
		version: "1.0",
		files: map[string]string{
			"bin/app":          "#!/bin/sh\n",
			"etc/app/app.conf": "shipped\n",
		},
		configs: []string{"etc/app/app.conf"},
		dirs:    []string{"var/run/app"},
	})

	report, err := m.Publish(context.Background(), staged, false)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, errors.IsErrorCode(err, errors.ErrDirCreate))

	testutil.AssertNoPath(t, env.Shared("bin"))
	testutil.AssertNoPath(t, env.Shared("opt"))
	testutil.AssertNoPath(t, env.Shared("etc"))
	testutil.AssertFileContent(t, env.Shared("var"), "not a directory")

	state, err := m.State()
	require.NoError(t, err)
	assert.Empty(t, state.PathsOwnedBy("app"))
	_, published, err := m.PublishedVersion("app")
	require.NoError(t, err)
	assert.False(t, published)
}

func TestPublish_FailedUpgradeKeepsPreviousVersion(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	m := newManager(env, "")
	v1 := sealedKeg(t, env, kegSpec{name: "app", version: "1.0", files: map[string]string{
		"bin/app":    "1",
		"bin/legacy": "1",
	}})
	v2 := sealedKeg(t, env, kegSpec{name: "app", version: "2.0", files: map[string]string{
		"bin/app":          "2",
		"share/app/README": "docs",
	}})

	_, err := m.Publish(context.Background(), v1, false)
	require.NoError(t, err)
	before, err := os.ReadFile(env.Paths.LinkStatePath())
	require.NoError(t, err)

	testutil.CreateFile(t, env.Paths.Root(), "share", "not a directory")
	_, err = m.Publish(context.Background(), v2, false)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrSymlinkCreate))
	assert.Equal(t, "share/app/README", errors.GetErrorDetails(err)[errors.DetailPath])

	testutil.AssertSymlink(t, env.Shared("bin", "app"), "../cellar/app/1.0/bin/app")
	testutil.AssertSymlink(t, env.Shared("bin", "legacy"), "../cellar/app/1.0/bin/legacy")
	testutil.AssertSymlink(t, env.Shared("opt", "app"), "../cellar/app/1.0")

	after, err := os.ReadFile(env.Paths.LinkStatePath())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	version, _, err := m.PublishedVersion("app")
	require.NoError(t, err)
	assert.Equal(t, "1.0", version)
}

func TestPublish_ConfigPolicies(t *testing.T) {
	tests := []struct {
		policy    string
		wantEtc   string
		wantSaved bool
	}{
		{policy: link.PolicyPreserve, wantEtc: "edited by user\n"},
		{policy: link.PolicyRefresh, wantEtc: "shipped\n", wantSaved: true},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			env := testutil.NewTestEnvironment(t)
			m := newManager(env, tt.policy)
			testutil.CreateFile(t, env.Shared("etc", "app"), "app.conf", "edited by user\n")
			staged := sealedKeg(t, env, kegSpec{
				name:    "app",
				version: "1.0",
				files:   map[string]string{"etc/app/app.conf": "shipped\n"},
				configs: []string{"etc/app/app.conf"},
			})

			report, err := m.Publish(context.Background(), staged, false)
			require.NoError(t, err)

			testutil.AssertFileContent(t, env.Shared("etc", "app", "app.conf"), tt.wantEtc)
			if tt.wantSaved {
				testutil.AssertFileContent(t, env.Shared("etc", "app", "app.conf"+link.SaveSuffix), "edited by user\n")
				assert.Equal(t, []string{"etc/app/app.conf.kegsave"}, report.Saved)
			} else {
				testutil.AssertNoPath(t, env.Shared("etc", "app", "app.conf"+link.SaveSuffix))
				assert.Equal(t, []string{"etc/app/app.conf"}, report.Preserved)
			}
		})
	}
}

func TestUnpublish(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	m := newManager(env, "")
	staged := zookeeperKeg(t, env)
	other := sealedKeg(t, env, kegSpec{name: "other", version: "1.0", files: map[string]string{"bin/other": "o"}})

	_, err := m.Publish(context.Background(), staged, false)
	require.NoError(t, err)
	_, err = m.Publish(context.Background(), other, false)
	require.NoError(t, err)

	removed, err := m.Unpublish(context.Background(), "zookeeper")
	require.NoError(t, err)
	assert.Contains(t, removed, "bin/zkServer")
	assert.Contains(t, removed, "opt/zookeeper")

	testutil.AssertNoPath(t, env.Shared("bin", "zkServer"))
	testutil.AssertNoPath(t, env.Shared("include"))
	testutil.AssertNoPath(t, env.Shared("opt", "zookeeper"))
	testutil.AssertNoPath(t, env.Shared("var", "run"))
	testutil.AssertSymlink(t, env.Shared("bin", "other"), "../cellar/other/1.0/bin/other")
	testutil.AssertFileContent(t, env.Shared("etc", "zookeeper", "defaults"), "export ZOOCFGDIR=x\n")

	state, err := m.State()
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, state.Packages())

	removed, err = m.Unpublish(context.Background(), "zookeeper")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestPublish_RefusesUnsealed(t *testing.T) {
	env := testutil.NewTestEnvironment(t)
	staged := sealedKeg(t, env, kegSpec{name: "app", version: "1.0"})
	staged.Sealed = false

	_, err := newManager(env, "").Publish(context.Background(), staged, false)
	require.Error(t, err)
	testutil.AssertNoPath(t, filepath.Join(env.Root, "opt"))
}
