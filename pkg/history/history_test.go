// pkg/history/history_test.go
// TEST TYPE: Integration Tests
// DEPENDENCIES: SQLite (cgo), temp directories
// PURPOSE: Test run recording, package results and filtered queries

package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clock := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestRecordAndQuery(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id, err := s.Begin(ctx, "install", "zookeeper")
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, id, StatusFailed, fmt.Errorf("package \"autoconf\" failed at build stage"), []PackageResult{
		{Package: "autoconf", Version: "2.69", Status: StatusFailed, Stage: "build", Error: "exit 1", Duration: 1500 * time.Millisecond},
		{Package: "zookeeper", Version: "3.4.6_1", Status: StatusSkipped},
	}))

	runs, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, id, run.ID)
	assert.Equal(t, "install", run.Command)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Error, "autoconf")
	assert.True(t, run.FinishedAt.After(run.StartedAt))
	require.Len(t, run.Packages, 2)
	assert.Equal(t, PackageResult{
		Package: "autoconf", Version: "2.69", Status: StatusFailed, Stage: "build", Error: "exit 1", Duration: 1500 * time.Millisecond,
	}, run.Packages[0])
	assert.Equal(t, StatusSkipped, run.Packages[1].Status)
}

func TestRecent_FilterAndOrder(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, target := range []string{"zookeeper", "ant", "zookeeper"} {
		id, err := s.Begin(ctx, "install", target)
		require.NoError(t, err)
		require.NoError(t, s.Finish(ctx, id, StatusSucceeded, nil, []PackageResult{
			{Package: target, Version: "1.0", Status: StatusSucceeded},
			{Package: "python", Version: "3.12", Status: StatusInstalled},
		}))
	}

	runs, err := s.Recent(ctx, "ant", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "ant", runs[0].Target)

	runs, err = s.Recent(ctx, "python", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "zookeeper", runs[0].Target, "newest first")
	assert.Equal(t, "ant", runs[1].Target)
}

func TestFinish_UnknownRun(t *testing.T) {
	s := openStore(t)
	err := s.Finish(context.Background(), "nope", StatusSucceeded, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrNotFound))
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.Begin(context.Background(), "uninstall", "ant")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	runs, err := s.Recent(context.Background(), "", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, StatusRunning, runs[0].Status)
	assert.True(t, runs[0].FinishedAt.IsZero())
}
