// pkg/runner/runner_test.go
// TEST TYPE: Integration Test
// DEPENDENCIES: /bin/sh
// PURPOSE: Test exit status capture, output tails, deadlines and cancellation

package runner_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sh(name, script string) runner.Command {
	return runner.Command{Name: name, Path: "/bin/sh", Args: []string{"-c", script}}
}

func TestRun_Success(t *testing.T) {
	r := runner.New(5)
	res, err := r.Run(context.Background(), sh("echo", "echo hello; echo oops >&2"))
	require.NoError(t, err)

	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Tail, "hello\n")
	assert.Contains(t, res.Tail, "oops\n")
	assert.False(t, res.TimedOut)
}

func TestRun_NonZeroExit(t *testing.T) {
	r := runner.New(5)
	res, err := r.Run(context.Background(), sh("fail", "echo checking; exit 3"))
	require.NoError(t, err, "a failing tool is a result, not a runner error")

	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "checking\n", res.Tail)
}

func TestRun_BackgroundChildKeepsExitStatus(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		timeout time.Duration
		want    int
	}{
		{"success without deadline", "(sleep 5) & echo started; exit 0", 0, 0},
		{"success with deadline", "(sleep 5) & echo started; exit 0", time.Minute, 0},
		{"failure", "(sleep 5) & echo started; exit 4", 0, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := sh("daemonize", tt.script)
			cmd.Timeout = tt.timeout
			cmd.KillGrace = 200 * time.Millisecond

			start := time.Now()
			res, err := runner.New(5).Run(context.Background(), cmd)
			require.NoError(t, err)

			assert.Equal(t, tt.want, res.ExitCode)
			assert.False(t, res.TimedOut)
			assert.Contains(t, res.Tail, "started")
			assert.Less(t, time.Since(start), 4*time.Second, "does not wait for the child")
		})
	}
}

func TestRun_TailKeepsLastLines(t *testing.T) {
	r := runner.New(3)
	res, err := r.Run(context.Background(), sh("count", "for i in 1 2 3 4 5 6; do echo line$i; done; printf partial"))
	require.NoError(t, err)

	assert.Equal(t, "line5\nline6\npartial\n", res.Tail)
}

func TestRun_DirAndEnv(t *testing.T) {
	dir := t.TempDir()
	cmd := sh("env", `printf "%s %s" "$(pwd)" "$GREETING"`)
	cmd.Dir = dir
	cmd.Env = []string{"GREETING=hi", "PATH=" + os.Getenv("PATH")}

	res, err := runner.New(5).Run(context.Background(), cmd)
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Tail, resolved) || strings.HasPrefix(res.Tail, dir), res.Tail)
	assert.Contains(t, res.Tail, " hi")
}

func TestRun_Timeout(t *testing.T) {
	cmd := sh("sleepy", "sleep 5")
	cmd.Timeout = 100 * time.Millisecond
	cmd.KillGrace = 100 * time.Millisecond

	start := time.Now()
	res, err := runner.New(5).Run(context.Background(), cmd)
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.NotEqual(t, 0, res.ExitCode)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRun_TimeoutEscalatesToKill(t *testing.T) {
	cmd := sh("stubborn", `trap "" TERM; sleep 5`)
	cmd.Timeout = 100 * time.Millisecond
	cmd.KillGrace = 200 * time.Millisecond

	start := time.Now()
	res, err := runner.New(5).Run(context.Background(), cmd)
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.NotEqual(t, 0, res.ExitCode)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	marker := filepath.Join(t.TempDir(), "ran")
	_, err := runner.New(5).Run(ctx, sh("touch", "touch "+marker))
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCanceled))
	assert.NoFileExists(t, marker)
}

func TestRun_CancelDoesNotInterruptRunningAction(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	marker := filepath.Join(t.TempDir(), "done")

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	res, err := runner.New(5).Run(ctx, sh("slow", "sleep 0.3; touch "+marker))
	require.NoError(t, err)

	assert.Equal(t, 0, res.ExitCode)
	assert.FileExists(t, marker)
}

func TestRun_LogFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "01.configure")
	cmd := sh("configure", "echo one; echo two >&2")
	cmd.LogFile = logFile

	_, err := runner.New(5).Run(context.Background(), cmd)
	require.NoError(t, err)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "one\n")
	assert.Contains(t, string(data), "two\n")
}

func TestRun_MissingBinary(t *testing.T) {
	_, err := runner.New(5).Run(context.Background(), runner.Command{Name: "ghost", Path: "definitely-not-a-real-tool-xyz"})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrNotFound))
}
