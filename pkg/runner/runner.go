// Package runner executes external tools: build actions, patch and svn.
//
// A running command is opaque. Cancelling the caller's context never
// interrupts it; cancellation is observed before a command starts. A
// per-command deadline, when set, sends SIGTERM and escalates to SIGKILL
// after the grace period.
package runner

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/logging"
	"github.com/rs/zerolog"
)

// DefaultTailLines is how many trailing output lines a Result keeps.
const DefaultTailLines = 40

// DefaultKillGrace is the SIGTERM to SIGKILL interval.
const DefaultKillGrace = 10 * time.Second

// Command describes one process invocation.
type Command struct {
	// Name identifies the command in logs and errors.
	Name string
	// Package, when set, tags the streamed output.
	Package string
	Path    string
	Args    []string
	Dir     string
	// Env is the complete environment. A nil Env inherits the current
	// process environment.
	Env       []string
	Timeout   time.Duration
	KillGrace time.Duration
	// LogFile, when set, receives the complete combined output.
	LogFile string
	Stdin   io.Reader
}

// Result is what a finished command left behind. A non-zero ExitCode is
// not an error at this level.
type Result struct {
	ExitCode int
	Tail     string
	Duration time.Duration
	TimedOut bool
}

// Runner runs commands to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	TailLines int
	Logger    zerolog.Logger
}

// New creates an ExecRunner keeping tailLines lines of output.
func New(tailLines int) *ExecRunner {
	if tailLines <= 0 {
		tailLines = DefaultTailLines
	}
	return &ExecRunner{TailLines: tailLines, Logger: logging.GetLogger("runner")}
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, errors.Wrapf(err, errors.ErrCanceled, "not starting %s", cmd.Name)
	}

	lc := r.Logger.With().Str("action", cmd.Name)
	if cmd.Package != "" {
		lc = lc.Str("package", cmd.Package)
	}
	logger := lc.Logger()
	logging.LogCommand(cmd.Path, cmd.Args)

	runCtx := context.WithoutCancel(ctx)
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	c.Stdin = cmd.Stdin
	c.Cancel = func() error {
		logger.Warn().Dur("timeout", cmd.Timeout).Msg("Action deadline reached, sending SIGTERM")
		return c.Process.Signal(syscall.SIGTERM)
	}
	// WaitDelay also bounds the wait for output pipes that a background
	// child (a build daemon, say) keeps open after the command exits.
	c.WaitDelay = cmd.KillGrace
	if c.WaitDelay <= 0 {
		c.WaitDelay = DefaultKillGrace
	}

	tail := newTailBuffer(r.TailLines)
	stdout := logging.NewLineWriter(logger, "stdout")
	stderr := logging.NewLineWriter(logger, "stderr")
	outWriters := []io.Writer{stdout, tail}
	errWriters := []io.Writer{stderr, tail}

	if cmd.LogFile != "" {
		logFile, err := openLog(cmd.LogFile)
		if err != nil {
			logger.Warn().Err(err).Str("path", cmd.LogFile).Msg("Cannot write action log")
		} else {
			defer func() { _ = logFile.Close() }()
			locked := &lockedWriter{w: logFile}
			outWriters = append(outWriters, locked)
			errWriters = append(errWriters, locked)
		}
	}
	c.Stdout = io.MultiWriter(outWriters...)
	c.Stderr = io.MultiWriter(errWriters...)

	start := time.Now()
	err := c.Run()
	stdout.Flush()
	stderr.Flush()

	res := Result{
		Tail:     tail.String(),
		Duration: time.Since(start),
		TimedOut: cmd.Timeout > 0 && runCtx.Err() == context.DeadlineExceeded,
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case stderrors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		case stderrors.Is(err, exec.ErrWaitDelay) && c.ProcessState != nil:
			res.ExitCode = c.ProcessState.ExitCode()
			logger.Warn().
				Int("exit_code", res.ExitCode).
				Msg("Action exited but a child process still holds its output; not waiting for it")
		case res.TimedOut:
			res.ExitCode = -1
		case stderrors.Is(err, exec.ErrNotFound):
			return res, errors.Wrapf(err, errors.ErrNotFound, "cannot run %s", cmd.Path).
				WithDetail(errors.DetailAction, cmd.Name)
		default:
			return res, errors.Wrapf(err, errors.ErrInternal, "cannot run %s", cmd.Path).
				WithDetail(errors.DetailAction, cmd.Name)
		}
	}

	logger.Debug().
		Int("exit_code", res.ExitCode).
		Dur("duration", res.Duration).
		Bool("timed_out", res.TimedOut).
		Msg("Action finished")
	return res, nil
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	mu      sync.Mutex
	n       int
	lines   []string
	partial strings.Builder
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rest := string(p)
	for {
		i := strings.IndexByte(rest, '\n')
		if i < 0 {
			t.partial.WriteString(rest)
			break
		}
		t.partial.WriteString(rest[:i])
		t.push(t.partial.String())
		t.partial.Reset()
		rest = rest[i+1:]
	}
	return len(p), nil
}

func (t *tailBuffer) push(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	lines := t.lines
	if t.partial.Len() > 0 {
		lines = append(append([]string{}, lines...), t.partial.String())
		if len(lines) > t.n {
			lines = lines[len(lines)-t.n:]
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
