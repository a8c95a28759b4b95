// Package build runs the install procedure of a planned package: its
// plan-selected actions, strictly in order, inside the source tree.
//
// The first action that exits non-zero stops the procedure. Nothing is
// retried. Cancellation is checked between actions only; an action that
// has started runs to completion or to its deadline.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/logging"
	"github.com/arthur-debert/keg/pkg/runner"
	"github.com/arthur-debert/keg/pkg/types"
)

// Options configures an Executor.
type Options struct {
	// ActionTimeout applies to actions that declare none. Zero means no
	// deadline.
	ActionTimeout time.Duration
	KillGrace     time.Duration
	// LogDir receives one full output log per action. Empty disables the
	// logs.
	LogDir string
}

// Executor runs build actions through a Runner.
type Executor struct {
	runner runner.Runner
	opts   Options
}

// New creates an Executor.
func New(r runner.Runner, opts Options) *Executor {
	return &Executor{runner: r, opts: opts}
}

// Run executes every action of bctx.Package in order.
func (e *Executor) Run(ctx context.Context, bctx *types.BuildContext) error {
	pkg := bctx.Package
	base := hostEnv(bctx.Root)
	logger := logging.ForPackage("build", pkg.Name(), pkg.Version)
	done := logging.LogOperationStart(logger, "build")
	defer done()

	for i, action := range pkg.Actions {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, errors.ErrCanceled, "build of %s canceled before %q", pkg.Name(), action.Identity())
		}

		cmd := e.command(bctx, base, i, action)
		logger.Info().
			Str("action", action.Identity()).
			Int("step", i+1).
			Int("of", len(pkg.Actions)).
			Msg("Running action")

		res, err := e.runner.Run(ctx, cmd)
		if err != nil {
			return errors.Wrapf(err, errors.GetErrorCode(err), "action %q could not run", action.Identity()).
				WithDetail(errors.DetailAction, action.Identity())
		}
		if res.ExitCode != 0 {
			buildErr := errors.NewBuildStepError(action.Identity(), res.ExitCode, res.Tail)
			if res.TimedOut {
				buildErr = buildErr.WithDetail("timed_out", true)
			}
			return buildErr
		}
	}
	return nil
}

func (e *Executor) command(bctx *types.BuildContext, base []string, i int, action types.Action) runner.Command {
	timeout := action.Timeout
	if timeout == 0 {
		timeout = e.opts.ActionTimeout
	}

	actionEnv := make(map[string]string, len(action.Env))
	for k, v := range action.Env {
		actionEnv[k] = bctx.Expand(v)
	}
	pkgEnv := make(map[string]string, len(bctx.Env))
	for k, v := range bctx.Env {
		pkgEnv[k] = bctx.Expand(v)
	}

	dir := filepath.Join(bctx.WorkDir, bctx.Expand(action.Dir))
	env := MergeEnv(base, pkgEnv, actionEnv, map[string]string{"PWD": dir})
	cmd := runner.Command{
		Name:      action.Identity(),
		Package:   bctx.Package.Name(),
		Path:      lookPath(bctx.Expand(action.Command), env),
		Args:      bctx.ExpandAll(action.Args),
		Dir:       dir,
		Env:       env,
		Timeout:   timeout,
		KillGrace: e.opts.KillGrace,
	}
	if e.opts.LogDir != "" {
		cmd.LogFile = filepath.Join(e.opts.LogDir, bctx.Package.Name(),
			fmt.Sprintf("%02d.%s.log", i+1, logName(action.Identity())))
	}
	return cmd
}

// lookPath resolves a bare command name against the PATH of the action's
// own environment; os/exec only consults the PATH of this process.
func lookPath(name string, env []string) string {
	if name == "" || strings.ContainsRune(name, os.PathSeparator) {
		return name
	}
	for _, kv := range env {
		value, ok := strings.CutPrefix(kv, "PATH=")
		if !ok {
			continue
		}
		for _, dir := range filepath.SplitList(value) {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
				return candidate
			}
		}
	}
	return name
}

var unsafeLogChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func logName(identity string) string {
	return unsafeLogChars.ReplaceAllString(identity, "_")
}
