// Package patch applies formula patches to a fetched source tree.
//
// Each patch is retrieved through the fetch backend and digest-checked,
// then dry-run and applied with the external patch tool. A patch that does
// not apply leaves the tree untouched by that patch, but earlier patches of
// the same package stay applied; callers discard the tree on failure.
package patch

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/fetch"
	"github.com/arthur-debert/keg/pkg/logging"
	"github.com/arthur-debert/keg/pkg/runner"
	"github.com/arthur-debert/keg/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultTool is the patch program looked up on PATH.
const DefaultTool = "patch"

// Applier applies patches in order.
type Applier struct {
	backend fetch.Backend
	runner  runner.Runner
	Tool    string
	logger  zerolog.Logger
}

// New creates an Applier.
func New(backend fetch.Backend, r runner.Runner) *Applier {
	return &Applier{
		backend: backend,
		runner:  r,
		Tool:    DefaultTool,
		logger:  logging.GetLogger("patch"),
	}
}

// Apply applies patches to tree in list order and stops at the first
// failure.
func (a *Applier) Apply(ctx context.Context, patches []types.PatchSpec, tree string) error {
	for i, p := range patches {
		if err := a.applyOne(ctx, p, tree); err != nil {
			a.logger.Error().Err(err).Str("patch", p.URL).Int("index", i).Msg("Patch failed")
			return err
		}
		a.logger.Info().Str("patch", p.URL).Int("strip", p.Strip).Msg("Applied patch")
	}
	return nil
}

func (a *Applier) applyOne(ctx context.Context, p types.PatchSpec, tree string) error {
	local, err := a.backend.Fetch(ctx, p.URL, p.Digest)
	if err != nil {
		if errors.HasErrorCode(err, errors.ErrIntegrity) {
			d := errors.CollectDetails(err)
			return errors.NewPatchIntegrityError(p.URL, fmt.Sprint(d[errors.DetailExpected]), fmt.Sprint(d[errors.DetailActual]))
		}
		return err
	}

	args := []string{fmt.Sprintf("-p%d", p.Strip), "--batch", "--forward", "--input", local}

	// the dry run keeps a half-applied patch out of the tree
	dry, err := a.run(ctx, p, tree, append([]string{"--dry-run"}, args...))
	if err != nil {
		return err
	}
	if dry.ExitCode != 0 {
		return errors.NewPatchApplyError(p.URL, dry.ExitCode, dry.Tail)
	}

	res, err := a.run(ctx, p, tree, args)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return errors.NewPatchApplyError(p.URL, res.ExitCode, res.Tail)
	}
	return nil
}

func (a *Applier) run(ctx context.Context, p types.PatchSpec, tree string, args []string) (runner.Result, error) {
	return a.runner.Run(ctx, runner.Command{
		Name: "patch " + patchName(p.URL),
		Path: a.Tool,
		Args: args,
		Dir:  tree,
	})
}

func patchName(locator string) string {
	if i := strings.IndexAny(locator, "?#"); i >= 0 {
		locator = locator[:i]
	}
	return path.Base(locator)
}
