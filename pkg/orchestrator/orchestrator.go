// Package orchestrator drives a resolved plan to completion.
//
// Every package goes through the same pipeline: fetch, patch, acquire a
// private prefix, build, stage and publish. Packages with no dependency
// relation run in parallel up to a limit; a package starts only once all
// of its dependencies have been published. The first failure stops new
// packages from starting. Packages already running finish, completed
// installs stay, and every package waiting on the failed one is reported
// as skipped.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arthur-debert/keg/pkg/build"
	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/formula"
	"github.com/arthur-debert/keg/pkg/history"
	"github.com/arthur-debert/keg/pkg/link"
	"github.com/arthur-debert/keg/pkg/logging"
	"github.com/arthur-debert/keg/pkg/paths"
	"github.com/arthur-debert/keg/pkg/resolver"
	"github.com/arthur-debert/keg/pkg/stage"
	"github.com/arthur-debert/keg/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SourceFetcher retrieves the sources of a package into a working tree.
type SourceFetcher interface {
	FetchSource(ctx context.Context, src types.SourceSpec, workDir string) (string, error)
}

// PatchApplier applies patches to a working tree.
type PatchApplier interface {
	Apply(ctx context.Context, patches []types.PatchSpec, tree string) error
}

// Builder runs the build actions of a package.
type Builder interface {
	Run(ctx context.Context, bctx *types.BuildContext) error
}

// Stager stages a built tree into a prefix and seals it.
type Stager interface {
	Stage(ctx context.Context, bctx *types.BuildContext, prefix *stage.Prefix) (*types.StagedInstallation, error)
}

// Publisher exposes installations in the shared root.
type Publisher interface {
	Publish(ctx context.Context, staged *types.StagedInstallation, force bool) (*link.Report, error)
	Unpublish(ctx context.Context, name string) ([]string, error)
	PublishedVersion(name string) (string, bool, error)
}

// Recorder keeps the run history. It is optional.
type Recorder interface {
	Begin(ctx context.Context, command, target string) (string, error)
	Finish(ctx context.Context, id string, status history.Status, runErr error, results []history.PackageResult) error
}

// Options tunes a run.
type Options struct {
	// Concurrency bounds how many packages build at once.
	Concurrency int
	// Jobs is exported to build actions as ${jobs}.
	Jobs          int
	KeepBuildDirs bool
}

// Components are the collaborators of an Orchestrator.
type Components struct {
	Registry  formula.Registry
	Platform  types.Platform
	Paths     paths.Paths
	FS        types.FS
	Fetcher   SourceFetcher
	Patcher   PatchApplier
	Builder   Builder
	Stager    Stager
	Publisher Publisher
	History   Recorder
}

// Orchestrator installs and uninstalls packages.
type Orchestrator struct {
	Components
	opts   Options
	logger zerolog.Logger
}

// New creates an Orchestrator.
func New(c Components, opts Options) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	return &Orchestrator{Components: c, opts: opts, logger: logging.GetLogger("orchestrator")}
}

// PackageReport is the outcome of one package of a run.
type PackageReport struct {
	Name     string
	Version  string
	Status   history.Status
	Stage    errors.Stage
	Err      error
	Duration time.Duration
	Staged   *types.StagedInstallation
	Links    *link.Report
}

// Report is the outcome of an install run.
type Report struct {
	RunID    string
	Plan     *types.ResolvedPlan
	Packages []*PackageReport
}

// Lookup returns the report of one package.
func (r *Report) Lookup(name string) (*PackageReport, bool) {
	for _, p := range r.Packages {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Plan resolves target without side effects.
func (o *Orchestrator) Plan(target string, req types.BuildRequest) (*types.ResolvedPlan, error) {
	return resolver.New(o.Registry, o.Platform).Resolve(target, req)
}

// Install resolves target and installs it together with its dependencies.
// A planning error is returned before anything is touched. Otherwise the
// report is always returned, alongside the first package error if any.
func (o *Orchestrator) Install(ctx context.Context, target string, req types.BuildRequest) (*Report, error) {
	plan, err := o.Plan(target, req)
	if err != nil {
		return nil, err
	}
	report := &Report{Plan: plan}
	report.RunID = o.begin(ctx, "install", target)

	runErr := o.run(ctx, plan, req, report)
	o.finish(ctx, report.RunID, runErr, report.Packages)
	return report, runErr
}

func (o *Orchestrator) run(ctx context.Context, plan *types.ResolvedPlan, req types.BuildRequest, report *Report) error {
	done := make(map[string]chan struct{}, len(plan.Packages))
	reports := make(map[string]*PackageReport, len(plan.Packages))
	for _, pkg := range plan.Packages {
		done[pkg.Name()] = make(chan struct{})
		r := &PackageReport{Name: pkg.Name(), Version: pkg.Version}
		reports[pkg.Name()] = r
		report.Packages = append(report.Packages, r)
	}

	var (
		mu     sync.Mutex
		failed atomic.Bool
	)
	status := func(name string) history.Status {
		mu.Lock()
		defer mu.Unlock()
		return reports[name].Status
	}
	set := func(r *PackageReport, s history.Status, st errors.Stage, err error) {
		mu.Lock()
		defer mu.Unlock()
		r.Status, r.Stage, r.Err = s, st, err
	}

	g := new(errgroup.Group)
	g.SetLimit(o.opts.Concurrency)
	for _, pkg := range plan.Packages {
		pkg := pkg
		r := reports[pkg.Name()]
		g.Go(func() error {
			defer close(done[pkg.Name()])

			for _, dep := range pkg.DependencyNames() {
				<-done[dep]
				if s := status(dep); s != history.StatusSucceeded && s != history.StatusInstalled {
					set(r, history.StatusSkipped, "", fmt.Errorf("dependency %s did not install", dep))
					return nil
				}
			}
			if failed.Load() {
				set(r, history.StatusSkipped, "", fmt.Errorf("run stopped after an earlier failure"))
				return nil
			}
			if err := ctx.Err(); err != nil {
				set(r, history.StatusCanceled, "", errors.Wrap(err, errors.ErrCanceled, "install canceled"))
				return nil
			}

			start := time.Now()
			err := o.installOne(ctx, pkg, req, r, &mu)
			mu.Lock()
			r.Duration = time.Since(start)
			mu.Unlock()
			if err != nil {
				failed.Store(true)
				s := history.StatusFailed
				if errors.HasErrorCode(err, errors.ErrCanceled) {
					s = history.StatusCanceled
				}
				st, _ := errors.CollectDetails(err)[errors.DetailStage].(string)
				set(r, s, errors.Stage(st), err)
				o.logger.Error().Err(err).Str("package", pkg.Name()).Msg("Package failed")
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCanceled, "install canceled")
	}
	return nil
}

// installOne runs the pipeline of one package. Results other than the
// returned error are written into r under mu.
func (o *Orchestrator) installOne(ctx context.Context, pkg *types.PlannedPackage, req types.BuildRequest, r *PackageReport, mu *sync.Mutex) error {
	name := pkg.Name()
	logger := o.logger.With().Str("package", name).Str("version", pkg.Version).Logger()
	kegPath := o.Paths.KegPath(name, pkg.Version)

	if !(pkg.Target && req.Reinstall) {
		installed, err := o.isInstalled(name, pkg.Version, kegPath)
		if err != nil {
			return errors.InStage(err, name, errors.StagePlan)
		}
		if installed {
			logger.Info().Msg("Already installed")
			mu.Lock()
			r.Status = history.StatusInstalled
			mu.Unlock()
			return nil
		}
	}

	workDir := filepath.Join(o.Paths.BuildDir(), fmt.Sprintf("%s-%s-%s", name, pkg.Version, uuid.NewString()[:8]))
	if err := o.FS.MkdirAll(workDir, 0755); err != nil {
		return errors.InStage(errors.Wrapf(err, errors.ErrDirCreate, "failed to create work dir"), name, errors.StageFetch)
	}
	succeeded := false
	defer func() {
		if succeeded && o.opts.KeepBuildDirs {
			return
		}
		_ = o.FS.RemoveAll(workDir)
	}()

	logger.Info().Str("source", pkg.Source.URL).Msg("Fetching")
	tree, err := o.Fetcher.FetchSource(ctx, pkg.Source, workDir)
	if err != nil {
		return errors.InStage(err, name, errors.StageFetch)
	}

	if len(pkg.Patches) > 0 {
		logger.Info().Int("patches", len(pkg.Patches)).Msg("Patching")
		if err := o.Patcher.Apply(ctx, pkg.Patches, tree); err != nil {
			return errors.InStage(err, name, errors.StagePatch)
		}
	}

	prefix, err := stage.Acquire(o.FS, kegPath)
	if err != nil {
		return errors.InStage(err, name, errors.StageStage)
	}
	defer prefix.Release()

	bctx := build.NewContext(pkg, o.Platform, o.Paths, tree, kegPath, o.opts.Jobs)
	logger.Info().Int("actions", len(pkg.Actions)).Msg("Building")
	if err := o.Builder.Run(ctx, bctx); err != nil {
		return errors.InStage(err, name, errors.StageBuild)
	}

	staged, err := o.Stager.Stage(ctx, bctx, prefix)
	if err != nil {
		return errors.InStage(err, name, errors.StageStage)
	}

	links, err := o.Publisher.Publish(ctx, staged, req.Force && pkg.Target)
	if err != nil {
		return errors.InStage(err, name, errors.StageLink)
	}
	prefix.Commit()
	succeeded = true

	mu.Lock()
	r.Status = history.StatusSucceeded
	r.Staged = staged
	r.Links = links
	mu.Unlock()
	logger.Info().Msg("Installed")
	return nil
}

// isInstalled reports whether version of name is sealed in the cellar and
// currently published.
func (o *Orchestrator) isInstalled(name, version, kegPath string) (bool, error) {
	if _, err := stage.ReadReceipt(o.FS, kegPath); err != nil {
		if errors.IsErrorCode(err, errors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	published, ok, err := o.Publisher.PublishedVersion(name)
	if err != nil {
		return false, err
	}
	return ok && published == version, nil
}

// UninstallReport is the outcome of an uninstall.
type UninstallReport struct {
	RunID    string
	Name     string
	Versions []string
	Removed  []string
}

// Uninstall unpublishes name and removes every keg of it. It is refused
// while another installed package declares a runtime dependency on name,
// unless ignoreDependents is set.
func (o *Orchestrator) Uninstall(ctx context.Context, name string, ignoreDependents bool) (*UninstallReport, error) {
	kegs, err := stage.KegsOf(o.FS, o.Paths, name)
	if err != nil {
		return nil, err
	}
	_, published, err := o.Publisher.PublishedVersion(name)
	if err != nil {
		return nil, err
	}
	if len(kegs) == 0 && !published {
		return nil, errors.Newf(errors.ErrNotFound, "%s is not installed", name).
			WithDetail(errors.DetailPackage, name)
	}

	if !ignoreDependents {
		dependents, err := o.Dependents(name)
		if err != nil {
			return nil, err
		}
		if len(dependents) > 0 {
			return nil, errors.Newf(errors.ErrDependentsInstalled,
				"refusing to uninstall %s because it is required by %v", name, dependents).
				WithDetail(errors.DetailPackage, name).
				WithDetail("dependents", dependents)
		}
	}

	report := &UninstallReport{Name: name}
	for _, k := range kegs {
		report.Versions = append(report.Versions, k.Version)
	}
	report.RunID = o.begin(ctx, "uninstall", name)

	removed, err := o.Publisher.Unpublish(ctx, name)
	report.Removed = removed
	if err == nil {
		if rmErr := o.FS.RemoveAll(o.Paths.RackPath(name)); rmErr != nil && !os.IsNotExist(rmErr) {
			err = errors.Wrapf(rmErr, errors.ErrFileWrite, "failed to remove kegs of %s", name)
		}
	}

	result := &PackageReport{Name: name, Status: history.StatusSucceeded, Err: err}
	if len(report.Versions) > 0 {
		result.Version = report.Versions[len(report.Versions)-1]
	}
	if err != nil {
		result.Status = history.StatusFailed
		result.Stage = errors.StageLink
	}
	o.finish(ctx, report.RunID, err, []*PackageReport{result})
	if err != nil {
		return report, err
	}
	o.logger.Info().Str("package", name).Strs("versions", report.Versions).Msg("Uninstalled")
	return report, nil
}

// Dependents lists the installed packages that declare a runtime
// dependency on name.
func (o *Orchestrator) Dependents(name string) ([]string, error) {
	receipts, err := stage.InstalledKegs(o.FS, o.Paths)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, r := range receipts {
		if r.Name == name || seen[r.Name] {
			continue
		}
		for _, dep := range r.RuntimeDependencies {
			if dep == name {
				seen[r.Name] = true
				out = append(out, r.Name)
				break
			}
		}
	}
	return out, nil
}

func (o *Orchestrator) begin(ctx context.Context, command, target string) string {
	if o.History == nil {
		return ""
	}
	id, err := o.History.Begin(context.WithoutCancel(ctx), command, target)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Failed to record run start")
		return ""
	}
	return id
}

func (o *Orchestrator) finish(ctx context.Context, id string, runErr error, packages []*PackageReport) {
	if o.History == nil || id == "" {
		return
	}
	status := history.StatusSucceeded
	switch {
	case errors.HasErrorCode(runErr, errors.ErrCanceled):
		status = history.StatusCanceled
	case runErr != nil:
		status = history.StatusFailed
	}
	results := make([]history.PackageResult, 0, len(packages))
	for _, p := range packages {
		res := history.PackageResult{
			Package:  p.Name,
			Version:  p.Version,
			Status:   p.Status,
			Stage:    string(p.Stage),
			Duration: p.Duration,
		}
		if res.Status == "" {
			res.Status = history.StatusSkipped
		}
		if p.Err != nil {
			res.Error = p.Err.Error()
		}
		results = append(results, res)
	}
	if err := o.History.Finish(context.WithoutCancel(ctx), id, status, runErr, results); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to record run result")
	}
}
