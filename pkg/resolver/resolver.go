// Package resolver turns a target formula name into a ResolvedPlan: the
// dependency closure of the target in an order where every package comes
// after all of its dependencies.
//
// Every predicate-tagged entry (dependencies, patches, actions, staging
// rules) is evaluated here, once, against a fixed environment snapshot.
// Later stages only ever see the entries that are active. Resolution is a
// pure function of the registry, the platform and the request.
package resolver

import (
	"sort"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/formula"
	"github.com/arthur-debert/keg/pkg/logging"
	"github.com/arthur-debert/keg/pkg/predicate"
	"github.com/arthur-debert/keg/pkg/types"
)

// Resolver plans builds against a registry.
type Resolver struct {
	registry formula.Registry
	platform types.Platform
}

// New creates a Resolver for the given platform snapshot.
func New(registry formula.Registry, platform types.Platform) *Resolver {
	return &Resolver{registry: registry, platform: platform}
}

type visitState int

const (
	unvisited visitState = iota
	visiting
	visited
)

type walk struct {
	r      *Resolver
	target string
	req    types.BuildRequest
	state  map[string]visitState
	stack  []string
	order  []*types.PlannedPackage
}

// Resolve computes the plan for target. The request's head flag and
// options apply to the target only; dependencies are built stable with
// their default options.
func (r *Resolver) Resolve(target string, req types.BuildRequest) (*types.ResolvedPlan, error) {
	logger := logging.GetLogger("resolver")

	w := &walk{
		r:      r,
		target: target,
		req:    req,
		state:  map[string]visitState{},
	}
	if err := w.visit(target, ""); err != nil {
		return nil, err
	}

	plan := &types.ResolvedPlan{Target: target, Platform: r.platform, Packages: w.order}
	logger.Debug().Str("target", target).Strs("order", plan.Names()).Msg("Plan resolved")
	return plan, nil
}

// visit is a depth-first post-order traversal. A node met again while it
// is still on the stack closes a cycle.
func (w *walk) visit(name, from string) error {
	switch w.state[name] {
	case visited:
		return nil
	case visiting:
		return errors.NewCycleError(w.cyclePath(name))
	}

	f, err := w.r.registry.Get(name)
	if err != nil {
		if from != "" && errors.IsErrorCode(err, errors.ErrNotFound) {
			return errors.NewUnresolvedDependencyError(from, name)
		}
		return err
	}

	pkg, err := w.r.plan(f, name == w.target, w.req)
	if err != nil {
		return err
	}

	w.state[name] = visiting
	w.stack = append(w.stack, name)
	for _, dep := range pkg.Dependencies {
		if err := w.visit(dep.Name, name); err != nil {
			return err
		}
	}
	w.stack = w.stack[:len(w.stack)-1]
	w.state[name] = visited

	w.order = append(w.order, pkg)
	return nil
}

func (w *walk) cyclePath(name string) []string {
	for i, n := range w.stack {
		if n == name {
			path := append([]string{}, w.stack[i:]...)
			return append(path, name)
		}
	}
	return []string{name, name}
}

// Plan evaluates a single formula without following its dependencies.
func (r *Resolver) Plan(f *types.Formula, req types.BuildRequest) (*types.PlannedPackage, error) {
	return r.plan(f, true, req)
}

func (r *Resolver) plan(f *types.Formula, isTarget bool, req types.BuildRequest) (*types.PlannedPackage, error) {
	variant := types.VariantStable
	switch {
	case isTarget && req.Head:
		if f.Head == nil {
			return nil, errors.Newf(errors.ErrInvalidInput, "%s has no head source", f.Name).
				WithDetail(errors.DetailPackage, f.Name)
		}
		variant = types.VariantHead
	case f.Stable == nil:
		if isTarget {
			return nil, errors.Newf(errors.ErrInvalidInput, "%s is head-only; pass --head", f.Name).
				WithDetail(errors.DetailPackage, f.Name)
		}
		variant = types.VariantHead
	}
	source, _ := f.Source(variant)

	options := make(map[string]bool, len(f.Options))
	for _, o := range f.Options {
		options[o.Name] = o.Default
	}
	if isTarget {
		if err := applyOptions(f, options, req.With, true); err != nil {
			return nil, err
		}
		if err := applyOptions(f, options, req.Without, false); err != nil {
			return nil, err
		}
	}

	env := predicate.Env{Platform: r.platform, Head: variant == types.VariantHead, Options: options}
	ev := &evaluator{env: env, pkg: f.Name}

	pkg := &types.PlannedPackage{
		Formula: f,
		Variant: variant,
		Version: f.PkgVersion(variant),
		Source:  *source,
		Options: options,
		Env:     f.Install.Env,
		Target:  isTarget,
	}

	deps := append(append([]types.DependencySpec{}, source.Dependencies...), f.Dependencies...)
	active, err := filter(ev, deps, func(d types.DependencySpec) string { return d.When })
	if err != nil {
		return nil, err
	}
	pkg.Dependencies = mergeDependencies(active)

	if pkg.Patches, err = filter(ev, source.Patches, func(p types.PatchSpec) string { return p.When }); err != nil {
		return nil, err
	}
	if pkg.Actions, err = filter(ev, f.Install.Actions, func(a types.Action) string { return a.When }); err != nil {
		return nil, err
	}
	if pkg.Stage.Edits, err = filter(ev, f.Stage.Edits, func(e types.EditRule) string { return e.When }); err != nil {
		return nil, err
	}
	if pkg.Stage.Installs, err = filter(ev, f.Stage.Installs, func(i types.InstallRule) string { return i.When }); err != nil {
		return nil, err
	}
	if pkg.Stage.Shims, err = filter(ev, f.Stage.Shims, func(s types.ShimRule) string { return s.When }); err != nil {
		return nil, err
	}
	if pkg.Stage.Configs, err = filter(ev, f.Stage.Configs, func(c types.ConfigRule) string { return c.When }); err != nil {
		return nil, err
	}
	return pkg, nil
}

func applyOptions(f *types.Formula, options map[string]bool, names []string, value bool) error {
	for _, name := range names {
		if _, ok := f.Option(name); !ok {
			return errors.Newf(errors.ErrInvalidInput, "%s has no option %q", f.Name, name).
				WithDetail(errors.DetailPackage, f.Name).
				WithDetail("option", name).
				WithDetail("available", declaredOptions(f))
		}
		options[name] = value
	}
	return nil
}

func declaredOptions(f *types.Formula) []string {
	names := make([]string, len(f.Options))
	for i, o := range f.Options {
		names[i] = o.Name
	}
	sort.Strings(names)
	return names
}

type evaluator struct {
	env predicate.Env
	pkg string
}

func filter[T any](ev *evaluator, items []T, when func(T) string) ([]T, error) {
	var out []T
	for _, item := range items {
		ok, err := predicate.Eval(when(item), ev.env)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrPredicate, "%s", ev.pkg).
				WithDetail(errors.DetailPackage, ev.pkg)
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// mergeDependencies collapses repeated names, keeping the first position.
// A runtime declaration wins over a build-only one.
func mergeDependencies(deps []types.DependencySpec) []types.DependencySpec {
	index := map[string]int{}
	var out []types.DependencySpec
	for _, d := range deps {
		if i, ok := index[d.Name]; ok {
			if !d.IsBuildOnly() {
				out[i].Kind = types.DependencyRuntime
			}
			continue
		}
		index[d.Name] = len(out)
		out = append(out, d)
	}
	return out
}
