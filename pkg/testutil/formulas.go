package testutil

import (
	"github.com/arthur-debert/keg/pkg/types"
)

// FormulaBuilder assembles a types.Formula for tests.
type FormulaBuilder struct {
	f *types.Formula
}

// NewFormula starts a formula with a stable source at url.
func NewFormula(name, version string) *FormulaBuilder {
	return &FormulaBuilder{f: &types.Formula{
		Name:    name,
		Version: version,
		Stable:  &types.SourceSpec{URL: "https://example.org/" + name + "-" + version + ".tar.gz"},
	}}
}

// Source replaces the stable source.
func (b *FormulaBuilder) Source(url, digest string) *FormulaBuilder {
	b.f.Stable.URL = url
	b.f.Stable.Digest = digest
	return b
}

// Head adds a head source.
func (b *FormulaBuilder) Head(url, vcs string) *FormulaBuilder {
	b.f.Head = &types.SourceSpec{URL: url, VCS: vcs}
	return b
}

// Depends adds runtime dependencies.
func (b *FormulaBuilder) Depends(names ...string) *FormulaBuilder {
	for _, n := range names {
		b.f.Dependencies = append(b.f.Dependencies, types.DependencySpec{Name: n, Kind: types.DependencyRuntime})
	}
	return b
}

// BuildDepends adds build-only dependencies.
func (b *FormulaBuilder) BuildDepends(names ...string) *FormulaBuilder {
	for _, n := range names {
		b.f.Dependencies = append(b.f.Dependencies, types.DependencySpec{Name: n, Kind: types.DependencyBuild})
	}
	return b
}

// DependsWhen adds a runtime dependency guarded by a predicate.
func (b *FormulaBuilder) DependsWhen(name, when string) *FormulaBuilder {
	b.f.Dependencies = append(b.f.Dependencies, types.DependencySpec{Name: name, Kind: types.DependencyRuntime, When: when})
	return b
}

// Option declares an option.
func (b *FormulaBuilder) Option(name string, def bool) *FormulaBuilder {
	b.f.Options = append(b.f.Options, types.Option{Name: name, Default: def})
	return b
}

// Patch adds a stable patch.
func (b *FormulaBuilder) Patch(url, digest string, strip int) *FormulaBuilder {
	b.f.Stable.Patches = append(b.f.Stable.Patches, types.PatchSpec{URL: url, Digest: digest, Strip: strip})
	return b
}

// Action appends a build action.
func (b *FormulaBuilder) Action(name, command string, args ...string) *FormulaBuilder {
	b.f.Install.Actions = append(b.f.Install.Actions, types.Action{Name: name, Command: command, Args: args})
	return b
}

// Shell appends a /bin/sh action running script.
func (b *FormulaBuilder) Shell(name, script string) *FormulaBuilder {
	return b.Action(name, "/bin/sh", "-c", script)
}

// Install appends an install rule copying from into the prefix dir to.
func (b *FormulaBuilder) Install(to string, from ...string) *FormulaBuilder {
	b.f.Stage.Installs = append(b.f.Stage.Installs, types.InstallRule{From: from, To: to})
	return b
}

// InstallAs appends an install rule copying a single file under a new name.
func (b *FormulaBuilder) InstallAs(to, from, as string) *FormulaBuilder {
	b.f.Stage.Installs = append(b.f.Stage.Installs, types.InstallRule{From: []string{from}, To: to, As: as})
	return b
}

// Edit appends an in-tree edit.
func (b *FormulaBuilder) Edit(file, pattern, replace string) *FormulaBuilder {
	b.f.Stage.Edits = append(b.f.Stage.Edits, types.EditRule{File: file, Pattern: pattern, Replace: replace})
	return b
}

// Shim appends a shim rule.
func (b *FormulaBuilder) Shim(rule types.ShimRule) *FormulaBuilder {
	b.f.Stage.Shims = append(b.f.Stage.Shims, rule)
	return b
}

// Config appends a configuration template.
func (b *FormulaBuilder) Config(path, tmpl string) *FormulaBuilder {
	b.f.Stage.Configs = append(b.f.Stage.Configs, types.ConfigRule{Path: path, Template: tmpl})
	return b
}

// Service sets the service descriptor.
func (b *FormulaBuilder) Service(svc types.ServiceSpec) *FormulaBuilder {
	b.f.Service = &svc
	return b
}

// Directories declares runtime layout directories.
func (b *FormulaBuilder) Directories(dirs ...string) *FormulaBuilder {
	b.f.Layout.Directories = append(b.f.Layout.Directories, dirs...)
	return b
}

// Build returns the formula.
func (b *FormulaBuilder) Build() *types.Formula {
	return b.f
}

// Planned plans f as a stable build with every list taken unconditionally,
// the way the resolver would with all predicates true.
func Planned(f *types.Formula) *types.PlannedPackage {
	var deps []types.DependencySpec
	deps = append(deps, f.Dependencies...)
	deps = append(deps, f.Stable.Dependencies...)
	options := map[string]bool{}
	for _, o := range f.Options {
		options[o.Name] = o.Default
	}
	return &types.PlannedPackage{
		Formula:      f,
		Variant:      types.VariantStable,
		Version:      f.PkgVersion(types.VariantStable),
		Source:       *f.Stable,
		Options:      options,
		Patches:      f.Stable.Patches,
		Dependencies: deps,
		Env:          f.Install.Env,
		Actions:      f.Install.Actions,
		Stage:        f.Stage,
	}
}
