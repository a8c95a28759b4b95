package types

import "sort"

// Platform is the fixed environment snapshot predicates are evaluated
// against.
type Platform struct {
	OS      string
	Arch    string
	Version string
	Bits    int
}

// BuildRequest carries what the user asked for on the command line. It only
// applies to the target; dependencies are planned with their defaults.
type BuildRequest struct {
	Head      bool
	With      []string
	Without   []string
	Force     bool
	Reinstall bool
}

// PlannedPackage is one formula with every predicate already evaluated: the
// patch, dependency, action and staging lists are the ones that will run.
type PlannedPackage struct {
	Formula      *Formula
	Variant      Variant
	Version      string
	Source       SourceSpec
	Options      map[string]bool
	Patches      []PatchSpec
	Dependencies []DependencySpec
	Env          map[string]string
	Actions      []Action
	Stage        StageRules
	Target       bool
}

// Name returns the formula name.
func (p *PlannedPackage) Name() string {
	return p.Formula.Name
}

// DependencyNames returns the names of every active dependency.
func (p *PlannedPackage) DependencyNames() []string {
	names := make([]string, 0, len(p.Dependencies))
	for _, d := range p.Dependencies {
		names = append(names, d.Name)
	}
	return names
}

// RuntimeDependencies returns the names of active runtime dependencies.
func (p *PlannedPackage) RuntimeDependencies() []string {
	var names []string
	for _, d := range p.Dependencies {
		if !d.IsBuildOnly() {
			names = append(names, d.Name)
		}
	}
	return names
}

// BuildDependencies returns the names of active build-only dependencies.
func (p *PlannedPackage) BuildDependencies() []string {
	var names []string
	for _, d := range p.Dependencies {
		if d.IsBuildOnly() {
			names = append(names, d.Name)
		}
	}
	return names
}

// EnabledOptions returns the names of the options turned on, sorted.
func (p *PlannedPackage) EnabledOptions() []string {
	var names []string
	for name, on := range p.Options {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ResolvedPlan is a topologically ordered sequence of packages: every
// package appears after all of its dependencies.
type ResolvedPlan struct {
	Target   string
	Platform Platform
	Packages []*PlannedPackage
}

// Names returns the package names in plan order.
func (p *ResolvedPlan) Names() []string {
	names := make([]string, len(p.Packages))
	for i, pkg := range p.Packages {
		names[i] = pkg.Name()
	}
	return names
}

// Lookup finds a planned package by name.
func (p *ResolvedPlan) Lookup(name string) (*PlannedPackage, bool) {
	for _, pkg := range p.Packages {
		if pkg.Name() == name {
			return pkg, true
		}
	}
	return nil, false
}

// Dependents returns the names of every package in the plan that depends,
// directly or transitively, on name.
func (p *ResolvedPlan) Dependents(name string) []string {
	affected := map[string]bool{name: true}
	var out []string
	for _, pkg := range p.Packages {
		if pkg.Name() == name {
			continue
		}
		for _, dep := range pkg.DependencyNames() {
			if affected[dep] {
				affected[pkg.Name()] = true
				out = append(out, pkg.Name())
				break
			}
		}
	}
	return out
}
