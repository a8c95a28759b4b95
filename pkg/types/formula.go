package types

import (
	"fmt"
	"time"
)

// Variant selects which SourceSpec of a formula is built.
type Variant string

const (
	VariantStable Variant = "stable"
	VariantHead   Variant = "head"
)

// DependencyKind tells whether a dependency is needed only to build or
// also at runtime.
type DependencyKind string

const (
	DependencyBuild   DependencyKind = "build"
	DependencyRuntime DependencyKind = "runtime"
)

// VCS kinds understood by the fetcher.
const (
	VCSGit = "git"
	VCSSvn = "svn"
)

// DefaultHeadVersion is the keg version used for head builds that do not
// declare one.
const DefaultHeadVersion = "HEAD"

// Option is a user-selectable build switch declared by a formula.
type Option struct {
	Name        string
	Description string
	Default     bool
}

// PatchSpec is one patch applied to the fetched tree when its predicate
// holds.
type PatchSpec struct {
	URL    string
	Digest string
	Strip  int
	When   string
}

// DependencySpec declares a dependency edge, active when its predicate holds.
type DependencySpec struct {
	Name string
	Kind DependencyKind
	When string
}

// IsBuildOnly reports whether the dependency is needed only while building.
func (d DependencySpec) IsBuildOnly() bool {
	return d.Kind == DependencyBuild
}

// SourceSpec locates the sources of one variant. Archive sources carry a
// fixed digest; version-control sources carry none.
type SourceSpec struct {
	URL          string
	Digest       string
	VCS          string
	Ref          string
	Version      string
	Patches      []PatchSpec
	Dependencies []DependencySpec
}

// IsVCS reports whether the source is a version-control checkout.
func (s SourceSpec) IsVCS() bool {
	return s.VCS != ""
}

// Action is one external build tool invocation.
type Action struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
	When    string
	Timeout time.Duration
}

// Identity names the action in logs and errors.
func (a Action) Identity() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Command
}

// InstallProcedure is the ordered list of build actions plus the
// environment they all share.
type InstallProcedure struct {
	Env     map[string]string
	Actions []Action
}

// RuntimeLayout lists directories, relative to the shared root, that the
// package needs at runtime (config, logs, data).
type RuntimeLayout struct {
	Directories []string
}

// EditRule replaces every match of Pattern in File (relative to the source
// tree) with Replace before artifacts are copied.
type EditRule struct {
	File    string
	Pattern string
	Replace string
	When    string
}

// InstallRule copies tree paths matching From into the directory To inside
// the prefix. When As is set, From must match exactly one file, which is
// copied under that name.
type InstallRule struct {
	From    []string
	To      string
	As      string
	Exclude []string
	When    string
}

// ShimRule writes one wrapper script into Dir for every prefix path
// matching Glob.
type ShimRule struct {
	Glob        string
	Exclude     []string
	Dir         string
	StripSuffix string
	Template    string
	When        string
}

// ConfigRule renders a configuration file. Path is relative to the shared
// root and must live under etc/.
type ConfigRule struct {
	Path     string
	Template string
	When     string
}

// StageRules groups the declarative staging steps of a formula.
type StageRules struct {
	Edits    []EditRule
	Installs []InstallRule
	Shims    []ShimRule
	Configs  []ConfigRule
}

// ServiceSpec describes a background service descriptor.
type ServiceSpec struct {
	Label         string
	Program       []string
	WorkingDir    string
	RunAtLoad     bool
	KeepAlive     bool
	Environment   map[string]string
	LogPath       string
	ManualCommand string
}

// Formula is the declarative description of how to obtain, build and
// install one package. Formulae are loaded read-only at plan time.
type Formula struct {
	Name         string
	Version      string
	Revision     int
	Homepage     string
	Description  string
	Caveats      string
	Options      []Option
	Stable       *SourceSpec
	Head         *SourceSpec
	Dependencies []DependencySpec
	Install      InstallProcedure
	Layout       RuntimeLayout
	Stage        StageRules
	Service      *ServiceSpec

	// Path is the file the formula was loaded from.
	Path string
}

// Source returns the SourceSpec of the given variant.
func (f *Formula) Source(v Variant) (*SourceSpec, bool) {
	switch v {
	case VariantStable:
		return f.Stable, f.Stable != nil
	case VariantHead:
		return f.Head, f.Head != nil
	}
	return nil, false
}

// PkgVersion returns the keg directory name for a variant: the version plus
// the revision suffix for stable builds, the head version for head builds.
func (f *Formula) PkgVersion(v Variant) string {
	if v == VariantHead {
		if f.Head != nil && f.Head.Version != "" {
			return f.Head.Version
		}
		return DefaultHeadVersion
	}
	if f.Revision > 0 {
		return fmt.Sprintf("%s_%d", f.Version, f.Revision)
	}
	return f.Version
}

// Option looks up a declared option.
func (f *Formula) Option(name string) (Option, bool) {
	for _, o := range f.Options {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}
