package formula

import (
	"bytes"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/internal/hashutil"
	"github.com/arthur-debert/keg/pkg/logging"
	"github.com/arthur-debert/keg/pkg/predicate"
	"github.com/arthur-debert/keg/pkg/types"
	"gopkg.in/yaml.v3"
)

// Supported formula file extensions, in lookup order.
var Extensions = []string{".toml", ".yaml", ".yml"}

// DefaultPatchStrip is the strip level used when a patch does not set one.
const DefaultPatchStrip = 1

// LoadFile reads and validates the formula at path.
func LoadFile(fsys types.FS, path string) (*types.Formula, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "cannot read formula %s", path).
			WithDetail(errors.DetailPath, path)
	}
	f, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, errors.Wrapf(err, errors.GetErrorCode(err), "invalid formula %s", path).
			WithDetail(errors.DetailPath, path)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if f.Name != base {
		return nil, errors.Newf(errors.ErrFormulaInvalid, "formula %s declares name %q, expected %q", path, f.Name, base).
			WithDetail(errors.DetailPath, path)
	}
	f.Path = path
	return f, nil
}

// Parse decodes a formula document. ext selects the decoder (".toml",
// ".yaml" or ".yml").
func Parse(data []byte, ext string) (*types.Formula, error) {
	logger := logging.GetLogger("formula")

	var raw fileFormula
	switch ext {
	case ".toml":
		md, err := toml.Decode(string(data), &raw)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrFormulaInvalid, "malformed TOML")
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, errors.Newf(errors.ErrFormulaInvalid, "unknown keys: %s", strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return nil, errors.Wrap(err, errors.ErrFormulaInvalid, "malformed YAML")
		}
	default:
		return nil, errors.Newf(errors.ErrFormulaInvalid, "unsupported formula format %q", ext)
	}

	if err := defaultSchema.validate(&raw); err != nil {
		return nil, err
	}

	f, err := convert(&raw)
	if err != nil {
		return nil, err
	}
	logger.Trace().Str("formula", f.Name).Str("version", f.Version).Msg("Formula parsed")
	return f, nil
}

// convert turns the validated document into the domain type and runs the
// checks CUE cannot express.
func convert(raw *fileFormula) (*types.Formula, error) {
	c := &converter{name: raw.Name}

	f := &types.Formula{
		Name:        raw.Name,
		Version:     raw.Version,
		Revision:    raw.Revision,
		Homepage:    raw.Homepage,
		Description: raw.Description,
		Caveats:     raw.Caveats,
		Install:     types.InstallProcedure{Env: raw.Env},
		Layout:      types.RuntimeLayout{Directories: raw.Layout.Directories},
	}

	seen := map[string]bool{}
	for _, o := range raw.Options {
		if seen[o.Name] {
			return nil, c.fail("option %q declared twice", o.Name)
		}
		seen[o.Name] = true
		f.Options = append(f.Options, types.Option{Name: o.Name, Description: o.Description, Default: o.Default})
		c.options = append(c.options, o.Name)
	}
	sort.Strings(c.options)

	if raw.Source.Stable == nil && raw.Source.Head == nil {
		return nil, c.fail("no stable or head source declared")
	}
	var err error
	if f.Stable, err = c.source(raw.Source.Stable, types.VariantStable); err != nil {
		return nil, err
	}
	if f.Head, err = c.source(raw.Source.Head, types.VariantHead); err != nil {
		return nil, err
	}

	if f.Dependencies, err = c.dependencies(raw.Dependencies, "dependency"); err != nil {
		return nil, err
	}

	for i, a := range raw.Actions {
		action, err := c.action(a, i)
		if err != nil {
			return nil, err
		}
		f.Install.Actions = append(f.Install.Actions, action)
	}

	for _, dir := range raw.Layout.Directories {
		if err := c.confined(dir, "layout directory"); err != nil {
			return nil, err
		}
	}

	if f.Stage, err = c.stage(raw.Stage); err != nil {
		return nil, err
	}

	if raw.Service != nil {
		s := raw.Service
		label := s.Label
		if label == "" {
			label = "keg." + raw.Name
		}
		f.Service = &types.ServiceSpec{
			Label:         label,
			Program:       s.Program,
			WorkingDir:    s.WorkingDir,
			RunAtLoad:     s.RunAtLoad,
			KeepAlive:     s.KeepAlive,
			Environment:   s.Environment,
			LogPath:       s.LogPath,
			ManualCommand: s.ManualCommand,
		}
	}
	return f, nil
}

type converter struct {
	name    string
	options []string
}

func (c *converter) fail(format string, args ...interface{}) *errors.KegError {
	return errors.Newf(errors.ErrFormulaInvalid, "%s: %s", c.name, fmt.Sprintf(format, args...)).
		WithDetail(errors.DetailPackage, c.name)
}

func (c *converter) when(expr, where string) error {
	if err := predicate.Check(expr, c.options); err != nil {
		return errors.Wrapf(err, errors.ErrPredicate, "%s: %s", c.name, where)
	}
	return nil
}

func (c *converter) digest(d, where string) error {
	if _, err := hashutil.ParseDigest(d); err != nil {
		return c.fail("%s: %v", where, err)
	}
	return nil
}

// confined rejects absolute paths and paths escaping their base.
func (c *converter) confined(p, where string) error {
	clean := path.Clean(filepath.ToSlash(p))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return c.fail("%s %q must stay inside its directory", where, p)
	}
	return nil
}

func (c *converter) source(raw *fileSource, variant types.Variant) (*types.SourceSpec, error) {
	if raw == nil {
		return nil, nil
	}
	where := fmt.Sprintf("%s source", variant)
	s := &types.SourceSpec{
		URL:     raw.URL,
		Digest:  raw.Digest,
		VCS:     raw.VCS,
		Ref:     raw.Ref,
		Version: raw.Version,
	}
	switch {
	case s.VCS != "" && s.Digest != "":
		return nil, c.fail("%s: version-control sources carry no digest", where)
	case s.VCS == "" && s.Digest == "":
		return nil, c.fail("%s: archive sources need a digest", where)
	case s.Digest != "":
		if err := c.digest(s.Digest, where); err != nil {
			return nil, err
		}
	}

	for i, p := range raw.Patches {
		pw := fmt.Sprintf("%s patch %d", where, i+1)
		if err := c.digest(p.Digest, pw); err != nil {
			return nil, err
		}
		if err := c.when(p.When, pw); err != nil {
			return nil, err
		}
		strip := DefaultPatchStrip
		if p.Strip != nil {
			strip = *p.Strip
		}
		s.Patches = append(s.Patches, types.PatchSpec{URL: p.URL, Digest: p.Digest, Strip: strip, When: p.When})
	}

	deps, err := c.dependencies(raw.Dependencies, where+" dependency")
	if err != nil {
		return nil, err
	}
	s.Dependencies = deps
	return s, nil
}

func (c *converter) dependencies(raw []fileDependency, where string) ([]types.DependencySpec, error) {
	var out []types.DependencySpec
	for _, d := range raw {
		if d.Name == c.name {
			return nil, c.fail("%s: formula depends on itself", where)
		}
		if err := c.when(d.When, fmt.Sprintf("%s %s", where, d.Name)); err != nil {
			return nil, err
		}
		kind := types.DependencyRuntime
		if d.Kind != "" {
			kind = types.DependencyKind(d.Kind)
		}
		out = append(out, types.DependencySpec{Name: d.Name, Kind: kind, When: d.When})
	}
	return out, nil
}

func (c *converter) action(raw fileAction, i int) (types.Action, error) {
	a := types.Action{
		Name:    raw.Name,
		Command: raw.Command,
		Args:    raw.Args,
		Dir:     raw.Dir,
		Env:     raw.Env,
		When:    raw.When,
	}
	where := fmt.Sprintf("action %d (%s)", i+1, a.Identity())
	if err := c.when(raw.When, where); err != nil {
		return a, err
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil || d < 0 {
			return a, c.fail("%s: invalid timeout %q", where, raw.Timeout)
		}
		a.Timeout = d
	}
	if a.Dir != "" && !strings.Contains(a.Dir, "$") {
		if err := c.confined(a.Dir, where+" dir"); err != nil {
			return a, err
		}
	}
	return a, nil
}

func (c *converter) template(text, where string) error {
	if _, err := template.New(where).Option("missingkey=error").Parse(text); err != nil {
		return c.fail("%s: bad template: %v", where, err)
	}
	return nil
}

func (c *converter) stage(raw fileStage) (types.StageRules, error) {
	var rules types.StageRules

	for i, e := range raw.Edits {
		where := fmt.Sprintf("edit %d", i+1)
		if _, err := regexp.Compile(e.Pattern); err != nil {
			return rules, c.fail("%s: bad pattern: %v", where, err)
		}
		if err := c.confined(e.File, where+" file"); err != nil {
			return rules, err
		}
		if err := c.when(e.When, where); err != nil {
			return rules, err
		}
		rules.Edits = append(rules.Edits, types.EditRule{File: e.File, Pattern: e.Pattern, Replace: e.Replace, When: e.When})
	}

	for i, in := range raw.Installs {
		where := fmt.Sprintf("install %d", i+1)
		for _, from := range in.From {
			if err := c.confined(from, where+" source"); err != nil {
				return rules, err
			}
		}
		if in.To != "" {
			if err := c.confined(in.To, where+" destination"); err != nil {
				return rules, err
			}
		}
		if err := c.when(in.When, where); err != nil {
			return rules, err
		}
		if in.As != "" && (len(in.From) != 1 || strings.ContainsAny(in.From[0], "*?[")) {
			return rules, c.fail("%s: \"as\" needs exactly one literal source", where)
		}
		rules.Installs = append(rules.Installs, types.InstallRule{
			From: in.From, To: in.To, As: in.As, Exclude: in.Exclude, When: in.When,
		})
	}

	for i, s := range raw.Shims {
		where := fmt.Sprintf("shim %d", i+1)
		dir := s.Dir
		if dir == "" {
			dir = "bin"
		}
		if err := c.confined(s.Glob, where+" glob"); err != nil {
			return rules, err
		}
		if err := c.confined(dir, where+" dir"); err != nil {
			return rules, err
		}
		if err := c.template(s.Template, where); err != nil {
			return rules, err
		}
		if err := c.when(s.When, where); err != nil {
			return rules, err
		}
		rules.Shims = append(rules.Shims, types.ShimRule{
			Glob: s.Glob, Exclude: s.Exclude, Dir: dir, StripSuffix: s.StripSuffix, Template: s.Template, When: s.When,
		})
	}

	for i, cfg := range raw.Configs {
		where := fmt.Sprintf("config %d", i+1)
		if err := c.confined(cfg.Path, where+" path"); err != nil {
			return rules, err
		}
		if err := c.template(cfg.Template, where); err != nil {
			return rules, err
		}
		if err := c.when(cfg.When, where); err != nil {
			return rules, err
		}
		rules.Configs = append(rules.Configs, types.ConfigRule{Path: cfg.Path, Template: cfg.Template, When: cfg.When})
	}
	return rules, nil
}
