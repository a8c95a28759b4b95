// Package stage turns a built source tree into a sealed installation inside
// a private keg prefix.
//
// Staging runs the plan-selected rules in a fixed order: in-tree edits,
// artifact installs, configuration templates, shims and the service
// descriptor. The result is then sealed: every file is recorded in a
// manifest with its digest and an install receipt is written next to it.
// Any failure discards the prefix and is reported as an INSTALL error.
package stage

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/internal/hashutil"
	"github.com/arthur-debert/keg/pkg/logging"
	"github.com/arthur-debert/keg/pkg/paths"
	"github.com/arthur-debert/keg/pkg/types"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

// ConfigDir is the prefix directory whose files are installed into the
// shared etc/ at publish time.
const ConfigDir = "etc"

// Stager applies staging rules.
type Stager struct {
	fsys   types.FS
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a Stager working on fsys.
func New(fsys types.FS) *Stager {
	return &Stager{fsys: fsys, logger: logging.GetLogger("stage"), now: time.Now}
}

// WithClock replaces the clock used for receipt timestamps.
func (s *Stager) WithClock(now func() time.Time) *Stager {
	s.now = now
	return s
}

// Stage runs the staging rules of bctx.Package into prefix and seals the
// result. On failure the prefix contents are discarded; the caller still
// owns the prefix and must Release it.
func (s *Stager) Stage(ctx context.Context, bctx *types.BuildContext, prefix *Prefix) (*types.StagedInstallation, error) {
	pkg := bctx.Package
	done := logging.LogOperationStart(s.logger, "stage "+pkg.Name())
	defer done()

	staged, err := s.stage(ctx, bctx, prefix.Path)
	if err != nil {
		prefix.Discard()
		if errors.IsErrorCode(err, errors.ErrInstall) {
			return nil, err
		}
		return nil, errors.NewInstallError(err, "staging %s failed", pkg.Name()).
			WithDetail(errors.DetailPackage, pkg.Name())
	}
	return staged, nil
}

func (s *Stager) stage(ctx context.Context, bctx *types.BuildContext, prefix string) (*types.StagedInstallation, error) {
	rules := bctx.Package.Stage
	steps := []struct {
		name string
		run  func() error
	}{
		{"edit", func() error { return s.applyEdits(bctx, rules.Edits) }},
		{"install", func() error { return s.applyInstalls(bctx, prefix, rules.Installs) }},
		{"config", func() error { return s.renderConfigs(bctx, prefix, rules.Configs) }},
		{"shim", func() error { return s.writeShims(bctx, prefix, rules.Shims) }},
		{"service", func() error { return s.writeService(bctx, prefix) }},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, errors.ErrCanceled, "staging of %s canceled", bctx.Package.Name())
		}
		if err := step.run(); err != nil {
			return nil, err
		}
		s.logger.Debug().Str("package", bctx.Package.Name()).Str("step", step.name).Msg("Staging step done")
	}
	return s.seal(bctx, prefix)
}

func (s *Stager) applyEdits(bctx *types.BuildContext, edits []types.EditRule) error {
	for _, edit := range edits {
		re, err := regexp.Compile(edit.Pattern)
		if err != nil {
			return errors.NewInstallError(err, "invalid edit pattern %q", edit.Pattern)
		}
		file := filepath.Join(bctx.WorkDir, filepath.FromSlash(edit.File))
		info, err := s.fsys.Stat(file)
		if err != nil {
			return errors.NewInstallError(err, "edit target %s not found", edit.File).
				WithDetail(errors.DetailPath, edit.File)
		}
		data, err := s.fsys.ReadFile(file)
		if err != nil {
			return errors.NewInstallError(err, "failed to read %s", edit.File)
		}
		if !re.Match(data) {
			return errors.NewInstallError(nil, "edit pattern %q matched nothing in %s", edit.Pattern, edit.File).
				WithDetail(errors.DetailPath, edit.File)
		}
		out := re.ReplaceAllLiteral(data, []byte(bctx.Expand(edit.Replace)))
		if err := s.fsys.WriteFile(file, out, info.Mode().Perm()); err != nil {
			return errors.NewInstallError(err, "failed to write %s", edit.File)
		}
	}
	return nil
}

func (s *Stager) applyInstalls(bctx *types.BuildContext, prefix string, rules []types.InstallRule) error {
	for _, rule := range rules {
		to := filepath.Join(prefix, filepath.FromSlash(bctx.Expand(rule.To)))
		var matched []string
		for _, pattern := range rule.From {
			matches, err := glob(s.fsys, bctx.WorkDir, pattern)
			if err != nil {
				return errors.NewInstallError(err, "invalid install pattern %q", pattern)
			}
			if len(matches) == 0 {
				return errors.NewInstallError(nil, "install pattern %q matched nothing", pattern).
					WithDetail(errors.DetailPath, pattern)
			}
			for _, m := range matches {
				if !excluded(m, rule.Exclude) {
					matched = append(matched, m)
				}
			}
		}

		if rule.As != "" {
			if len(matched) != 1 {
				return errors.NewInstallError(nil, "install as %q needs exactly one match, got %d", rule.As, len(matched))
			}
			src := filepath.Join(bctx.WorkDir, filepath.FromSlash(matched[0]))
			if err := s.copyInto(src, filepath.Join(to, rule.As), matched[0], rule.Exclude); err != nil {
				return err
			}
			continue
		}
		for _, m := range matched {
			src := filepath.Join(bctx.WorkDir, filepath.FromSlash(m))
			if err := s.copyInto(src, filepath.Join(to, path.Base(m)), m, rule.Exclude); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Stager) copyInto(src, dst, rel string, exclude []string) error {
	skip := func(sub string) bool { return excluded(path.Join(rel, sub), exclude) }
	if err := copyPath(s.fsys, src, dst, skip); err != nil {
		return errors.NewInstallError(err, "failed to install %s", rel).
			WithDetail(errors.DetailPath, rel)
	}
	return nil
}

func (s *Stager) renderConfigs(bctx *types.BuildContext, prefix string, rules []types.ConfigRule) error {
	for _, rule := range rules {
		rel := path.Clean(filepath.ToSlash(rule.Path))
		if !strings.HasPrefix(rel, ConfigDir+"/") {
			return errors.NewInstallError(nil, "config %s is not under %s/", rule.Path, ConfigDir)
		}
		out, err := RenderTemplate(rel, rule.Template, bctx.Vars)
		if err != nil {
			return errors.NewInstallError(err, "failed to render config %s", rel).
				WithDetail(errors.DetailPath, rel)
		}
		if err := s.write(filepath.Join(prefix, filepath.FromSlash(rel)), out, 0644); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stager) writeShims(bctx *types.BuildContext, prefix string, rules []types.ShimRule) error {
	for _, rule := range rules {
		matches, err := glob(s.fsys, prefix, rule.Glob)
		if err != nil {
			return errors.NewInstallError(err, "invalid shim pattern %q", rule.Glob)
		}
		dir := rule.Dir
		if dir == "" {
			dir = "bin"
		}
		written := 0
		for _, m := range matches {
			if excluded(m, rule.Exclude) {
				continue
			}
			target := path.Base(m)
			name := strings.TrimSuffix(target, rule.StripSuffix)
			dest := filepath.Join(prefix, filepath.FromSlash(dir), name)
			if _, err := s.fsys.Lstat(dest); err == nil {
				return errors.NewInstallError(nil, "shim %s/%s would overwrite an installed file", dir, name).
					WithDetail(errors.DetailPath, path.Join(dir, name))
			}
			out, err := RenderShim(rule, target, bctx.Vars)
			if err != nil {
				return errors.NewInstallError(err, "failed to render shim for %s", m)
			}
			if err := s.write(dest, out, 0755); err != nil {
				return err
			}
			written++
		}
		if written == 0 {
			return errors.NewInstallError(nil, "shim pattern %q matched nothing", rule.Glob).
				WithDetail(errors.DetailPath, rule.Glob)
		}
	}
	return nil
}

func (s *Stager) writeService(bctx *types.BuildContext, prefix string) error {
	svc := bctx.Package.Formula.Service
	if svc == nil {
		return nil
	}
	out, err := RenderService(svc, bctx.Expand)
	if err != nil {
		return errors.NewInstallError(err, "failed to render service descriptor")
	}
	return s.write(filepath.Join(prefix, ServiceFileName(svc)), out, 0644)
}

func (s *Stager) write(dest string, data []byte, perm fs.FileMode) error {
	if err := s.fsys.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errors.NewInstallError(err, "failed to create %s", filepath.Dir(dest))
	}
	if err := s.fsys.WriteFile(dest, data, perm); err != nil {
		return errors.NewInstallError(err, "failed to write %s", dest).
			WithDetail(errors.DetailPath, dest)
	}
	return nil
}

// RenderTemplate executes a text/template against vars. Referencing an
// unknown variable is an error.
func RenderTemplate(name, text string, vars map[string]string) ([]byte, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderShim renders the wrapper script for target, the base name of the
// wrapped file. The template sees the path variables plus target.
func RenderShim(rule types.ShimRule, target string, vars map[string]string) ([]byte, error) {
	data := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		data[k] = v
	}
	data["target"] = target
	return RenderTemplate(target, rule.Template, data)
}

// seal records the manifest and writes the receipt. The prefix is not
// touched afterwards.
func (s *Stager) seal(bctx *types.BuildContext, prefix string) (*types.StagedInstallation, error) {
	pkg := bctx.Package
	files, err := Manifest(s.fsys, prefix)
	if err != nil {
		return nil, errors.NewInstallError(err, "failed to record manifest of %s", pkg.Name())
	}

	receipt := types.Receipt{
		Name:                pkg.Name(),
		Version:             pkg.Version,
		Variant:             pkg.Variant,
		Options:             pkg.EnabledOptions(),
		RuntimeDependencies: pkg.RuntimeDependencies(),
		BuildDependencies:   pkg.BuildDependencies(),
		Source:              pkg.Source.URL,
		InstalledAt:         s.now().UTC().Truncate(time.Second),
		Files:               files,
		ConfigFiles:         configFiles(files),
		Directories:         pkg.Formula.Layout.Directories,
	}
	data, err := toml.Marshal(receipt)
	if err != nil {
		return nil, errors.NewInstallError(err, "failed to encode receipt")
	}
	if err := s.write(filepath.Join(prefix, paths.ReceiptFileName), data, 0644); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("package", pkg.Name()).
		Str("version", pkg.Version).
		Int("files", len(files)).
		Msg("Installation sealed")
	return &types.StagedInstallation{
		Name:    pkg.Name(),
		Version: pkg.Version,
		Prefix:  prefix,
		Receipt: receipt,
		Sealed:  true,
	}, nil
}

// Manifest lists every file and symlink under prefix with its mode, and
// the digest of regular files. The receipt itself is left out.
func Manifest(fsys types.FS, prefix string) ([]types.ManifestEntry, error) {
	var entries []types.ManifestEntry
	err := walk(fsys, prefix, func(rel string, info fs.FileInfo) error {
		if rel == "" || info.IsDir() || rel == paths.ReceiptFileName {
			return nil
		}
		entry := types.ManifestEntry{Path: rel, Mode: info.Mode().Perm()}
		full := filepath.Join(prefix, filepath.FromSlash(rel))
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := fsys.Readlink(full)
			if err != nil {
				return err
			}
			entry.Link = target
		} else {
			data, err := fsys.ReadFile(full)
			if err != nil {
				return err
			}
			d, err := hashutil.Sum(hashutil.SHA256, bytes.NewReader(data))
			if err != nil {
				return err
			}
			entry.Digest = d.String()
		}
		entries = append(entries, entry)
		return nil
	})
	return entries, err
}

func configFiles(files []types.ManifestEntry) []types.ConfigFile {
	var out []types.ConfigFile
	for _, f := range files {
		if strings.HasPrefix(f.Path, ConfigDir+"/") && f.Link == "" {
			out = append(out, types.ConfigFile{Source: f.Path, Dest: f.Path})
		}
	}
	return out
}

// ReadReceipt loads the receipt of the keg at kegPath.
func ReadReceipt(fsys types.FS, kegPath string) (*types.Receipt, error) {
	file := filepath.Join(kegPath, paths.ReceiptFileName)
	data, err := fsys.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(err, errors.ErrNotFound, "no install receipt in %s", kegPath).
				WithDetail(errors.DetailPath, kegPath)
		}
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to read %s", file)
	}
	var r types.Receipt
	if err := toml.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrapf(err, errors.ErrInternal, "corrupt install receipt %s", file)
	}
	return &r, nil
}

// InstalledKegs returns the receipts of every sealed keg in the cellar,
// ordered by name then version. Kegs without a receipt are skipped.
func InstalledKegs(fsys types.FS, p paths.Paths) ([]*types.Receipt, error) {
	racks, err := fsys.ReadDir(p.CellarDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to read %s", p.CellarDir())
	}
	var out []*types.Receipt
	for _, rack := range racks {
		if !rack.IsDir() || strings.HasPrefix(rack.Name(), ".") {
			continue
		}
		r, err := KegsOf(fsys, p, rack.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, r...)
	}
	return out, nil
}

// KegsOf returns the receipts of every sealed keg of one package.
func KegsOf(fsys types.FS, p paths.Paths, name string) ([]*types.Receipt, error) {
	versions, err := fsys.ReadDir(p.RackPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "failed to read rack %s", name)
	}
	var out []*types.Receipt
	for _, v := range versions {
		if !v.IsDir() || strings.HasPrefix(v.Name(), ".") {
			continue
		}
		r, err := ReadReceipt(fsys, p.KegPath(name, v.Name()))
		if errors.IsErrorCode(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ReceiptSummary is a one-line description used in logs.
func ReceiptSummary(r *types.Receipt) string {
	s := fmt.Sprintf("%s %s (%s)", r.Name, r.Version, r.Variant)
	if len(r.Options) > 0 {
		s += " with " + strings.Join(r.Options, ",")
	}
	return s
}
