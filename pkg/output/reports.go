package output

import (
	"fmt"
	"strings"

	"github.com/arthur-debert/keg/pkg/history"
	"github.com/arthur-debert/keg/pkg/orchestrator"
	"github.com/arthur-debert/keg/pkg/stage"
	"github.com/arthur-debert/keg/pkg/types"
)

type planRow struct {
	Index   int
	Name    string
	Version string
	Tags    []string
	Runtime []string
	Build   []string
	Patches int
	Actions []string
}

type planView struct {
	Target   string
	Platform string
	Rows     []planRow
}

// RenderPlan writes a resolved plan in build order.
func (r *Renderer) RenderPlan(plan *types.ResolvedPlan) error {
	p := plan.Platform
	view := planView{
		Target:   plan.Target,
		Platform: strings.TrimSpace(fmt.Sprintf("%s %s %s", p.OS, p.Arch, p.Version)),
	}
	for i, pkg := range plan.Packages {
		row := planRow{
			Index:   i + 1,
			Name:    pkg.Name(),
			Version: pkg.Version,
			Runtime: pkg.RuntimeDependencies(),
			Build:   pkg.BuildDependencies(),
			Patches: len(pkg.Patches),
		}
		if pkg.Variant == types.VariantHead {
			row.Tags = append(row.Tags, "[head]")
		}
		for _, o := range pkg.EnabledOptions() {
			row.Tags = append(row.Tags, "+"+o)
		}
		if pkg.Target {
			row.Tags = append(row.Tags, "(target)")
		}
		for _, a := range pkg.Actions {
			row.Actions = append(row.Actions, a.Identity())
		}
		view.Rows = append(view.Rows, row)
	}
	return r.execute("plan", view)
}

type installRow struct {
	Name    string
	Version string
	Status  history.Status
	Detail  string
}

type installView struct {
	Packages []installRow
	Caveats  string
}

// RenderInstall writes one line per package of an install run, followed by
// the caveats of the target when it was installed.
func (r *Renderer) RenderInstall(report *orchestrator.Report) error {
	var view installView
	for _, p := range report.Packages {
		row := installRow{Name: p.Name, Version: p.Version, Status: p.Status}
		if row.Status == "" {
			row.Status = history.StatusSkipped
		}
		switch p.Status {
		case history.StatusSucceeded:
			var parts []string
			if p.Links != nil && len(p.Links.Linked) > 0 {
				parts = append(parts, fmt.Sprintf("%d links", len(p.Links.Linked)))
			}
			if d := formatDuration(p.Duration); d != "" {
				parts = append(parts, d)
			}
			row.Detail = strings.Join(parts, ", ")
		case history.StatusFailed:
			if p.Stage != "" {
				row.Detail = fmt.Sprintf("at %s stage", p.Stage)
			}
		case history.StatusSkipped, history.StatusCanceled:
			if p.Err != nil {
				row.Detail = p.Err.Error()
			}
		}
		view.Packages = append(view.Packages, row)
	}

	if report.Plan != nil {
		for _, pkg := range report.Plan.Packages {
			rep, ok := report.Lookup(pkg.Name())
			if pkg.Target && ok && rep.Status == history.StatusSucceeded {
				view.Caveats = pkg.Formula.Caveats
			}
		}
	}
	return r.execute("install", view)
}

type uninstallView struct {
	Name     string
	Versions []string
	Removed  int
}

// RenderUninstall writes the outcome of an uninstall.
func (r *Renderer) RenderUninstall(report *orchestrator.UninstallReport) error {
	return r.execute("uninstall", uninstallView{
		Name:     report.Name,
		Versions: report.Versions,
		Removed:  len(report.Removed),
	})
}

type optionView struct {
	Flag        string
	Description string
}

type infoView struct {
	Name         string
	Version      string
	HasHead      bool
	Description  string
	Homepage     string
	Installed    []string
	Options      []optionView
	Dependencies []string
	Caveats      string
}

// RenderInfo writes a formula summary together with its installed kegs.
func (r *Renderer) RenderInfo(f *types.Formula, installed []*types.Receipt) error {
	view := infoView{
		Name:        f.Name,
		Version:     f.PkgVersion(types.VariantStable),
		HasHead:     f.Head != nil,
		Description: f.Description,
		Homepage:    f.Homepage,
		Caveats:     f.Caveats,
	}
	for _, rc := range installed {
		view.Installed = append(view.Installed, stage.ReceiptSummary(rc))
	}
	for _, o := range f.Options {
		flag := "--with-" + o.Name
		if o.Default {
			flag = "--without-" + o.Name
		}
		view.Options = append(view.Options, optionView{Flag: flag, Description: o.Description})
	}
	deps := append([]types.DependencySpec(nil), f.Dependencies...)
	if f.Stable != nil {
		deps = append(deps, f.Stable.Dependencies...)
	}
	for _, d := range deps {
		line := d.Name
		var notes []string
		if d.IsBuildOnly() {
			notes = append(notes, "build")
		}
		if d.When != "" {
			notes = append(notes, "when "+d.When)
		}
		if len(notes) > 0 {
			line += " (" + strings.Join(notes, ", ") + ")"
		}
		view.Dependencies = append(view.Dependencies, line)
	}
	return r.execute("info", view)
}
