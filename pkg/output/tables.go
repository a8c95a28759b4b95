package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arthur-debert/keg/pkg/history"
	"github.com/arthur-debert/keg/pkg/types"
	"github.com/pterm/pterm"
)

const timeLayout = "2006-01-02 15:04"

func (r *Renderer) table(rows [][]string) error {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(rows).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(r.writer, out)
	return err
}

// RenderList writes the installed kegs, one row per version.
func (r *Renderer) RenderList(receipts []*types.Receipt) error {
	if len(receipts) == 0 {
		return r.RenderMessage("Muted", "No packages installed")
	}
	rows := [][]string{{"Name", "Version", "Variant", "Options", "Installed"}}
	for _, rc := range receipts {
		rows = append(rows, []string{
			rc.Name,
			rc.Version,
			string(rc.Variant),
			strings.Join(rc.Options, ","),
			rc.InstalledAt.Local().Format(timeLayout),
		})
	}
	return r.table(rows)
}

// RenderLinks writes the link state, optionally restricted to one package.
func (r *Renderer) RenderLinks(state *types.LinkState, name string) error {
	paths := make([]string, 0, len(state.Links))
	for p, rec := range state.Links {
		if name == "" || rec.Package == name {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return r.RenderMessage("Muted", "No links")
	}
	sort.Strings(paths)

	rows := [][]string{{"Path", "Package", "Version", "Kind", "Target"}}
	for _, p := range paths {
		rec := state.Links[p]
		rows = append(rows, []string{p, rec.Package, rec.Version, string(rec.Kind), rec.Target})
	}
	return r.table(rows)
}

// RenderHistory writes recent runs, newest first, with one row per run.
func (r *Renderer) RenderHistory(runs []history.Run) error {
	if len(runs) == 0 {
		return r.RenderMessage("Muted", "No recorded runs")
	}
	rows := [][]string{{"Started", "Command", "Target", "Status", "Packages", "Error"}}
	for _, run := range runs {
		var pkgs []string
		for _, p := range run.Packages {
			entry := p.Package + " " + string(p.Status)
			if p.Stage != "" {
				entry += "@" + p.Stage
			}
			pkgs = append(pkgs, entry)
		}
		errText := run.Error
		if i := strings.IndexByte(errText, '\n'); i >= 0 {
			errText = errText[:i]
		}
		rows = append(rows, []string{
			run.StartedAt.Local().Format(timeLayout),
			run.Command,
			run.Target,
			string(run.Status),
			strings.Join(pkgs, ", "),
			errText,
		})
	}
	return r.table(rows)
}
