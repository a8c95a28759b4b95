// Package output renders command results for the terminal.
//
// Reports go through Go templates whose style function applies the
// semantic lipgloss styles of the styles package. Tabular listings are
// rendered with pterm and formula caveats, which are markdown, with
// glamour. Colour is used only when the writer is a terminal and NO_COLOR
// is unset; without it the output is plain, stable text.
package output

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/history"
	"github.com/arthur-debert/keg/pkg/logging"
	"github.com/arthur-debert/keg/pkg/output/styles"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/pterm/pterm"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// DefaultWidth is the wrap width for caveats.
const DefaultWidth = 80

// Renderer writes reports to a writer.
type Renderer struct {
	writer    io.Writer
	color     bool
	width     int
	lg        *lipgloss.Renderer
	templates *template.Template
}

// NewRenderer creates a Renderer for w. Colour is enabled only when w is a
// terminal, noColor is false and the environment does not ask otherwise.
func NewRenderer(w io.Writer, noColor bool) (*Renderer, error) {
	log := logging.GetLogger("output")

	color := ColorEnabled(w, noColor)
	lg := lipgloss.NewRenderer(w)
	if color {
		pterm.EnableColor()
	} else {
		lg.SetColorProfile(termenv.Ascii)
		pterm.DisableColor()
	}
	log.Debug().Bool("color", color).Msg("Creating renderer")

	r := &Renderer{writer: w, color: color, width: DefaultWidth, lg: lg}
	tmpl, err := template.New("output").Funcs(r.funcs()).ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	r.templates = tmpl
	return r, nil
}

// ColorEnabled reports whether output to w should carry colour.
func ColorEnabled(w io.Writer, noColor bool) bool {
	return !noColor && isTerminal(w) && !termenv.EnvNoColor()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (r *Renderer) funcs() template.FuncMap {
	return template.FuncMap{
		"style":   r.style,
		"status":  r.status,
		"caveats": r.caveats,
		"join":    func(sep string, items []string) string { return strings.Join(items, sep) },
	}
}

func (r *Renderer) style(name, text string) string {
	return styles.GetStyle(r.lg, name).Render(text)
}

// statusLabels are padded before styling so columns line up with colour on.
var statusLabels = map[history.Status]struct{ label, style string }{
	history.StatusSucceeded: {"installed", "Success"},
	history.StatusInstalled: {"up-to-date", "Muted"},
	history.StatusFailed:    {"failed", "Error"},
	history.StatusSkipped:   {"skipped", "Skipped"},
	history.StatusCanceled:  {"canceled", "Warning"},
	history.StatusRunning:   {"running", "Muted"},
}

func (r *Renderer) status(s history.Status) string {
	l, ok := statusLabels[s]
	if !ok {
		l.label, l.style = string(s), "Muted"
	}
	return r.style(l.style, fmt.Sprintf("%-10s", l.label))
}

// caveats renders markdown text for the terminal.
func (r *Renderer) caveats(text string) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(r.width)}
	if r.color {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle("notty"))
	}
	tr, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", err
	}
	out, err := tr.Render(text)
	if err != nil {
		return "", err
	}
	return strings.TrimLeft(out, "\n"), nil
}

func (r *Renderer) execute(name string, data interface{}) error {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	_, err := r.writer.Write(buf.Bytes())
	return err
}

// RenderError writes err with its diagnostic details.
func (r *Renderer) RenderError(err error) error {
	_, writeErr := fmt.Fprintf(r.writer, "%s %s\n", r.style("Error", "Error:"), errors.Describe(err))
	return writeErr
}

// RenderMessage writes a single styled line.
func (r *Renderer) RenderMessage(style, message string) error {
	_, err := fmt.Fprintln(r.writer, r.style(style, message))
	return err
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return ""
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}
