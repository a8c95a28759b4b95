package topics

import (
	"github.com/charmbracelet/glamour"
)

// GlamourRenderer renders markdown topics with glamour. Other formats pass
// through unchanged.
type GlamourRenderer struct {
	// NoColor selects the plain "notty" style instead of detecting the
	// terminal background.
	NoColor bool
	// Width wraps the output; zero keeps glamour's default.
	Width int
}

func (r GlamourRenderer) Render(content, format string) string {
	if format != ".md" {
		return content
	}

	var opts []glamour.TermRendererOption
	if r.NoColor {
		opts = append(opts, glamour.WithStandardStyle("notty"))
	} else {
		opts = append(opts, glamour.WithAutoStyle())
	}
	if r.Width > 0 {
		opts = append(opts, glamour.WithWordWrap(r.Width))
	}

	tr, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return content
	}
	out, err := tr.Render(content)
	if err != nil {
		return content
	}
	return out
}
