package keg

import (
	"embed"
	"io/fs"

	"github.com/arthur-debert/keg/pkg/cobrax/topics"
	"github.com/arthur-debert/keg/pkg/output"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

//go:embed topics/*.md
var topicFiles embed.FS

// topicRenderer decides on colour when a topic is shown, after the flags
// have been parsed.
type topicRenderer struct {
	state *cliState
}

func (r topicRenderer) Render(content, format string) string {
	noColor := !output.ColorEnabled(r.state.stdout, r.state.noColor)
	return topics.GlamourRenderer{NoColor: noColor, Width: output.DefaultWidth}.Render(content, format)
}

// installHelp adds `keg help <topic>`. A broken topic tree only costs the
// topics; command help keeps working.
func installHelp(root *cobra.Command, state *cliState) {
	sub, err := fs.Sub(topicFiles, "topics")
	if err != nil {
		log.Debug().Err(err).Msg("Help topics unavailable")
		return
	}
	m, err := topics.New(sub, topics.Options{Renderer: topicRenderer{state: state}})
	if err != nil {
		log.Debug().Err(err).Msg("Help topics unavailable")
		return
	}
	topics.Install(root, m)
}
