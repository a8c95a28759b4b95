// Package topics adds help topics to a cobra command tree. Topics are
// documents read from an fs.FS (usually embedded) and are reachable through
// `<app> help <topic>` next to the regular command help.
package topics

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// FlagPrefix marks topics that document a command line flag. They are
// listed separately and can be looked up with or without leading dashes.
const FlagPrefix = "flag-"

// Topic is one help document.
type Topic struct {
	Name    string
	Path    string
	Content string
}

// Options configures a Manager.
type Options struct {
	// Extensions accepted as topics. Defaults to .md and .txt.
	Extensions []string
	// Renderer formats topic content. Defaults to PlainRenderer.
	Renderer Renderer
}

// Manager holds the topics found in a filesystem.
type Manager struct {
	topics   map[string]*Topic
	renderer Renderer
}

// New scans fsys for topic files. Subdirectories are walked; the topic name
// is the file name without extension.
func New(fsys fs.FS, opts Options) (*Manager, error) {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = []string{".md", ".txt"}
	}
	m := &Manager{topics: make(map[string]*Topic), renderer: opts.Renderer}
	if m.renderer == nil {
		m.renderer = PlainRenderer{}
	}

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !hasExt(p, exts) {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(path.Base(p), path.Ext(p))
		m.topics[name] = &Topic{Name: name, Path: p, Content: string(data)}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan topics: %w", err)
	}
	return m, nil
}

func hasExt(p string, exts []string) bool {
	ext := path.Ext(p)
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// Get finds a topic by name. "--force", "-force" and "force" all find a
// flag-force topic when no plain "force" topic exists.
func (m *Manager) Get(name string) (*Topic, bool) {
	name = strings.TrimLeft(name, "-")
	if t, ok := m.topics[name]; ok {
		return t, true
	}
	t, ok := m.topics[FlagPrefix+name]
	return t, ok
}

// Names returns every topic name, sorted.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.topics))
	for name := range m.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render formats a topic with the configured renderer.
func (m *Manager) Render(t *Topic) string {
	return m.renderer.Render(t.Content, path.Ext(t.Path))
}

// Index is the text printed by `help topics`.
func (m *Manager) Index(app string) string {
	var general, flags []string
	for _, name := range m.Names() {
		if strings.HasPrefix(name, FlagPrefix) {
			flags = append(flags, "--"+strings.TrimPrefix(name, FlagPrefix))
		} else {
			general = append(general, name)
		}
	}
	if len(general) == 0 && len(flags) == 0 {
		return "No help topics available.\n"
	}

	var b strings.Builder
	b.WriteString("Available help topics:\n")
	if len(general) > 0 {
		b.WriteString("\nGeneral topics:\n")
		for _, n := range general {
			fmt.Fprintf(&b, "  %s\n", n)
		}
	}
	if len(flags) > 0 {
		b.WriteString("\nFlag topics:\n")
		for _, n := range flags {
			fmt.Fprintf(&b, "  %s\n", n)
		}
	}
	fmt.Fprintf(&b, "\nUse '%s help <topic>' to read about a specific topic.\n", app)
	return b.String()
}

// Install replaces the help command of root with one that also knows about
// topics. Arguments that are neither a topic nor "topics" fall through to
// cobra's command help.
func Install(root *cobra.Command, m *Manager) {
	originalHelp := root.HelpFunc()

	helpCmd := &cobra.Command{
		Use:   "help [command or topic]",
		Short: "Help about any command or topic",
		Long: `Help provides help for any command or topic in the application.
Simply type ` + root.Name() + ` help [path to command or topic] for full details.

To see all available help topics:
  ` + root.Name() + ` help topics`,
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			completions := []string{"topics"}
			for _, c := range root.Commands() {
				if !c.Hidden {
					completions = append(completions, c.Name())
				}
			}
			completions = append(completions, m.Names()...)
			return completions, cobra.ShellCompDirectiveNoFileComp
		},
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			switch {
			case len(args) == 0:
				originalHelp(root, nil)
			case args[0] == "topics":
				fmt.Fprint(out, m.Index(root.Name()))
			default:
				if t, ok := m.Get(args[0]); ok {
					fmt.Fprint(out, m.Render(t))
					return
				}
				target, _, err := root.Find(args)
				if err != nil || target == nil {
					originalHelp(root, args)
					return
				}
				originalHelp(target, args)
			}
		},
	}

	for _, c := range root.Commands() {
		if c.Name() == "help" {
			root.RemoveCommand(c)
			break
		}
	}
	root.SetHelpCommand(helpCmd)
}
