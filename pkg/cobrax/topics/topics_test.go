// pkg/cobrax/topics/topics_test.go
// TEST TYPE: Unit Tests
// DEPENDENCIES: None
// PURPOSE: Test topic discovery, lookup and the help command

package topics_test

import (
	"bytes"
	"testing"
	"testing/fstest"

	"github.com/arthur-debert/keg/pkg/cobrax/topics"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFS() fstest.MapFS {
	return fstest.MapFS{
		"formula.md":          {Data: []byte("# Formula files\n\nA formula describes a package.")},
		"layout.txt":          {Data: []byte("cellar, opt and shared directories")},
		"flags/flag-force.md": {Data: []byte("Force replaces foreign links.")},
		"notes.json":          {Data: []byte("{}")},
	}
}

func TestNew_ScansExtensions(t *testing.T) {
	tests := []struct {
		name  string
		exts  []string
		found []string
	}{
		{"default extensions", nil, []string{"flag-force", "formula", "layout"}},
		{"markdown only", []string{".md"}, []string{"flag-force", "formula"}},
		{"custom extension", []string{".json"}, []string{"notes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := topics.New(sampleFS(), topics.Options{Extensions: tt.exts})
			require.NoError(t, err)
			assert.Equal(t, tt.found, m.Names())
		})
	}
}

func TestManager_Get(t *testing.T) {
	m, err := topics.New(sampleFS(), topics.Options{})
	require.NoError(t, err)

	tests := []struct {
		input  string
		want   string
		exists bool
	}{
		{"formula", "formula", true},
		{"flag-force", "flag-force", true},
		{"force", "flag-force", true},
		{"--force", "flag-force", true},
		{"-f", "", false},
		{"missing", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			topic, ok := m.Get(tt.input)
			assert.Equal(t, tt.exists, ok)
			if ok {
				assert.Equal(t, tt.want, topic.Name)
			}
		})
	}
}

func TestManager_Index(t *testing.T) {
	m, err := topics.New(sampleFS(), topics.Options{})
	require.NoError(t, err)

	idx := m.Index("keg")
	assert.Contains(t, idx, "General topics:\n  formula\n  layout\n")
	assert.Contains(t, idx, "Flag topics:\n  --force\n")
	assert.Contains(t, idx, "'keg help <topic>'")

	empty, err := topics.New(fstest.MapFS{}, topics.Options{})
	require.NoError(t, err)
	assert.Equal(t, "No help topics available.\n", empty.Index("keg"))
}

func TestInstall(t *testing.T) {
	m, err := topics.New(sampleFS(), topics.Options{})
	require.NoError(t, err)

	newRoot := func() (*cobra.Command, *bytes.Buffer) {
		root := &cobra.Command{Use: "keg", Short: "Build packages"}
		root.AddCommand(&cobra.Command{
			Use:   "install",
			Short: "Install a formula",
			Run:   func(*cobra.Command, []string) {},
		})
		topics.Install(root, m)
		var buf bytes.Buffer
		root.SetOut(&buf)
		return root, &buf
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"topic", []string{"help", "formula"}, "A formula describes a package."},
		{"flag topic", []string{"help", "force"}, "Force replaces foreign links."},
		{"index", []string{"help", "topics"}, "Available help topics:"},
		{"command help", []string{"help", "install"}, "Install a formula"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, buf := newRoot()
			root.SetArgs(tt.args)
			require.NoError(t, root.Execute())
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestGlamourRenderer(t *testing.T) {
	r := topics.GlamourRenderer{NoColor: true}
	assert.Equal(t, "plain text", r.Render("plain text", ".txt"))

	out := r.Render("# Title\n\nBody text.", ".md")
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "Body text.")
}
