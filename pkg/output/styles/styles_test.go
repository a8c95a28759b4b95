// pkg/output/styles/styles_test.go
// TEST TYPE: Unit Tests
// DEPENDENCIES: None
// PURPOSE: Test loading of style definitions and style lookup

package styles

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreDefaults(t *testing.T) {
	t.Cleanup(func() {
		require.NoError(t, Load(defaultStyles))
	})
}

func TestDefaultStyles(t *testing.T) {
	for _, name := range []string{"Header", "Package", "Version", "Success", "Error", "Skipped", "Muted", "Label"} {
		assert.Contains(t, Names(), name)
	}
}

func TestGetStyle(t *testing.T) {
	r := lipgloss.NewRenderer(&bytes.Buffer{})
	r.SetColorProfile(termenv.ANSI256)

	t.Run("known style is styled", func(t *testing.T) {
		out := GetStyle(r, "Error").Render("boom")
		assert.Contains(t, out, "boom")
		assert.NotEqual(t, "boom", out)
	})

	t.Run("unknown style is plain", func(t *testing.T) {
		assert.Equal(t, "boom", GetStyle(r, "NoSuchStyle").Render("boom"))
	})

	t.Run("width pads", func(t *testing.T) {
		plain := lipgloss.NewRenderer(&bytes.Buffer{})
		plain.SetColorProfile(termenv.Ascii)
		assert.Equal(t, "Version:      ", GetStyle(plain, "Label").Render("Version:"))
	})
}

func TestLoadStyles(t *testing.T) {
	restoreDefaults(t)

	path := filepath.Join(t.TempDir(), "styles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
colors:
  pink: {light: "#FF00FF", dark: "#FF87FF"}
styles:
  Package: {bold: true, foreground: pink}
`), 0644))

	require.NoError(t, LoadStyles(path))
	assert.Equal(t, []string{"Package"}, Names())
}

func TestLoad_Errors(t *testing.T) {
	restoreDefaults(t)

	tests := []struct {
		name string
		data string
		want string
	}{
		{"invalid yaml", "styles: [", "failed to parse styles"},
		{"unknown color", "styles:\n  Package: {foreground: nope}\n", `unknown color "nope"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Load([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.Contains(t, Names(), "Header", "failed loads keep the previous registry")
}

func TestLoadStyles_MissingFile(t *testing.T) {
	err := LoadStyles(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
