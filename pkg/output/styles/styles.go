// Package styles defines the visual styling of keg's terminal output.
//
// Styles have semantic names and adaptive colors. Templates refer to them
// by name:
//
//	{{style "Package" .Name}} {{style "Version" .Version}}
//
// The built-in definitions are embedded; LoadStyles replaces them with a
// user file of the same shape.
package styles

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"
)

//go:embed styles.yaml
var defaultStyles []byte

// ColorDef is an adaptive color definition.
type ColorDef struct {
	Light string `yaml:"light"`
	Dark  string `yaml:"dark"`
}

// StyleDef is a style definition.
type StyleDef struct {
	Bold         bool   `yaml:"bold,omitempty"`
	Italic       bool   `yaml:"italic,omitempty"`
	Underline    bool   `yaml:"underline,omitempty"`
	Foreground   string `yaml:"foreground,omitempty"`
	Background   string `yaml:"background,omitempty"`
	Width        int    `yaml:"width,omitempty"`
	MarginLeft   int    `yaml:"marginLeft,omitempty"`
	PaddingLeft  int    `yaml:"paddingLeft,omitempty"`
	PaddingRight int    `yaml:"paddingRight,omitempty"`
}

// Config is a complete styles file.
type Config struct {
	Colors map[string]ColorDef `yaml:"colors"`
	Styles map[string]StyleDef `yaml:"styles"`
}

var (
	mu       sync.RWMutex
	registry map[string]StyleDef
	colors   map[string]lipgloss.AdaptiveColor
)

func init() {
	if err := Load(defaultStyles); err != nil {
		panic(fmt.Sprintf("invalid embedded styles: %v", err))
	}
}

// LoadStyles replaces the registry with the definitions in path.
func LoadStyles(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read styles file %s: %w", path, err)
	}
	return Load(data)
}

// Load replaces the registry with the YAML definitions in data.
func Load(data []byte) error {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse styles: %w", err)
	}
	for name, def := range config.Styles {
		for _, c := range []string{def.Foreground, def.Background} {
			if _, ok := config.Colors[c]; c != "" && !ok {
				return fmt.Errorf("style %s: unknown color %q", name, c)
			}
		}
	}

	newColors := make(map[string]lipgloss.AdaptiveColor, len(config.Colors))
	for name, def := range config.Colors {
		newColors[name] = lipgloss.AdaptiveColor{Light: def.Light, Dark: def.Dark}
	}

	mu.Lock()
	defer mu.Unlock()
	colors = newColors
	registry = config.Styles
	return nil
}

// Names lists the defined styles.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

// GetStyle builds the named style for renderer r. Unknown names yield a
// plain style.
func GetStyle(r *lipgloss.Renderer, name string) lipgloss.Style {
	mu.RLock()
	def, ok := registry[name]
	mu.RUnlock()
	style := r.NewStyle()
	if !ok {
		return style
	}
	return build(style, def)
}

func build(style lipgloss.Style, def StyleDef) lipgloss.Style {
	if def.Bold {
		style = style.Bold(true)
	}
	if def.Italic {
		style = style.Italic(true)
	}
	if def.Underline {
		style = style.Underline(true)
	}

	mu.RLock()
	fg, hasFg := colors[def.Foreground]
	bg, hasBg := colors[def.Background]
	mu.RUnlock()
	if hasFg {
		style = style.Foreground(fg)
	}
	if hasBg {
		style = style.Background(bg)
	}

	if def.Width > 0 {
		style = style.Width(def.Width)
	}
	if def.MarginLeft > 0 {
		style = style.MarginLeft(def.MarginLeft)
	}
	if def.PaddingLeft > 0 || def.PaddingRight > 0 {
		style = style.Padding(0, def.PaddingRight, 0, def.PaddingLeft)
	}
	return style
}
