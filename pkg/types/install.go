package types

import (
	"os"
	"time"
)

// ManifestEntry records one path placed in a private prefix.
type ManifestEntry struct {
	Path   string      `toml:"path"`
	Digest string      `toml:"digest,omitempty"`
	Mode   os.FileMode `toml:"mode"`
	Link   string      `toml:"link,omitempty"`
}

// ConfigFile is a configuration file staged inside the prefix and installed
// into the shared etc/ directory at publish time.
type ConfigFile struct {
	// Source is relative to the prefix.
	Source string `toml:"source"`
	// Dest is relative to the shared root.
	Dest string `toml:"dest"`
}

// Receipt is written next to the manifest when a prefix is sealed. It
// records how the package was built.
type Receipt struct {
	Name                string          `toml:"name"`
	Version             string          `toml:"version"`
	Variant             Variant         `toml:"variant"`
	Options             []string        `toml:"options"`
	RuntimeDependencies []string        `toml:"runtime_dependencies"`
	BuildDependencies   []string        `toml:"build_dependencies"`
	Source              string          `toml:"source"`
	InstalledAt         time.Time       `toml:"installed_at"`
	Files               []ManifestEntry `toml:"file"`
	ConfigFiles         []ConfigFile    `toml:"config"`
	Directories         []string        `toml:"directories"`
}

// StagedInstallation is the result of staging a package into its private
// prefix. Once Sealed it is never modified again.
type StagedInstallation struct {
	Name    string
	Version string
	Prefix  string
	Receipt Receipt
	Sealed  bool
}

// Files returns the manifest entries.
func (s *StagedInstallation) Files() []ManifestEntry {
	return s.Receipt.Files
}
