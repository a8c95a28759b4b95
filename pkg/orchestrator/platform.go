package orchestrator

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/arthur-debert/keg/pkg/config"
	"github.com/arthur-debert/keg/pkg/types"
)

// archNames maps Go architecture names to the names formulae test against.
var archNames = map[string]string{
	"amd64": "x86_64",
	"386":   "i386",
	"arm64": "arm64",
}

// DetectPlatform snapshots the host. Non-empty fields of override win.
func DetectPlatform(override config.PlatformConfig) types.Platform {
	p := types.Platform{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
		Bits: strconv.IntSize,
	}
	if name, ok := archNames[p.Arch]; ok {
		p.Arch = name
	}
	p.Version = strings.TrimSpace(osVersion())

	if override.OS != "" {
		p.OS = override.OS
	}
	if override.Arch != "" {
		p.Arch = override.Arch
	}
	if override.Version != "" {
		p.Version = override.Version
	}
	return p
}
