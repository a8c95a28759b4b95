package build

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/arthur-debert/keg/pkg/paths"
	"github.com/arthur-debert/keg/pkg/types"
)

// Vars computes the path variables of a package installed into prefix.
// etc and var point into the shared root so configuration and state
// survive upgrades; everything else lives in the private prefix.
func Vars(pkg *types.PlannedPackage, platform types.Platform, p paths.Paths, prefix string, jobs int) map[string]string {
	opt := p.OptPath(pkg.Name())
	return map[string]string{
		"prefix":  prefix,
		"bin":     filepath.Join(prefix, "bin"),
		"sbin":    filepath.Join(prefix, "sbin"),
		"lib":     filepath.Join(prefix, "lib"),
		"include": filepath.Join(prefix, "include"),
		"share":   filepath.Join(prefix, "share"),
		"libexec": filepath.Join(prefix, "libexec"),
		"etc":     p.SharedDir("etc"),
		"var":     p.SharedDir("var"),
		"opt":     opt,
		"opt_bin": filepath.Join(opt, "bin"),
		"root":    p.Root(),
		"name":    pkg.Name(),
		"version": pkg.Version,
		"arch":    platform.Arch,
		"os":      platform.OS,
		"jobs":    strconv.Itoa(jobs),
	}
}

// NewContext assembles the BuildContext of one package run.
func NewContext(pkg *types.PlannedPackage, platform types.Platform, p paths.Paths, workDir, prefix string, jobs int) *types.BuildContext {
	env := make(map[string]string, len(pkg.Env))
	for k, v := range pkg.Env {
		env[k] = v
	}
	return &types.BuildContext{
		Package: pkg,
		WorkDir: workDir,
		Prefix:  prefix,
		Root:    p.Root(),
		Env:     env,
		Vars:    Vars(pkg, platform, p, prefix, jobs),
	}
}

// MergeEnv layers KEY=VALUE lists and maps: later layers win. The result
// is sorted by key.
func MergeEnv(base []string, layers ...map[string]string) []string {
	merged := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// hostEnv is the inherited environment with the shared bin directory put
// first on PATH, so installed dependencies are found before host tools.
func hostEnv(root string) []string {
	env := os.Environ()
	shared := filepath.Join(root, "bin")
	for i, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			env[i] = "PATH=" + shared + string(os.PathListSeparator) + strings.TrimPrefix(kv, "PATH=")
			return env
		}
	}
	return append(env, "PATH="+shared)
}
