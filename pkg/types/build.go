package types

import (
	"os"
	"sort"
)

// BuildContext is the per-package, per-run environment handed to build
// actions and staging rules. It is owned by a single package's pipeline.
type BuildContext struct {
	Package *PlannedPackage
	// WorkDir is the patched source tree.
	WorkDir string
	// Prefix is the private installation prefix of this package.
	Prefix string
	// Root is the shared installation root.
	Root string
	Env  map[string]string
	Vars map[string]string
}

// Expand substitutes ${var} and $var references with the context's
// variables. Unknown variables expand to the empty string.
func (c *BuildContext) Expand(s string) string {
	return os.Expand(s, func(key string) string {
		return c.Vars[key]
	})
}

// ExpandAll expands every element of ss.
func (c *BuildContext) ExpandAll(ss []string) []string {
	if ss == nil {
		return nil
	}
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = c.Expand(s)
	}
	return out
}

// Environ renders Env as KEY=VALUE pairs with values expanded, sorted by
// key.
func (c *BuildContext) Environ() []string {
	env := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		env = append(env, k+"="+c.Expand(v))
	}
	sort.Strings(env)
	return env
}
