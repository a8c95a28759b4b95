// Package predicate evaluates the boolean expressions attached to formula
// entries ("when" clauses). Predicates are HCL expressions over three
// namespaces:
//
//	platform.os, platform.arch, platform.version, platform.bits
//	build.head, build.stable
//	option.<name> for every option the formula declares
//
// An empty predicate is always true. Predicates are pure: the same
// expression evaluated against the same Env yields the same result.
package predicate

import (
	"sort"
	"strconv"
	"strings"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/types"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

const (
	rootPlatform = "platform"
	rootBuild    = "build"
	rootOption   = "option"
)

// Env is the fixed snapshot a predicate is evaluated against.
type Env struct {
	Platform types.Platform
	Head     bool
	// Options holds every declared option of the formula, enabled or not.
	Options map[string]bool
}

// Parse compiles expr without evaluating it.
func Parse(expr string) (hcl.Expression, error) {
	parsed, diags := hclsyntax.ParseExpression([]byte(expr), "when", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, errors.ErrPredicate, "invalid predicate %q", expr)
	}
	return parsed, nil
}

// Check parses expr and verifies that every variable it references exists.
// Option references must name one of the declared options.
func Check(expr string, declared []string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	parsed, err := Parse(expr)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(declared))
	for _, name := range declared {
		known[name] = true
	}
	for _, traversal := range parsed.Variables() {
		root := traversal.RootName()
		switch root {
		case rootPlatform, rootBuild:
			continue
		case rootOption:
			if len(traversal) < 2 {
				return errors.Newf(errors.ErrPredicate, "predicate %q: option needs a name", expr)
			}
			attr, ok := traversal[1].(hcl.TraverseAttr)
			if !ok {
				return errors.Newf(errors.ErrPredicate, "predicate %q: option must be referenced as option.<name>", expr)
			}
			if !known[attr.Name] {
				return errors.Newf(errors.ErrPredicate, "predicate %q references undeclared option %q", expr, attr.Name).
					WithDetail("option", attr.Name)
			}
		default:
			return errors.Newf(errors.ErrPredicate, "predicate %q references unknown variable %q", expr, root)
		}
	}
	return nil
}

// Eval evaluates expr against env. The expression must produce a known,
// non-null boolean.
func Eval(expr string, env Env) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	parsed, err := Parse(expr)
	if err != nil {
		return false, err
	}
	val, diags := parsed.Value(env.evalContext())
	if diags.HasErrors() {
		return false, errors.Wrapf(diags, errors.ErrPredicate, "cannot evaluate predicate %q", expr)
	}
	if val.IsNull() || !val.IsKnown() {
		return false, errors.Newf(errors.ErrPredicate, "predicate %q has no value", expr)
	}
	if !val.Type().Equals(cty.Bool) {
		return false, errors.Newf(errors.ErrPredicate, "predicate %q yields %s, not bool", expr, val.Type().FriendlyName())
	}
	return val.True(), nil
}

func (e Env) evalContext() *hcl.EvalContext {
	options := make(map[string]cty.Value, len(e.Options))
	names := make([]string, 0, len(e.Options))
	for name := range e.Options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		options[name] = cty.BoolVal(e.Options[name])
	}
	optionVal := cty.EmptyObjectVal
	if len(options) > 0 {
		optionVal = cty.ObjectVal(options)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			rootPlatform: cty.ObjectVal(map[string]cty.Value{
				"os":      cty.StringVal(e.Platform.OS),
				"arch":    cty.StringVal(e.Platform.Arch),
				"version": cty.StringVal(e.Platform.Version),
				"bits":    cty.NumberIntVal(int64(e.Platform.Bits)),
			}),
			rootBuild: cty.ObjectVal(map[string]cty.Value{
				"head":   cty.BoolVal(e.Head),
				"stable": cty.BoolVal(!e.Head),
			}),
			rootOption: optionVal,
		},
		Functions: functions,
	}
}

var functions = map[string]function.Function{
	"lower":      stdlib.LowerFunc,
	"upper":      stdlib.UpperFunc,
	"version_ge": versionCompareFunc(func(c int) bool { return c >= 0 }),
	"version_lt": versionCompareFunc(func(c int) bool { return c < 0 }),
}

func versionCompareFunc(accept func(int) bool) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "a", Type: cty.String},
			{Name: "b", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return cty.BoolVal(accept(CompareVersions(args[0].AsString(), args[1].AsString()))), nil
		},
	})
}

// CompareVersions compares dotted numeric versions component by component.
// Missing components count as zero; non-numeric components compare as
// strings.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y string
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		xi, xerr := strconv.Atoi(orZero(x))
		yi, yerr := strconv.Atoi(orZero(y))
		if xerr == nil && yerr == nil {
			if xi != yi {
				if xi < yi {
					return -1
				}
				return 1
			}
			continue
		}
		if c := strings.Compare(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
