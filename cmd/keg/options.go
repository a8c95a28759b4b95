package keg

import "strings"

const (
	withPrefix    = "--with-"
	withoutPrefix = "--without-"
)

// OptionFlags are the formula option switches of a command line.
type OptionFlags struct {
	With    []string
	Without []string
}

// Empty reports whether no switch was given.
func (o OptionFlags) Empty() bool {
	return len(o.With) == 0 && len(o.Without) == 0
}

// SplitOptionFlags removes --with-<name> and --without-<name> from args.
// Their names depend on the formula, so they cannot be declared as regular
// flags. Arguments after "--" are left alone.
func SplitOptionFlags(args []string) ([]string, OptionFlags) {
	var opts OptionFlags
	rest := make([]string, 0, len(args))
	for i, arg := range args {
		if arg == "--" {
			rest = append(rest, args[i:]...)
			break
		}
		switch {
		case strings.HasPrefix(arg, withoutPrefix) && len(arg) > len(withoutPrefix):
			opts.Without = append(opts.Without, strings.TrimPrefix(arg, withoutPrefix))
		case strings.HasPrefix(arg, withPrefix) && len(arg) > len(withPrefix):
			opts.With = append(opts.With, strings.TrimPrefix(arg, withPrefix))
		default:
			rest = append(rest, arg)
		}
	}
	return rest, opts
}
