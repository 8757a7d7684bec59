package browser

import "strings"

// SplitFlag splits a "--name=value" command line switch. A switch without a
// value yields an empty value.
func SplitFlag(arg string) (name, value string) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	name, value, _ = strings.Cut(arg, "=")
	return name, value
}

// HasFlag reports whether args contains the switch name, with or without a value.
func HasFlag(args []string, name string) bool {
	for _, a := range args {
		if n, _ := SplitFlag(a); n == name {
			return true
		}
	}
	return false
}
