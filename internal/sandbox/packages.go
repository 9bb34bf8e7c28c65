package sandbox

import (
	"fmt"
	"strings"
)

// PackageBaseName extracts the distribution name from a package spec,
// stripping version specifiers, extras, and environment markers.
// "pandas>=1.0,<2.0" -> "pandas", "Requests[security]==2.31" -> "requests".
func PackageBaseName(spec string) string {
	name := strings.TrimSpace(spec)
	if i := strings.IndexAny(name, "=<>!~[; @"); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// Allowlist is the case-insensitive set of package base names that
// InstallPackage will accept.
type Allowlist map[string]struct{}

func NewAllowlist(names []string) Allowlist {
	al := make(Allowlist, len(names))
	for _, n := range names {
		al[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	return al
}

// Check validates a package spec against the allowlist.
func (al Allowlist) Check(spec string) error {
	name := PackageBaseName(spec)
	if name == "" {
		return fmt.Errorf("%w: empty package spec", ErrPackageNotAllowed)
	}
	if _, ok := al[name]; !ok {
		return fmt.Errorf("%w: %s", ErrPackageNotAllowed, name)
	}
	return nil
}
