package resvfs

import "strings"

// MaxPathLength bounds any logical path accepted by ResolvePath. Paths
// longer than this are rejected with BufferOverflowError rather than risking an
// unbounded allocation or prefix scan.
const MaxPathLength = 4096

// HostPrefix lets a caller address the host filesystem explicitly, bypassing
// package routing. Reserved for test harnesses.
const HostPrefix = "host:"

// Path is a normalized, forward-slash-separated logical path: a composite
// key into the resource namespace. Segments are split and rejoined on
// demand rather than stored pre-split, to keep the common case (a path is
// looked up once, then discarded) allocation-light.
type Path string

// Names splits the path by / and returns all non-empty segments.
func (p Path) Names() []string {
	tmp := strings.Split(string(p), "/")
	cleaned := make([]string, len(tmp))
	idx := 0
	for _, str := range tmp {
		str = strings.TrimSpace(str)
		if len(str) > 0 {
			cleaned[idx] = str
			idx++
		}
	}
	return cleaned[0:idx]
}

// NameCount returns how many segments are included in this path.
func (p Path) NameCount() int {
	return len(p.Names())
}

// Name returns the last segment, or the empty string for the root path.
func (p Path) Name() string {
	tmp := p.Names()
	if len(tmp) > 0 {
		return tmp[len(tmp)-1]
	}
	return ""
}

// Parent returns the parent path of this path.
func (p Path) Parent() Path {
	tmp := p.Names()
	if len(tmp) > 0 {
		return Path("/" + strings.Join(tmp[:len(tmp)-1], "/"))
	}
	return ""
}

// String normalizes the path: a single leading slash, single slashes
// between segments, no trailing slash.
func (p Path) String() string {
	return "/" + strings.Join(p.Names(), "/")
}

// Normalize returns the normalized form of p.
func (p Path) Normalize() Path {
	return Path(p.String())
}

// Child returns a new Path with name appended as a child segment.
func (p Path) Child(name string) Path {
	if strings.HasPrefix(name, "/") {
		return Path(p.String() + name)
	}
	return Path(p.String() + "/" + name)
}

// EqualFold reports whether two paths are equal ignoring ASCII case, which
// is how package prefixes and PKG pathname entries are compared throughout.
func (p Path) EqualFold(o Path) bool {
	return strings.EqualFold(p.String(), o.String())
}

// HasPrefixFold reports whether p begins with prefix, compared
// component-by-component and case-insensitively. The
// prefix "/a" matches "/a/b" but not "/ab".
func (p Path) HasPrefixFold(prefix Path) bool {
	pNames := p.Names()
	prefixNames := prefix.Names()
	if len(prefixNames) > len(pNames) {
		return false
	}
	for i, seg := range prefixNames {
		if !strings.EqualFold(seg, pNames[i]) {
			return false
		}
	}
	return true
}

// TrimPrefixFold removes prefix (matched case-insensitively,
// component-by-component) and returns the remainder, normalized.
func (p Path) TrimPrefixFold(prefix Path) Path {
	if !p.HasPrefixFold(prefix) {
		return p.Normalize()
	}
	pNames := p.Names()
	prefixNames := prefix.Names()
	return Path("/" + strings.Join(pNames[len(prefixNames):], "/"))
}

// ConcatPaths merges all paths together into a single normalized Path.
func ConcatPaths(paths ...Path) Path {
	tmp := make([]string, 0)
	for _, path := range paths {
		tmp = append(tmp, path.Names()...)
	}
	return Path("/" + strings.Join(tmp, "/"))
}

// Resolved is the outcome of resolving a caller-supplied logical path:
// either a package-routed lookup (Module set, IntraPath the remainder
// handed verbatim to the module) or a host-filesystem-routed lookup
// (Module nil, HostPath the path to hand to the FileLayer).
type Resolved struct {
	Module    PackageModule
	Prefix    Path
	IntraPath Path
	HostPath  Path
}

// effectivePath returns the path r actually resolved to, for diagnostics:
// the package prefix joined with the intra-package key, or the host path.
func (r Resolved) effectivePath() Path {
	if r.Module != nil {
		return ConcatPaths(r.Prefix, r.IntraPath)
	}
	return r.HostPath
}

// ResolvePath strips an optional host: prefix, strips the configured
// resource path prefix, then finds the longest registered package prefix
// matching the remainder; everything else falls through to the host
// filesystem. ResolvePath performs no I/O and is deterministic.
func ResolvePath(reg *PackageRegistry, resourcePrefix Path, raw string) (Resolved, error) {
	if len(raw) == 0 {
		return Resolved{}, &InvalidPathError{Path: Path(raw)}
	}
	if len(raw) > MaxPathLength {
		return Resolved{}, &BufferOverflowError{Requested: len(raw), Limit: MaxPathLength}
	}

	if len(raw) >= len(HostPrefix) && strings.EqualFold(raw[:len(HostPrefix)], HostPrefix) {
		rest := raw[len(HostPrefix):]
		if rest == "" {
			return Resolved{}, &InvalidPathError{Path: Path(raw)}
		}
		return Resolved{HostPath: Path(rest).Normalize()}, nil
	}

	p := Path(raw).Normalize()
	if resourcePrefix != "" && p.HasPrefixFold(resourcePrefix) {
		p = p.TrimPrefixFold(resourcePrefix)
	}

	if reg != nil {
		if mod, prefix, ok := reg.Lookup(p); ok {
			return Resolved{
				Module:    mod,
				Prefix:    prefix,
				IntraPath: p.TrimPrefixFold(prefix),
			}, nil
		}
	}

	return Resolved{HostPath: p}, nil
}
