package resvfs

import (
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// PackageModule is implemented by anything that can serve file lookups
// under a registered prefix: a PKG archive opened via pkgfmt, a mounted
// in-memory test fixture, or any other data source a caller wants to route
// resource paths into.
type PackageModule interface {
	// Init is called once, synchronously, when the module is registered.
	Init() error

	// Cleanup is called once, synchronously, when the module is
	// unregistered. It must not block on outstanding loads; the caller is
	// responsible for having quiesced them first.
	Cleanup() error

	// FileInfo resolves intraPath (relative to the module's registered
	// prefix, already stripped) to its size and whether it is stored
	// compressed. Matching is case-insensitive.
	FileInfo(intraPath Path) (size int64, compressed bool, found bool)

	// ListFiles returns every pathname stored in the module, for
	// PackageRegistry.List and directory-style enumeration.
	ListFiles() []Path

	// OpenReader returns a FileLayer-compatible handle plus the byte range
	// within it that holds intraPath's raw (possibly still-compressed)
	// content, so the async read coordinator can read it like any other
	// file without the module needing to implement ReadAsync itself.
	OpenReader(intraPath Path) (ref FileRef, offset int64, length int64, err error)

	// Decompressor returns the name a caller should look up in the
	// decompressor registry for intraPath, or "" if it is stored raw.
	Decompressor(intraPath Path) string
}

// PackageRegistry implements longest case-insensitive prefix match among
// all registered modules: a single ordered scan over registered matchers,
// picking the most specific.
type PackageRegistry struct {
	mu       sync.RWMutex
	entries  map[uint64]*registryEntry // keyed by xxhash of the lowercased prefix, for O(1) exact-prefix rejects
	byPrefix []*registryEntry          // kept sorted longest-first for the prefix scan
}

type registryEntry struct {
	prefix  Path
	module  PackageModule
	hashKey uint64
}

// NewPackageRegistry returns an empty registry.
func NewPackageRegistry() *PackageRegistry {
	return &PackageRegistry{
		entries: make(map[uint64]*registryEntry),
	}
}

func prefixHash(prefix Path) uint64 {
	return xxhash.Sum64String(strings.ToLower(prefix.Normalize().String()))
}

// Register adds module under prefix. Registering an already-registered
// prefix returns InvalidArgumentError without calling module.Init; the
// caller must Unregister the old one first. Init is called before the
// module becomes visible to Lookup.
func (r *PackageRegistry) Register(prefix Path, module PackageModule) error {
	if module == nil {
		return &InvalidArgumentError{Message: "nil package module"}
	}
	norm := prefix.Normalize()
	key := prefixHash(norm)

	r.mu.Lock()
	if _, exists := r.entries[key]; exists {
		r.mu.Unlock()
		return &InvalidArgumentError{Message: "prefix already registered: " + norm.String()}
	}
	r.mu.Unlock()

	if err := module.Init(); err != nil {
		return err
	}

	entry := &registryEntry{prefix: norm, module: module, hashKey: key}

	r.mu.Lock()
	r.entries[key] = entry
	r.byPrefix = append(r.byPrefix, entry)
	sort.SliceStable(r.byPrefix, func(i, j int) bool {
		return r.byPrefix[i].prefix.NameCount() > r.byPrefix[j].prefix.NameCount()
	})
	r.mu.Unlock()
	return nil
}

// Unregister removes the module registered at prefix and calls its
// Cleanup. A prefix not currently registered is a no-op.
func (r *PackageRegistry) Unregister(prefix Path) error {
	norm := prefix.Normalize()
	key := prefixHash(norm)

	r.mu.Lock()
	entry, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, key)
	filtered := r.byPrefix[:0:0]
	for _, e := range r.byPrefix {
		if e != entry {
			filtered = append(filtered, e)
		}
	}
	r.byPrefix = filtered
	r.mu.Unlock()

	return entry.module.Cleanup()
}

// Lookup finds the longest registered prefix (case-insensitive,
// component-wise) that p begins with, returning its module and the exact
// prefix matched. Ties in length are broken by registration order: the
// first one registered wins.
func (r *PackageRegistry) Lookup(p Path) (PackageModule, Path, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.byPrefix {
		if p.HasPrefixFold(entry.prefix) {
			return entry.module, entry.prefix, true
		}
	}
	return nil, "", false
}

// List returns every registered prefix mapped to the pathnames its module
// exposes, each prefix's pathnames sorted — a convenience for debugging
// and tooling, not part of the load hot path. As a map, it carries no
// order among prefixes.
func (r *PackageRegistry) List() map[Path][]Path {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Path][]Path, len(r.byPrefix))
	for _, entry := range r.byPrefix {
		files := entry.module.ListFiles()
		sorted := make([]Path, len(files))
		copy(sorted, files)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		out[entry.prefix] = sorted
	}
	return out
}
