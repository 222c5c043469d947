package resvfs

import (
	"strings"
	"sync"

	"github.com/kestrelgames/resvfs/pkgfmt"
)

// lookupKey renders intraPath the way PKG archive names are stored:
// forward-slash-joined segments with no leading slash. intraPath.String()
// always carries a leading slash, which a PKG archive's pathname pool never
// does, so every archive.Lookup call must go through this instead.
func lookupKey(intraPath Path) string {
	return strings.Join(intraPath.Names(), "/")
}

// fileLayerReaderAt adapts a FileLayer's synchronous Size/blocking read
// semantics to pkgfmt.ReadAt for the one-time, whole-index Parse call at
// registration time. Per-file reads after that go through the ordinary
// async read coordinator, never through this adapter.
type fileLayerReaderAt struct {
	layer FileLayer
	ref   FileRef
}

func (r fileLayerReaderAt) ReadAt(p []byte, off int64) (int, error) {
	ticket, err := r.layer.ReadAsync(r.ref, p, off, len(p))
	if err != nil {
		return 0, err
	}
	n, err := r.layer.WaitAsync(ticket)
	return n, err
}

// PKGModule is the PackageModule implementation backed by the PKG binary
// archive format: it opens one archive file through a FileLayer, parses
// its index once at Init, and thereafter answers lookups entirely from the
// in-memory index, delegating actual byte reads back to the same shared
// FileLayer handle the async read coordinator uses — one file handle
// shared by every file in the package.
type PKGModule struct {
	layer     FileLayer
	path      string
	codecName string

	mu      sync.RWMutex
	ref     FileRef
	archive *pkgfmt.Archive
}

// NewPKGModule returns a PackageModule that reads the PKG archive at path
// through layer, attributing compressed entries to the decompressor
// registered under codecName (empty means compressed entries are rejected
// at load time with a DecompressionError).
func NewPKGModule(layer FileLayer, path string, codecName string) *PKGModule {
	return &PKGModule{layer: layer, path: path, codecName: codecName}
}

func (m *PKGModule) Init() error {
	ref, err := m.layer.Open(m.path)
	if err != nil {
		return err
	}
	size, err := m.layer.Size(ref)
	if err != nil {
		m.layer.Close(ref)
		return err
	}
	archive, err := pkgfmt.Parse(fileLayerReaderAt{layer: m.layer, ref: ref}, size)
	if err != nil {
		m.layer.Close(ref)
		return &PackageFormatError{Message: err.Error(), Cause: err}
	}

	m.mu.Lock()
	m.ref = ref
	m.archive = archive
	m.mu.Unlock()
	return nil
}

func (m *PKGModule) Cleanup() error {
	m.mu.Lock()
	ref := m.ref
	m.ref = InvalidFileRef
	m.archive = nil
	m.mu.Unlock()
	if ref == InvalidFileRef {
		return nil
	}
	return m.layer.Close(ref)
}

func (m *PKGModule) FileInfo(intraPath Path) (int64, bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.archive == nil {
		return 0, false, false
	}
	entry, ok := m.archive.Lookup(lookupKey(intraPath))
	if !ok {
		return 0, false, false
	}
	return int64(entry.UncompressedSize), entry.Compressed, true
}

func (m *PKGModule) ListFiles() []Path {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.archive == nil {
		return nil
	}
	names := m.archive.Files()
	out := make([]Path, len(names))
	for i, n := range names {
		out[i] = Path(n)
	}
	return out
}

func (m *PKGModule) OpenReader(intraPath Path) (FileRef, int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.archive == nil {
		return InvalidFileRef, 0, 0, &NotFoundError{Path: intraPath}
	}
	entry, ok := m.archive.Lookup(lookupKey(intraPath))
	if !ok {
		return InvalidFileRef, 0, 0, &NotFoundError{Path: intraPath}
	}
	return m.ref, int64(entry.DataOffset), int64(entry.DataLength), nil
}

func (m *PKGModule) Decompressor(intraPath Path) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.archive == nil {
		return ""
	}
	entry, ok := m.archive.Lookup(lookupKey(intraPath))
	if !ok || !entry.Compressed {
		return ""
	}
	return m.codecName
}
