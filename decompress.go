package resvfs

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// DecompressStatus is returned by a Decompressor's Decompress step.
type DecompressStatus int

const (
	// DecompressDone means the call produced the final bytes of output.
	DecompressDone DecompressStatus = iota
	// DecompressContinue means more input is needed to produce more output.
	DecompressContinue
	// DecompressError means the codec rejected its input.
	DecompressError
)

// Decompressor is a per-package (or per-type) decompression callback set.
// State is opaque to the coordinator; only the codec implementation
// interprets it.
type Decompressor interface {
	// StackHint returns a suggested scratch buffer size, purely advisory.
	StackHint() int
	// Init returns fresh per-job state.
	Init() (state any, err error)
	// Decompress consumes in, writes produced bytes into out starting at
	// out[0], and returns how many it wrote along with whether it is done,
	// wants more input, or failed.
	Decompress(state any, in []byte, out []byte) (DecompressStatus, int, error)
	// Finish releases state. Always called exactly once per Init, whether
	// or not Decompress ever ran to Done.
	Finish(state any)
}

// DecompressorRegistry maps codec names (as returned by
// PackageModule.Decompressor) to their implementation.
type DecompressorRegistry struct {
	mu     sync.RWMutex
	byName map[string]Decompressor
}

func newDecompressorRegistry() *DecompressorRegistry {
	return &DecompressorRegistry{byName: make(map[string]Decompressor)}
}

// Register adds or replaces the decompressor known as name.
func (r *DecompressorRegistry) Register(name string, d Decompressor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = d
}

// Get looks up a previously registered decompressor.
func (r *DecompressorRegistry) Get(name string) (Decompressor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// workerPool is the bounded background-decompression pool. It is a pure
// admission-control gate: acquiring a slot with
// TryAcquire either succeeds (caller runs the job on a pool-owned
// goroutine) or fails immediately, in which case the caller must fall back
// to inline decompression without waiting for a slot to free up.
type workerPool struct {
	mu      sync.Mutex
	sem     *semaphore.Weighted
	size    int64
	enabled bool

	chunkSize int
	readAhead int
}

func newWorkerPool() *workerPool {
	return &workerPool{}
}

// configure reconfigures the pool's tunables: reconfiguring destroys and
// rebuilds the semaphore only when size changes, and never fails — a size
// of 0 leaves the pool permanently unable to admit work, which callers
// observe as "always falls back to inline".
func (p *workerPool) configure(enabled bool, chunkSize, readAhead, size int) {
	if chunkSize < 1 {
		chunkSize = 1
	}
	if readAhead < 1 {
		readAhead = 1
	}
	if size < 0 {
		size = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
	p.chunkSize = chunkSize
	p.readAhead = readAhead
	if int64(size) != p.size {
		p.size = int64(size)
		if size > 0 {
			p.sem = semaphore.NewWeighted(int64(size))
		} else {
			p.sem = nil
		}
	}
}

func (p *workerPool) snapshot() (enabled bool, chunkSize, readAhead int, sem *semaphore.Weighted) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled, p.chunkSize, p.readAhead, p.sem
}

// tryAcquire claims one worker slot without ever blocking, returning the
// semaphore to release it through and true on success, or (nil, false)
// immediately if background decompression is disabled or every worker is
// busy. A caller that acquires a slot must release(sem) exactly once, and
// should finish configuring the job's state (e.g. flipping its phase)
// before handing work to a new goroutine, so that goroutine never races
// the caller over shared state.
func (p *workerPool) tryAcquire() (sem *semaphore.Weighted, ok bool) {
	enabled, _, _, sem := p.snapshot()
	if !enabled || sem == nil {
		return nil, false
	}
	if !sem.TryAcquire(1) {
		return nil, false
	}
	return sem, true
}

func (p *workerPool) release(sem *semaphore.Weighted) {
	sem.Release(1)
}

// tryRunBackground attempts to admit fn onto a pool worker goroutine. It
// returns false immediately (never blocking) if background decompression
// is disabled or every worker is busy; the caller must then decompress
// inline.
func (p *workerPool) tryRunBackground(fn func()) bool {
	sem, ok := p.tryAcquire()
	if !ok {
		return false
	}
	go func() {
		defer p.release(sem)
		fn()
	}()
	return true
}
