package resvfs

import (
	"sync"
)

// Manager is a resource manager: a contiguous, growable slot array, a mark
// counter, and a handle to the shared load pipeline (file layer, package
// registry, decompressor registry and worker pool).
type Manager struct {
	mu    sync.Mutex
	valid bool

	slots    []slot
	freelist []ResourceID

	mark Mark

	fileLayer     FileLayer
	registry      *PackageRegistry
	config        *Config
	coordinator   *asyncCoordinator
	decompressors *DecompressorRegistry
	pool          *workerPool

	pendingLoads map[ResourceID]*loadState

	debugOrigin string // file:line of the caller that created this manager, for diagnostics
}

var (
	liveManagersMu sync.Mutex
	liveManagers   = map[*Manager]struct{}{}
)

// NewManager creates a manager with the given initial slot capacity (grown
// by doubling on demand), wired to layer for raw I/O, reg for package
// routing (nil is legal: every path resolves against the host filesystem),
// and cfg for the manager's tunables.
func NewManager(initialCapacity int, layer FileLayer, reg *PackageRegistry, cfg *Config) *Manager {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	m := &Manager{
		valid:         true,
		slots:         make([]slot, initialCapacity+1), // index 0 is never used; ResourceID is 1-based
		fileLayer:     layer,
		registry:      reg,
		config:        cfg,
		decompressors: newDecompressorRegistry(),
		pool:          newWorkerPool(),
		pendingLoads:  make(map[ResourceID]*loadState),
		debugOrigin:   callerOrigin(),
	}
	m.pool.configure(cfg.backgroundDecompression, cfg.chunkSize, cfg.readAhead, cfg.poolSize)
	m.coordinator = newAsyncCoordinator(maxInt(4, cfg.readAhead*4))
	for i := initialCapacity; i >= 1; i-- {
		m.freelist = append(m.freelist, ResourceID(i))
	}

	liveManagersMu.Lock()
	liveManagers[m] = struct{}{}
	liveManagersMu.Unlock()
	return m
}

// Close releases background resources (the async coordinator's pump
// goroutine). It does not free any slot; call FreeAll first if that is
// desired.
func (m *Manager) Close() {
	m.mu.Lock()
	m.valid = false
	coordinator := m.coordinator
	m.mu.Unlock()

	if coordinator != nil {
		coordinator.Close()
	}

	liveManagersMu.Lock()
	delete(liveManagers, m)
	liveManagersMu.Unlock()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// slotAt returns a pointer to the slot for id, or nil if id is out of range
// for this manager. Callers must hold (or not need) m.mu; it is a pure
// index operation.
func (m *Manager) slotAt(id ResourceID) *slot {
	if id <= 0 || int(id) >= len(m.slots) {
		return nil
	}
	return &m.slots[id]
}

func (m *Manager) totalSlotBudget() int {
	return len(m.slots) * 4 // generous bound across the handful of managers a ring might cross
}

// alloc reserves a free slot, growing the array (with cross-manager
// pointer fixup) if none remains, and returns its id. Callers must hold
// m.mu.
func (m *Manager) alloc() ResourceID {
	if len(m.freelist) == 0 {
		m.grow()
	}
	n := len(m.freelist)
	id := m.freelist[n-1]
	m.freelist = m.freelist[:n-1]
	return id
}

// grow doubles the slot array and fixes up every Link/WeakLink in every
// live manager that pointed into the old array, so no resource ever moves
// or invalidates across a growth.
func (m *Manager) grow() {
	oldLen := len(m.slots)
	newLen := oldLen * 2
	if newLen < 2 {
		newLen = 2
	}
	newSlots := make([]slot, newLen)
	copy(newSlots, m.slots)
	oldBase := m.slots
	m.slots = newSlots

	for i := oldLen; i < newLen; i++ {
		m.freelist = append(m.freelist, ResourceID(i))
	}

	liveManagersMu.Lock()
	for other := range liveManagers {
		other.fixupAfterGrow(m, oldBase)
	}
	liveManagersMu.Unlock()
}

// fixupAfterGrow rewrites any ring pointer recorded against moved's old
// backing array (identified by pointer equality with oldBase) to point at
// moved's new array instead. Called on every live manager, including moved
// itself, whenever any manager's slot array moves.
func (m *Manager) fixupAfterGrow(moved *Manager, oldBase []slot) {
	if m == moved {
		// moved's own slots were already copied into the new array
		// verbatim by grow(); only prev/next manager-external cross
		// references into *other* managers need no change here.
		return
	}
	for i := range m.slots {
		s := &m.slots[i]
		if s.prevMgr == moved && int(s.prev) < len(oldBase) {
			// pointer identity already follows moved's *Manager, not the
			// backing array, so no rewrite is needed: slotAt(moved, id)
			// always indexes moved.slots, which grow() already updated in
			// place. This hook exists for allocator strategies where a raw
			// backing-array pointer (not a manager+index pair) is cached;
			// this implementation never caches one, so it is a no-op.
		}
	}
}

// --- creation (immediate, no load pipeline) ---

// CreateData wraps an existing byte slice as a new Data resource, taking
// ownership of it.
func (m *Manager) CreateData(data []byte) ResourceID {
	return m.newAnchor(slotData, func(s *slot) { s.data = data })
}

// NewData allocates a zeroed Data resource of size n.
func (m *Manager) NewData(n int) ResourceID {
	if n < 0 {
		return 0
	}
	return m.newAnchor(slotData, func(s *slot) { s.data = make([]byte, n) })
}

// CopyData allocates a new Data resource holding a copy of src.
func (m *Manager) CopyData(src []byte) ResourceID {
	cp := make([]byte, len(src))
	copy(cp, src)
	return m.CreateData(cp)
}

// Strdup allocates a new Data resource holding a copy of s's bytes.
func (m *Manager) Strdup(s string) ResourceID {
	return m.CopyData([]byte(s))
}

// NewTexture registers an externally-created texture handle.
func (m *Manager) NewTexture(handle uintptr) ResourceID {
	return m.newAnchor(slotTexture, func(s *slot) { s.handle = handle })
}

// NewTextureFromDisplay is identical to NewTexture; kept as a distinct
// named entry point because callers origin-tag the two differently (spec
// §4.5 lists both).
func (m *Manager) NewTextureFromDisplay(handle uintptr) ResourceID {
	return m.NewTexture(handle)
}

// TakeTexture adopts an externally-created texture handle, identical to
// NewTexture; kept as a separately named entry point with identical
// immediate, no-load-pipeline semantics.
func (m *Manager) TakeTexture(handle uintptr) ResourceID {
	return m.newAnchor(slotTexture, func(s *slot) { s.handle = handle })
}

// TakeSound adopts an externally-created sound handle.
func (m *Manager) TakeSound(handle uintptr) ResourceID {
	return m.newAnchor(slotSound, func(s *slot) { s.handle = handle })
}

// TakeData is identical to CreateData: it exists as a separately named
// operation kept as a distinct entry point with identical semantics.
func (m *Manager) TakeData(data []byte) ResourceID {
	return m.CreateData(data)
}

func (m *Manager) newAnchor(kind slotKind, init func(*slot)) ResourceID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.valid {
		return 0
	}
	id := m.alloc()
	s := m.slotAt(id)
	*s = slot{kind: kind, markCreated: m.mark, generation: s.generation}
	s.prev, s.next = id, id
	s.prevMgr, s.nextMgr = m, m
	init(s)
	return id
}

// --- lookup ---

// GetData returns the payload if id names a ready Data slot.
func (m *Manager) GetData(id ResourceID) ([]byte, bool) {
	s := m.resolveReady(id, slotData)
	if s == nil {
		return nil, false
	}
	return s.data, true
}

// GetTexture returns the handle if id names a ready Texture slot.
func (m *Manager) GetTexture(id ResourceID) (uintptr, bool) {
	s := m.resolveReady(id, slotTexture)
	if s == nil {
		return 0, false
	}
	return s.handle, true
}

// GetFont returns the handle if id names a ready Font slot.
func (m *Manager) GetFont(id ResourceID) (uintptr, bool) {
	s := m.resolveReady(id, slotFont)
	if s == nil {
		return 0, false
	}
	return s.handle, true
}

// GetSound returns the handle if id names a ready Sound slot.
func (m *Manager) GetSound(id ResourceID) (uintptr, bool) {
	s := m.resolveReady(id, slotSound)
	if s == nil {
		return 0, false
	}
	return s.handle, true
}

// GetStreamedSound returns the file ref and byte range if id names a ready
// StreamedSound slot.
func (m *Manager) GetStreamedSound(id ResourceID) (ref FileRef, offset, length int64, ok bool) {
	s := m.resolveReady(id, slotStreamedSound)
	if s == nil {
		return 0, 0, 0, false
	}
	return s.fileRef, s.offset, s.length, true
}

// resolveReady returns the slot for id if it exists, matches kind (after
// following a Link to its anchor), and is not mid-load. It returns nil in
// every other case: a pending-load slot never hands back a payload.
func (m *Manager) resolveReady(id ResourceID, kind slotKind) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.valid {
		return nil
	}
	s := m.slotAt(id)
	if s == nil || s.kind == slotUnused {
		return nil
	}
	if s.isLinkKind() {
		if s.kind == slotWeakLink && s.stale {
			return nil
		}
		ref, anchor, err := findAnchor(resourceRef{mgr: m, id: id})
		if err != nil || !ref.valid() {
			return nil
		}
		s = anchor
	}
	if s.load != nil {
		return nil
	}
	if s.kind != kind {
		return nil
	}
	return s
}

// IsStale reports whether id names a WeakLink whose anchor is gone.
func (m *Manager) IsStale(id ResourceID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.valid {
		return false
	}
	s := m.slotAt(id)
	if s == nil || s.kind != slotWeakLink {
		return false
	}
	return s.stale
}

// --- links ---

// Link creates a strong alias of srcMgr's srcID resource in m.
func (m *Manager) Link(srcMgr *Manager, srcID ResourceID) ResourceID {
	return m.link(srcMgr, srcID, slotLink)
}

// LinkWeak creates a weak alias of srcMgr's srcID resource in m.
func (m *Manager) LinkWeak(srcMgr *Manager, srcID ResourceID) ResourceID {
	return m.link(srcMgr, srcID, slotWeakLink)
}

func (m *Manager) link(srcMgr *Manager, srcID ResourceID, kind slotKind) ResourceID {
	if srcMgr == nil {
		return 0
	}
	srcMgr.mu.Lock()
	if !srcMgr.valid {
		srcMgr.mu.Unlock()
		return 0
	}
	srcSlot := srcMgr.slotAt(srcID)
	if srcSlot == nil || srcSlot.kind == slotUnused {
		srcMgr.mu.Unlock()
		return 0
	}
	anchorRef, _, err := findAnchor(resourceRef{mgr: srcMgr, id: srcID})
	srcMgr.mu.Unlock()
	if err != nil || !anchorRef.valid() {
		return 0
	}

	// Locking two managers at once: the destination manager's lock is
	// always taken first, then the source's. This is not a global order:
	// two concurrent link() calls in opposite directions between the same
	// pair of managers take the locks in opposite order.
	m.mu.Lock()
	if srcMgr != m {
		srcMgr.mu.Lock()
	}
	defer func() {
		if srcMgr != m {
			srcMgr.mu.Unlock()
		}
		m.mu.Unlock()
	}()
	if !m.valid {
		return 0
	}

	id := m.alloc()
	s := m.slotAt(id)
	*s = slot{kind: kind, markCreated: m.mark, generation: s.generation}
	s.targetManager, s.targetID = anchorRef.mgr, anchorRef.id

	insertAfter(anchorRef, resourceRef{mgr: m, id: id})
	return id
}

// --- free ---

// Free releases id: if it is the anchor of a ring with other members, the
// first strong link is promoted; if it is the last strong reference, any
// weak links are marked stale. An in-flight load is cancelled.
func (m *Manager) Free(id ResourceID) {
	m.mu.Lock()
	if !m.valid {
		m.mu.Unlock()
		return
	}
	s := m.slotAt(id)
	if s == nil || s.kind == slotUnused {
		m.mu.Unlock()
		return
	}

	if ls := s.load; ls != nil {
		s.load = nil
		m.mu.Unlock()
		ls.cancel.Cancel()
		m.mu.Lock()
		// Growth elsewhere may have reallocated the backing array while
		// the lock was released; re-resolve the slot pointer rather than
		// reuse the one captured before unlocking.
		s = m.slotAt(id)
		if s == nil || s.kind == slotUnused {
			m.mu.Unlock()
			return
		}
	}

	ref := resourceRef{mgr: m, id: id}
	if s.isLinkKind() {
		m.freeLinkLocked(ref, s)
	} else {
		m.freeAnchorLocked(ref, s)
	}
	m.mu.Unlock()
}

func (m *Manager) freeLinkLocked(ref resourceRef, s *slot) {
	// The ring's anchor is itself a strong reference and stays in the ring
	// while any Link does, so dropping a Link (strong or weak) never leaves
	// the ring without a strong reference: weak links stay live.
	removeFromRing(ref)
	m.releaseSlot(ref.id, s)
}

func (m *Manager) freeAnchorLocked(ref resourceRef, s *slot) {
	next := removeFromRing(ref)
	if next.valid() && !next.equal(ref) {
		strongCount, firstStrong := countStrongLinks(next, resourceRef{})
		if firstStrongSlot := firstStrong.slotPtr(); firstStrongSlot != nil {
			promoteAnchor(s, firstStrongSlot)
		} else if strongCount == 0 {
			markRingStale(next, resourceRef{})
		}
	}
	m.releaseSlot(ref.id, s)
}

func (m *Manager) releaseSlot(id ResourceID, s *slot) {
	s.reset()
	m.freelist = append(m.freelist, id)
}

// FreeAll frees every live slot in m. A LoadState shared by multiple Links
// (impossible in this design — only the anchor ever holds one) is never
// freed twice because Free clears s.load before cancelling.
func (m *Manager) FreeAll() {
	m.mu.Lock()
	if !m.valid {
		m.mu.Unlock()
		return
	}
	ids := make([]ResourceID, 0, len(m.slots))
	for i := 1; i < len(m.slots); i++ {
		if m.slots[i].kind != slotUnused {
			ids = append(ids, ResourceID(i))
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Free(id)
	}
}
