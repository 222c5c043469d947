package resvfs

// ResourceID is a 1-based, stable index into a manager's slot array. 0 is
// never a valid id.
type ResourceID int32

// slotKind tags the variant currently occupying a slot.
type slotKind uint8

const (
	slotUnused slotKind = iota
	slotData
	slotTexture
	slotFont
	slotSound
	slotStreamedSound
	slotFile
	slotLink
	slotWeakLink
)

// slot is the tagged-variant record backing one ResourceID. Rather than a
// discriminated union (Go has none), every variant's fields live side by
// side and slotKind says which are meaningful.
type slot struct {
	kind        slotKind
	markCreated Mark
	load        *loadState // non-nil while a load is in flight for this slot

	// Data
	data []byte

	// Texture / Font / Sound: opaque handles owned by an external collaborator.
	handle uintptr

	// StreamedSound / File
	fileRef  FileRef
	offset   int64
	length   int64
	position int64 // File only: current read cursor

	// Link / WeakLink: targetManager/targetID name the anchor this link is
	// an alias of. prev/next (with prevMgr/nextMgr, nil meaning "same
	// manager as this slot") are the ring's doubly-linked-list pointers,
	// which may cross manager boundaries when link()/link_weak() targets a
	// resource owned by a different manager.
	targetManager    *Manager
	targetID         ResourceID
	prev, next       ResourceID
	prevMgr, nextMgr *Manager
	stale            bool // WeakLink only

	generation uint32 // bumped on every reuse, guards against stale external ids
}

func (s *slot) isLinkKind() bool {
	return s.kind == slotLink || s.kind == slotWeakLink
}

func (s *slot) reset() {
	*s = slot{kind: slotUnused, generation: s.generation + 1}
}
