package resvfs

// resourceRef names one slot, possibly in a manager other than the one
// doing the naming — links and weak links may point across managers.
type resourceRef struct {
	mgr *Manager
	id  ResourceID
}

func (r resourceRef) valid() bool { return r.mgr != nil && r.id != 0 }

func (r resourceRef) slotPtr() *slot {
	if !r.valid() {
		return nil
	}
	return r.mgr.slotAt(r.id)
}

func (r resourceRef) equal(o resourceRef) bool { return r.mgr == o.mgr && r.id == o.id }

func ringNext(r resourceRef, s *slot) resourceRef {
	mgr := s.nextMgr
	if mgr == nil {
		mgr = r.mgr
	}
	return resourceRef{mgr: mgr, id: s.next}
}

func ringPrev(r resourceRef, s *slot) resourceRef {
	mgr := s.prevMgr
	if mgr == nil {
		mgr = r.mgr
	}
	return resourceRef{mgr: mgr, id: s.prev}
}

// ringWalk traverses the circular list starting at start, calling visit for
// every node including start, until it returns false or the ring closes.
// Traversal is bounded by totalSlotBudget of the manager it started in
// (four times its slot array length), so a malformed ring (e.g. two nodes pointing at each other
// but not at the anchor) cannot spin forever — it instead reports
// corruption.
func ringWalk(start resourceRef, visit func(resourceRef, *slot) bool) error {
	if !start.valid() {
		return nil
	}
	limit := start.mgr.totalSlotBudget()
	cur := start
	for i := 0; ; i++ {
		if i > limit {
			return &CorruptedError{Message: "link ring traversal exceeded slot budget"}
		}
		s := cur.slotPtr()
		if s == nil {
			return &CorruptedError{Message: "link ring references a freed slot"}
		}
		if !visit(cur, s) {
			return nil
		}
		next := ringNext(cur, s)
		if next.equal(start) {
			return nil
		}
		cur = next
	}
}

// findAnchor walks the ring starting at ref and returns the anchor node
// (the one slot whose kind is not Link/WeakLink).
func findAnchor(ref resourceRef) (resourceRef, *slot, error) {
	var anchorRef resourceRef
	var anchorSlot *slot
	err := ringWalk(ref, func(r resourceRef, s *slot) bool {
		if !s.isLinkKind() {
			anchorRef, anchorSlot = r, s
			return false
		}
		return true
	})
	if err != nil {
		return resourceRef{}, nil, err
	}
	if anchorSlot == nil {
		return resourceRef{}, nil, &CorruptedError{Message: "link ring has no anchor"}
	}
	return anchorRef, anchorSlot, nil
}

// insertAfter splices newRef's slot into the ring immediately after
// afterRef, a single-element ring or otherwise.
func insertAfter(afterRef, newRef resourceRef) {
	after := afterRef.slotPtr()
	newSlot := newRef.slotPtr()

	oldNext := ringNext(afterRef, after)

	newSlot.prev, newSlot.prevMgr = afterRef.id, afterRef.mgr
	newSlot.next, newSlot.nextMgr = oldNext.id, oldNext.mgr

	after.next, after.nextMgr = newRef.id, newRef.mgr

	if oldNextSlot := oldNext.slotPtr(); oldNextSlot != nil {
		oldNextSlot.prev, oldNextSlot.prevMgr = newRef.id, newRef.mgr
	}
}

// removeFromRing splices ref out of its ring, returning the neighbor that
// should be considered for anchor promotion (ref's old "next"), or an
// invalid ref if ref was the only member.
func removeFromRing(ref resourceRef) resourceRef {
	s := ref.slotPtr()
	prevRef := ringPrev(ref, s)
	nextRef := ringNext(ref, s)
	if prevRef.equal(ref) && nextRef.equal(ref) {
		return resourceRef{}
	}
	if ps := prevRef.slotPtr(); ps != nil {
		ps.next, ps.nextMgr = nextRef.id, nextRef.mgr
	}
	if ns := nextRef.slotPtr(); ns != nil {
		ns.prev, ns.prevMgr = prevRef.id, prevRef.mgr
	}
	return nextRef
}

// promoteAnchor copies anchorSlot's payload into firstStrong (a Link node)
// and turns firstStrong into the new anchor: freeing the anchor promotes
// the first strong Link left in the ring, which adopts ownership of the
// payload.
func promoteAnchor(anchorSlot *slot, firstStrong *slot) {
	firstStrong.kind = anchorSlot.kind
	firstStrong.data = anchorSlot.data
	firstStrong.handle = anchorSlot.handle
	firstStrong.fileRef = anchorSlot.fileRef
	firstStrong.offset = anchorSlot.offset
	firstStrong.length = anchorSlot.length
	firstStrong.position = anchorSlot.position
	firstStrong.load = anchorSlot.load
	firstStrong.targetManager = nil
	firstStrong.targetID = 0
}

// markRingStale marks every WeakLink node in the ring (other than skip)
// stale and clears its payload view; called when the last strong reference
// in a ring is dropped.
func markRingStale(start resourceRef, skip resourceRef) {
	ringWalk(start, func(r resourceRef, s *slot) bool {
		if !r.equal(skip) && s.kind == slotWeakLink {
			s.stale = true
		}
		return true
	})
}

// countStrongLinks counts Link (non-weak) nodes in the ring other than
// exclude, returning the count and the first one found.
func countStrongLinks(start resourceRef, exclude resourceRef) (int, resourceRef) {
	count := 0
	var first resourceRef
	ringWalk(start, func(r resourceRef, s *slot) bool {
		if !r.equal(exclude) && s.kind == slotLink {
			count++
			if !first.valid() {
				first = r
			}
		}
		return true
	})
	return count, first
}
