package resvfs

import "sort"

// submitLoad resolves path, opens it for reading (through a package module
// or the host FileLayer), allocates a slot marked mid-load, and kicks off
// the first async read. The returned ResourceID is observable immediately;
// its payload only appears once a later Sync/Wait has driven the load to
// Ready.
func (m *Manager) submitLoad(path string, kind slotKind, finalize finalizeFunc) ResourceID {
	resolved, err := ResolvePath(m.registry, m.config.resourcePathPrefix, path)
	if err != nil {
		return 0
	}

	var ref FileRef
	var offset, rawLen, uncompressedSize int64
	var compressed bool
	var codecName string
	var layer FileLayer

	if resolved.Module != nil {
		ref, offset, rawLen, err = resolved.Module.OpenReader(resolved.IntraPath)
		if err != nil {
			return 0
		}
		size, comp, found := resolved.Module.FileInfo(resolved.IntraPath)
		if !found {
			return 0
		}
		uncompressedSize, compressed = size, comp
		if compressed {
			codecName = resolved.Module.Decompressor(resolved.IntraPath)
		}
		layer = m.packageLayer(resolved)
	} else {
		if m.fileLayer == nil {
			return 0
		}
		layer = m.fileLayer
		ref, err = openHostPath(layer, resolved.HostPath)
		if err != nil {
			return 0
		}
		rawLen, err = layer.Size(ref)
		if err != nil {
			return 0
		}
		uncompressedSize = rawLen
	}
	if layer == nil {
		return 0
	}

	m.mu.Lock()
	if !m.valid {
		m.mu.Unlock()
		return 0
	}
	id := m.alloc()
	s := m.slotAt(id)
	*s = slot{kind: kind, markCreated: m.mark, generation: s.generation}
	s.prev, s.next = id, id
	s.prevMgr, s.nextMgr = m, m
	mark := m.advanceMark()

	ls := newLoadState(m, id, resolved.effectivePath(), mark, finalize)
	ls.fileRef = ref
	ls.baseOff = offset
	ls.rawLen = rawLen
	ls.uncompressedSize = uncompressedSize
	ls.compressed = compressed
	ls.codecName = codecName
	ls.layer = layer

	if compressed {
		enabled, chunkSize, readAhead, sem := m.pool.snapshot()
		if enabled && sem != nil {
			ls.stream = &streamState{chunkSize: chunkSize, readAhead: readAhead}
		}
	}
	if ls.stream == nil {
		ls.buffer = make([]byte, rawLen)
	}

	s.load = ls
	s.markCreated = mark
	m.pendingLoads[id] = ls
	m.mu.Unlock()

	m.startRead(ls)
	return id
}

// packageLayer returns the FileLayer backing a package-routed load. PKG
// modules hold their own FileLayer (the handle the archive itself was
// opened through); any other PackageModule is read through the manager's
// own FileLayer, which is nil (and so fails the load in submitLoad) only
// when the manager was created without one.
func (m *Manager) packageLayer(r Resolved) FileLayer {
	if pm, ok := r.Module.(interface{ Layer() FileLayer }); ok {
		return pm.Layer()
	}
	return m.fileLayer
}

// Layer exposes the FileLayer a PKGModule reads through, so the owning
// manager's load pipeline can share its async read coordinator.
func (m *PKGModule) Layer() FileLayer { return m.layer }

func (m *Manager) startRead(ls *loadState) {
	ls.setPhase(phaseReadingRaw)
	if ls.stream == nil {
		ls.readTicket = m.coordinator.Submit(ls.layer, ls.fileRef, ls.buffer, ls.baseOff, len(ls.buffer), ls.cancel)
		return
	}

	if ls.rawLen == 0 {
		// Nothing to read or decompress: an empty compressed entry
		// finalizes with an empty payload.
		ls.buffer = nil
		ls.setPhase(phaseFinalizing)
		return
	}

	m.fillStreamPipeline(ls)
	if sem, ok := m.pool.tryAcquire(); ok {
		// Flip the phase here, synchronously, before the goroutine starts:
		// once it's running it owns ls.stream exclusively, and the pump
		// must never touch it concurrently.
		ls.setPhase(phaseDecompressingStream)
		go func() {
			defer m.pool.release(sem)
			m.runStreamDecompress(ls)
		}()
	}
}

// fillStreamPipeline tops up ls.stream.pending with chunk-sized reads until
// either readAhead reads are outstanding or the whole raw span has been
// submitted, so at most chunkSize*readAhead bytes of compressed input are
// ever buffered at once.
func (m *Manager) fillStreamPipeline(ls *loadState) {
	st := ls.stream
	for len(st.pending) < st.readAhead && st.rawPos < ls.rawLen {
		remaining := ls.rawLen - st.rawPos
		n := int64(st.chunkSize)
		if n > remaining {
			n = remaining
		}
		buf := make([]byte, n)
		offset := ls.baseOff + st.rawPos
		ticket := m.coordinator.Submit(ls.layer, ls.fileRef, buf, offset, int(n), ls.cancel)
		st.pending = append(st.pending, streamChunk{ticket: ticket, buf: buf, offset: offset})
		st.rawPos += n
	}
}

// pumpPending drains every non-blocking-ready completion across all
// pending loads without waiting on any of them.
func (m *Manager) pumpPending() {
	for _, ls := range m.snapshotPending() {
		m.driveLoad(ls, false)
	}
	m.reapTerminal()
}

// pumpBlocking is like pumpPending but, if nothing was immediately ready,
// blocks on one in-flight load to guarantee forward progress — the
// "cooperative yield" Wait is allowed to perform.
func (m *Manager) pumpBlocking() {
	pending := m.snapshotPending()
	progressed := false
	for _, ls := range pending {
		if m.driveLoad(ls, false) {
			progressed = true
		}
	}
	if !progressed {
		for _, ls := range pending {
			if !ls.isTerminal() {
				m.driveLoad(ls, true)
				break
			}
		}
	}
	m.reapTerminal()
}

// snapshotPending returns every pending load sorted by mark (oldest
// submission first), the order Sync/Wait finalize in.
func (m *Manager) snapshotPending() []*loadState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*loadState, 0, len(m.pendingLoads))
	for _, ls := range m.pendingLoads {
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].mark < out[j].mark })
	return out
}

func (m *Manager) reapTerminal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ls := range m.pendingLoads {
		if ls.isTerminal() {
			delete(m.pendingLoads, id)
		}
	}
}

// driveLoad advances ls by exactly one step if work is ready, returning
// whether it made progress. If block is true it waits for the current
// in-flight operation instead of merely polling it.
func (m *Manager) driveLoad(ls *loadState, block bool) bool {
	if ls.cancel.IsCancelled() {
		m.finishCancelled(ls)
		return true
	}

	switch ls.getPhase() {
	case phaseReadingRaw:
		return m.driveReadingRaw(ls, block)
	case phaseDecompressingInline:
		m.runInlineDecompress(ls)
		return true
	case phaseDecompressingStream:
		// A background worker owns this phase's progress; the pump has
		// nothing to do but wait for it to reach Finalizing/Failed.
		return false
	case phaseFinalizing:
		m.runFinalize(ls)
		return true
	default:
		return false
	}
}

// driveStreamChunk advances ls.stream by exactly one chunk: harvesting the
// oldest outstanding chunk read (blocking on it if block is true),
// decompressing it, and topping the pipeline back up. It is shared by the
// pump (non-blocking, one chunk per driveLoad call) and a background pool
// worker's own tight loop (blocking, draining a whole load in one goroutine).
func (m *Manager) driveStreamChunk(ls *loadState, block bool) bool {
	st := ls.stream
	if len(st.pending) == 0 {
		return false
	}
	front := st.pending[0]

	var n int
	var err error
	var done bool
	if block {
		n, err = m.coordinator.Wait(front.ticket)
		done = true
	} else {
		n, err, done = m.coordinator.Poll(front.ticket)
	}
	if !done {
		return false
	}

	if err != nil {
		if _, full := err.(errAsyncQueueFull); full {
			// Recoverable locally: resubmit this exact chunk under a fresh
			// ticket and keep it at the head of the pipeline.
			front.ticket = m.coordinator.Submit(ls.layer, ls.fileRef, front.buf, front.offset, len(front.buf), ls.cancel)
			st.pending[0] = front
			return true
		}
		if _, transient := err.(*IOError); transient && !ls.retried {
			ls.retried = true
			front.ticket = m.coordinator.Submit(ls.layer, ls.fileRef, front.buf, front.offset, len(front.buf), ls.cancel)
			st.pending[0] = front
			return true
		}
		ls.fail(err)
		return true
	}

	if !m.decompressStreamChunk(ls, front.buf[:n]) {
		return true // decompressStreamChunk already called ls.fail
	}
	st.pending = st.pending[1:]

	if st.codecDone {
		ls.finishStreamCodec()
		ls.buffer = st.codecOut
		ls.setPhase(phaseFinalizing)
		return true
	}

	m.fillStreamPipeline(ls)
	if st.rawPos >= ls.rawLen && len(st.pending) == 0 {
		ls.finishStreamCodec()
		ls.buffer = st.codecOut
		ls.setPhase(phaseFinalizing)
	}
	return true
}

// decompressStreamChunk feeds one completed raw chunk to the streaming
// codec, lazily initializing it on the first chunk and growing
// st.codecOut to hold the newly produced bytes. It returns false (having
// already failed ls) on any codec error.
func (m *Manager) decompressStreamChunk(ls *loadState, chunk []byte) bool {
	st := ls.stream
	if !st.codecInit {
		codec, ok := m.decompressors.Get(ls.codecName)
		if !ok {
			ls.fail(&DecompressionError{Message: "unknown codec: " + ls.codecName})
			return false
		}
		state, err := codec.Init()
		if err != nil {
			ls.fail(&DecompressionError{Message: "codec init failed", Cause: err})
			return false
		}
		st.codec = codec
		st.codecState = state
		st.codecInit = true
		st.codecOut = make([]byte, 0, ls.uncompressedSize)
	}

	scratch := make([]byte, len(st.codecOut), cap(st.codecOut)+len(chunk))
	copy(scratch, st.codecOut)
	status, n, err := st.codec.Decompress(st.codecState, chunk, scratch[len(st.codecOut):cap(scratch)])
	if err != nil || status == DecompressError {
		ls.fail(&DecompressionError{Message: "streaming decompress failed", Cause: err})
		return false
	}
	st.codecOut = scratch[:len(st.codecOut)+n]
	if status == DecompressDone {
		st.codecDone = true
	}
	return true
}

func (m *Manager) driveReadingRaw(ls *loadState, block bool) bool {
	if ls.stream != nil {
		return m.driveStreamChunk(ls, block)
	}

	var n int
	var err error
	var done bool
	if block {
		n, err = m.coordinator.Wait(ls.readTicket)
		done = true
	} else {
		n, err, done = m.coordinator.Poll(ls.readTicket)
	}
	if !done {
		return false
	}

	if err != nil {
		if _, full := err.(errAsyncQueueFull); full {
			// Recoverable locally: the coordinator's queue was momentarily
			// saturated. Stay in ReadingRaw and resubmit; a later sync/wait
			// drives the retry instead of failing the load.
			m.startRead(ls)
			return true
		}
		if _, transient := err.(*IOError); transient && !ls.retried {
			ls.retried = true
			m.startRead(ls)
			return true
		}
		ls.fail(err)
		return true
	}

	ls.buffer = ls.buffer[:n]
	if !ls.compressed {
		ls.setPhase(phaseFinalizing)
		return true
	}

	// Background decompression is unavailable for this load (disabled, or
	// the pool has no workers) — every compressed-but-not-streaming load
	// takes this path, decompressing the whole already-read buffer in one
	// inline call.
	ls.setPhase(phaseDecompressingInline)
	return true
}

func (m *Manager) runInlineDecompress(ls *loadState) {
	codec, ok := m.decompressors.Get(ls.codecName)
	if !ok {
		ls.fail(&DecompressionError{Message: "unknown codec: " + ls.codecName})
		return
	}
	state, err := codec.Init()
	if err != nil {
		ls.fail(&DecompressionError{Message: "codec init failed", Cause: err})
		return
	}
	out := make([]byte, ls.uncompressedSize)
	status, n, err := codec.Decompress(state, ls.buffer, out)
	codec.Finish(state)
	if err != nil {
		ls.fail(&DecompressionError{Message: "decompress failed", Cause: err})
		return
	}
	if status != DecompressDone {
		ls.fail(&DecompressionError{Message: "inline decompression did not complete in one call"})
		return
	}
	ls.buffer = out[:n]
	ls.setPhase(phaseFinalizing)
}

// runStreamDecompress drives ls's chunked read-and-decompress pipeline to
// completion on a dedicated worker-pool goroutine, blocking on each chunk
// read (coordinator.Wait) rather than polling — this is what actually
// exercises the "may re-enter ReadingRaw for the next chunk" transition:
// each loop iteration re-enters ReadingRaw's chunk step until the whole
// compressed span has been read and decompressed.
func (m *Manager) runStreamDecompress(ls *loadState) {
	for {
		if ls.cancel.IsCancelled() {
			ls.markCancelled()
			return
		}
		m.driveStreamChunk(ls, true)
		switch ls.getPhase() {
		case phaseFinalizing, phaseFailed, phaseCancelled:
			return
		}
	}
}

func (m *Manager) runFinalize(ls *loadState) {
	newContent, err := ls.finalize(ls.buffer)
	if err != nil {
		ls.fail(err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slotAt(ls.slotID)
	if s == nil || s.load != ls {
		// Slot was reused or freed out from under this load; drop the
		// result on the floor.
		ls.setPhase(phaseReady)
		return
	}
	newContent.markCreated = s.markCreated
	newContent.prev, newContent.next = s.prev, s.next
	newContent.prevMgr, newContent.nextMgr = s.prevMgr, s.nextMgr
	newContent.generation = s.generation
	*s = newContent
	s.load = nil
	ls.setPhase(phaseReady)
}

func (m *Manager) finishCancelled(ls *loadState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.slotAt(ls.slotID); s != nil && s.load == ls {
		s.load = nil
	}
	ls.markCancelled()
}
