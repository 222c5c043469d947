package resvfs

// DecodeFunc is the opaque, type-specific finalizer supplied by the calling
// subsystem. It turns finalized (decompressed, if applicable) bytes into a
// handle owned by the graphics/audio/font subsystem; the core never
// interprets the bytes itself.
type DecodeFunc func(raw []byte) (uintptr, error)

// LoadData schedules an async load of path as a Data resource: no decode
// callback, the finalized bytes become the slot's payload directly.
func (m *Manager) LoadData(path string) ResourceID {
	return m.submitLoad(path, slotData, func(raw []byte) (slot, error) {
		return slot{kind: slotData, data: raw}, nil
	})
}

// LoadTexture schedules an async load of path, decoded by decode into a
// texture handle.
func (m *Manager) LoadTexture(path string, decode DecodeFunc) ResourceID {
	return m.submitLoad(path, slotTexture, decodeFinalizer(slotTexture, decode))
}

// LoadBitmapFont schedules an async load of path, decoded by decode into a
// font handle.
func (m *Manager) LoadBitmapFont(path string, decode DecodeFunc) ResourceID {
	return m.submitLoad(path, slotFont, decodeFinalizer(slotFont, decode))
}

// LoadFreetypeFont schedules an async load of path, decoded by decode into
// a font handle.
func (m *Manager) LoadFreetypeFont(path string, decode DecodeFunc) ResourceID {
	return m.submitLoad(path, slotFont, decodeFinalizer(slotFont, decode))
}

// LoadSound schedules an async load of path, decoded by decode into a fully
// in-memory sound handle (as opposed to OpenSound's streamed variant).
func (m *Manager) LoadSound(path string, decode DecodeFunc) ResourceID {
	return m.submitLoad(path, slotSound, decodeFinalizer(slotSound, decode))
}

func decodeFinalizer(kind slotKind, decode DecodeFunc) finalizeFunc {
	return func(raw []byte) (slot, error) {
		handle, err := decode(raw)
		if err != nil {
			return slot{}, &DecodeError{Message: "decode failed", Cause: err}
		}
		return slot{kind: kind, handle: handle}, nil
	}
}

// OpenSound resolves path and creates a StreamedSound resource referencing
// the file's full byte range, without reading any bytes up front — the
// streamed-audio collaborator reads on demand.
func (m *Manager) OpenSound(path string) ResourceID {
	return m.openRange(path, slotStreamedSound)
}

// OpenSoundFromFile creates a StreamedSound resource aliasing an already
// open File resource's byte range.
func (m *Manager) OpenSoundFromFile(fileID ResourceID) ResourceID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.valid {
		return 0
	}
	s := m.slotAt(fileID)
	if s == nil || s.kind != slotFile {
		return 0
	}
	id := m.alloc()
	ns := m.slotAt(id)
	*ns = slot{kind: slotStreamedSound, markCreated: m.mark, fileRef: s.fileRef, offset: s.offset, length: s.length}
	ns.prev, ns.next = id, id
	ns.prevMgr, ns.nextMgr = m, m
	return id
}

// OpenFile resolves path and returns a File resource with a manager-held
// read cursor.
func (m *Manager) OpenFile(path string) ResourceID {
	return m.openRange(path, slotFile)
}

func (m *Manager) openRange(path string, kind slotKind) ResourceID {
	resolved, err := ResolvePath(m.registry, m.config.resourcePathPrefix, path)
	if err != nil {
		return 0
	}

	var ref FileRef
	var offset, length int64
	var layer FileLayer

	if resolved.Module != nil {
		if kind == slotFile {
			if _, compressed, found := resolved.Module.FileInfo(resolved.IntraPath); found && compressed {
				return 0
			}
		}
		ref, offset, length, err = resolved.Module.OpenReader(resolved.IntraPath)
		if err != nil {
			return 0
		}
	} else {
		if m.fileLayer == nil {
			return 0
		}
		ref, err = openHostPath(m.fileLayer, resolved.HostPath)
		if err != nil {
			return 0
		}
		length, err = m.fileLayer.Size(ref)
		if err != nil {
			return 0
		}
		layer = m.fileLayer
	}
	_ = layer

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.valid {
		return 0
	}
	id := m.alloc()
	s := m.slotAt(id)
	*s = slot{kind: kind, markCreated: m.mark, fileRef: ref, offset: offset, length: length}
	s.prev, s.next = id, id
	s.prevMgr, s.nextMgr = m, m
	return id
}

// ReadFileAt reads up to len(buf) bytes at position pos (relative to the
// File resource's own range) without moving its cursor. Reads past the end
// of the range return a short count, never an error.
func (m *Manager) ReadFileAt(id ResourceID, buf []byte, pos int64) (int, error) {
	m.mu.Lock()
	if !m.valid {
		m.mu.Unlock()
		return 0, &InvalidArgumentError{Message: "manager is not valid"}
	}
	s := m.slotAt(id)
	if s == nil || s.kind != slotFile {
		m.mu.Unlock()
		return 0, &InvalidArgumentError{Message: "not a file resource"}
	}
	ref, base, length, layer := s.fileRef, s.offset, s.length, m.fileLayer
	m.mu.Unlock()

	if pos < 0 {
		pos = 0
	}
	if pos > length {
		pos = length
	}
	n := len(buf)
	if int64(n) > length-pos {
		n = int(length - pos)
	}
	if n <= 0 || layer == nil {
		return 0, nil
	}

	ticket, err := layer.ReadAsync(ref, buf, base+pos, n)
	if err != nil {
		return 0, &IOError{Cause: err}
	}
	got, err := layer.WaitAsync(ticket)
	if err != nil {
		return got, &IOError{Cause: err}
	}
	return got, nil
}

// ReadFile reads up to len(buf) bytes starting at the File resource's
// current cursor and advances it; positions clamp to [0, length].
func (m *Manager) ReadFile(id ResourceID, buf []byte) (int, error) {
	m.mu.Lock()
	s := m.slotAt(id)
	if s == nil || s.kind != slotFile {
		m.mu.Unlock()
		return 0, &InvalidArgumentError{Message: "not a file resource"}
	}
	pos := s.position
	m.mu.Unlock()

	n, err := m.ReadFileAt(id, buf, pos)

	m.mu.Lock()
	if s2 := m.slotAt(id); s2 != nil && s2.kind == slotFile {
		s2.position = clampInt64(pos+int64(n), 0, s2.length)
	}
	m.mu.Unlock()
	return n, err
}

// SeekFile clamps and sets the File resource's cursor, returning the
// resulting position. An out-of-range seek clamps rather than erroring.
func (m *Manager) SeekFile(id ResourceID, pos int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.valid {
		return 0
	}
	s := m.slotAt(id)
	if s == nil || s.kind != slotFile {
		return 0
	}
	s.position = clampInt64(pos, 0, s.length)
	return s.position
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
