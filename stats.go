package resvfs

// Stats is a point-in-time snapshot of a manager's slot table, a
// supplemented convenience for monitoring and tests.
type Stats struct {
	Capacity     int
	Used         int
	Free         int
	PendingLoads int
	CurrentMark  Mark
	ByKind       map[string]int
}

// Stats returns a snapshot of m's current slot usage.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{
		Capacity:     len(m.slots) - 1,
		Free:         len(m.freelist),
		PendingLoads: len(m.pendingLoads),
		CurrentMark:  m.mark,
		ByKind:       make(map[string]int),
	}
	for i := 1; i < len(m.slots); i++ {
		k := m.slots[i].kind
		if k == slotUnused {
			continue
		}
		st.Used++
		st.ByKind[slotKindName(k)]++
	}
	return st
}

func slotKindName(k slotKind) string {
	switch k {
	case slotData:
		return "Data"
	case slotTexture:
		return "Texture"
	case slotFont:
		return "Font"
	case slotSound:
		return "Sound"
	case slotStreamedSound:
		return "StreamedSound"
	case slotFile:
		return "File"
	case slotLink:
		return "Link"
	case slotWeakLink:
		return "WeakLink"
	default:
		return "Unused"
	}
}
