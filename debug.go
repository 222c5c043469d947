package resvfs

import (
	"fmt"
	"runtime"
)

// callerOrigin captures the file:line of NewManager's caller, recorded on
// the manager for later diagnostics.
func callerOrigin() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// DebugOrigin returns where this manager was created.
func (m *Manager) DebugOrigin() string {
	return m.debugOrigin
}
