package adapter

// MemorySandboxBackend wraps a DirectBackend attached to a memory-sandbox
// instrumentation runtime (the "memory-instrumented" backend): the
// runtime provides effectively unlimited software watchpoints at a
// performance cost, so this backend reports an inflated capacity while
// delegating every other operation unchanged.
type MemorySandboxBackend struct {
	*DirectBackend
	inflatedCapacity int
}

// NewMemorySandboxBackend wraps inner, reporting inflatedCapacity from
// WatchpointCapacity regardless of inner's own hardware limit.
func NewMemorySandboxBackend(inner *DirectBackend, inflatedCapacity int) *MemorySandboxBackend {
	return &MemorySandboxBackend{DirectBackend: inner, inflatedCapacity: inflatedCapacity}
}

func (m *MemorySandboxBackend) WatchpointCapacity() int {
	return m.inflatedCapacity
}
