package tracebuf

import "sync"

// Bank interns the often-repeated kernel names referenced by trace records,
// giving each unique name a stable numeric identifier. Safe for concurrent
// insertion and lookup.
type Bank struct {
	mu    sync.RWMutex
	names []string
	ids   map[string]uint32
}

func NewBank() *Bank {
	return &Bank{
		ids: make(map[string]uint32),
	}
}

// ID returns the identifier for name, interning it on first use.
func (b *Bank) ID(name string) uint32 {
	b.mu.RLock()
	id, ok := b.ids[name]
	b.mu.RUnlock()
	if ok {
		return id
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.ids[name]; ok {
		return id
	}
	id = uint32(len(b.names))
	b.names = append(b.names, name)
	b.ids[name] = id
	return id
}

// Name returns the string for a previously issued identifier.
func (b *Bank) Name(id uint32) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if int(id) >= len(b.names) {
		return "", false
	}
	return b.names[id], true
}

// Names returns a copy of the interned names indexed by identifier.
func (b *Bank) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}
