package rr

import (
	"sync"
)

// Opaque handles. The zero value is the null handle.
type (
	Context       uint64
	DevicePtr     uint64
	Event         uint64
	CommandStream uint64
)

type handleKind uint8

const (
	kindContext handleKind = iota + 1
	kindDevicePtr
	kindEvent
	kindCommandStream
)

func (k handleKind) String() string {
	switch k {
	case kindContext:
		return "context"
	case kindDevicePtr:
		return "device pointer"
	case kindEvent:
		return "event"
	case kindCommandStream:
		return "command stream"
	}
	return "handle"
}

type slot struct {
	gen   uint32
	kind  handleKind
	owner uint64
	value interface{}
}

// handleTable issues generation-checked handles. A handle packs the slot
// generation in the upper 32 bits and the slot index plus one in the lower
// 32 bits. Freeing a slot bumps its generation so stale handles fail to
// resolve.
type handleTable struct {
	mu    sync.Mutex
	slots []slot
	free  []uint32
}

var handles = &handleTable{}

func (t *handleTable) insert(kind handleKind, owner uint64, value interface{}) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var index uint32
	if n := len(t.free); n > 0 {
		index = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot{gen: 1})
		index = uint32(len(t.slots) - 1)
	}

	s := &t.slots[index]
	s.kind = kind
	s.owner = owner
	s.value = value
	return uint64(s.gen)<<32 | uint64(index+1)
}

func (t *handleTable) slotFor(h uint64) (*slot, bool) {
	index := uint32(h) - 1
	gen := uint32(h >> 32)
	if uint32(h) == 0 || int(index) >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[index]
	if s.gen != gen || s.kind == 0 {
		return nil, false
	}
	return s, true
}

// Resolve a handle of the given kind owned by owner.
func (t *handleTable) get(h uint64, kind handleKind, owner uint64) (interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slotFor(h)
	if !ok || s.kind != kind {
		return nil, invalidf("invalid %s handle %#x", kind, h)
	}
	if s.owner != owner {
		return nil, invalidf("%s handle %#x belongs to another context", kind, h)
	}
	return s.value, nil
}

// Remove a handle and return its value.
func (t *handleTable) remove(h uint64, kind handleKind, owner uint64) (interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slotFor(h)
	if !ok || s.kind != kind {
		return nil, invalidf("invalid %s handle %#x", kind, h)
	}
	if s.owner != owner {
		return nil, invalidf("%s handle %#x belongs to another context", kind, h)
	}

	value := s.value
	*s = slot{gen: s.gen + 1}
	t.free = append(t.free, uint32(h)-1)
	return value, nil
}

type ownedHandle struct {
	handle uint64
	kind   handleKind
	value  interface{}
}

// Remove every handle owned by owner.
func (t *handleTable) removeOwned(owner uint64) []ownedHandle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var owned []ownedHandle
	for index := range t.slots {
		s := &t.slots[index]
		if s.kind == 0 || s.owner != owner {
			continue
		}
		owned = append(owned, ownedHandle{
			handle: uint64(s.gen)<<32 | uint64(index+1),
			kind:   s.kind,
			value:  s.value,
		})
		*s = slot{gen: s.gen + 1}
		t.free = append(t.free, uint32(index))
	}
	return owned
}
