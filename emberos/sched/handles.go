package sched

// maxSlots is bounded by the 16-bit slot field of ThreadID.
const maxSlots = 1 << 15

// handleTable owns every TCB. Slots are reused; generations keep stale handles
// from resolving.
type handleTable struct {
	slots []*Thread
	gens  []uint16
	free  []int
}

func newHandleTable(n int) handleTable {
	h := handleTable{
		slots: make([]*Thread, n),
		gens:  make([]uint16, n),
		free:  make([]int, 0, n),
	}
	for i := n - 1; i >= 0; i-- {
		h.free = append(h.free, i)
	}
	return h
}

// reserve takes a free slot. Freed slots are reused first.
func (h *handleTable) reserve() (int, bool) {
	if len(h.free) == 0 {
		return -1, false
	}
	slot := h.free[len(h.free)-1]
	h.free = h.free[:len(h.free)-1]
	return slot, true
}

// claim takes a specific slot. Used at boot for the fixed handles.
func (h *handleTable) claim(slot int) bool {
	for i, s := range h.free {
		if s == slot {
			h.free = append(h.free[:i], h.free[i+1:]...)
			return true
		}
	}
	return false
}

func (h *handleTable) bind(slot int, t *Thread) ThreadID {
	h.slots[slot] = t
	return makeThreadID(slot, h.gens[slot])
}

func (h *handleTable) get(id ThreadID) *Thread {
	if id < 0 {
		return nil
	}
	slot := id.slot()
	if slot >= len(h.slots) || h.gens[slot]&0x7FFF != id.gen() {
		return nil
	}
	return h.slots[slot]
}

func (h *handleTable) release(id ThreadID) {
	slot := id.slot()
	if h.get(id) == nil {
		return
	}
	h.slots[slot] = nil
	h.gens[slot]++
	h.free = append(h.free, slot)
}

// next returns the first bound slot after slot.
func (h *handleTable) next(slot int) *Thread {
	for i := slot + 1; i < len(h.slots); i++ {
		if t := h.slots[i]; t != nil {
			return t
		}
	}
	return nil
}
