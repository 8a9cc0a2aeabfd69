package sched

// bootSlot names an object that exists before the first Spawn.
type bootSlot uint8

const (
	slotIdle bootSlot = iota
	slotReaper
	bootSlots
)

func (s bootSlot) String() string {
	switch s {
	case slotIdle:
		return "idle"
	case slotReaper:
		return "reaper"
	default:
		return "unknown"
	}
}

// bootArena holds the boot threads. Each named slot is handed out once and
// its handle-table slot index equals the arena slot.
type bootArena struct {
	threads [bootSlots]Thread
	taken   [bootSlots]bool
}

func (a *bootArena) take(slot bootSlot) (*Thread, bool) {
	if slot >= bootSlots || a.taken[slot] {
		return nil, false
	}
	a.taken[slot] = true
	return &a.threads[slot], true
}
