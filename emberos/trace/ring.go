// Package trace records scheduler events into a fixed-size ring that the
// machine writes from its trap path and the host drains at its own pace.
package trace

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"ember/emberos/sched"
)

// Kind classifies an Event.
type Kind uint8

const (
	KindSwitch Kind = iota + 1
	KindTick
	KindSignal
	KindHalt
)

func (k Kind) String() string {
	switch k {
	case KindSwitch:
		return "switch"
	case KindTick:
		return "tick"
	case KindSignal:
		return "signal"
	case KindHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// Event is one trace record. From and To are the same thread for events that
// do not change the running thread.
type Event struct {
	Kind  Kind
	Tick  uint64
	Cycle uint64
	From  sched.ThreadID
	To    sched.ThreadID
	// Arg is kind specific: the signal number for KindSignal.
	Arg uint32
}

func (e Event) String() string {
	return fmt.Sprintf("%d/%d %s %d->%d", e.Tick, e.Cycle, e.Kind, e.From, e.To)
}

// Slots is the ring capacity.
const Slots = 256

type slot struct {
	// seq is stored relative to the slot index so the zero value is an empty
	// ring: seq+index == head means free, == head+1 means published.
	seq atomic.Uint32
	ev  Event
}

// Ring is a fixed-size multi-producer, single-consumer queue of events.
// No allocations; full rings drop and count.
type Ring struct {
	_       [0]func() // prevent accidental copying.
	head    atomic.Uint32
	tail    atomic.Uint32
	dropped atomic.Uint64
	slots   [Slots]slot
}

// TrySend enqueues ev, returning false if the ring is full.
func (r *Ring) TrySend(ev Event) bool {
	for {
		head := r.head.Load()
		idx := head % Slots
		s := &r.slots[idx]
		seq := s.seq.Load() + idx
		switch diff := int32(seq - head); {
		case diff == 0:
			if !r.head.CompareAndSwap(head, head+1) {
				continue
			}
			s.ev = ev
			s.seq.Store(head + 1 - idx)
			return true
		case diff < 0:
			r.dropped.Add(1)
			return false
		}
		// Another producer moved head; reload.
	}
}

// Send enqueues ev, blocking until it succeeds.
func (r *Ring) Send(ev Event) {
	for !r.TrySend(ev) {
		runtime.Gosched()
	}
}

// TryRecv dequeues one event, returning false if the ring is empty. Only one
// goroutine may receive.
func (r *Ring) TryRecv() (Event, bool) {
	tail := r.tail.Load()
	idx := tail % Slots
	s := &r.slots[idx]
	if s.seq.Load()+idx != tail+1 {
		return Event{}, false
	}
	ev := s.ev
	s.seq.Store(tail + Slots - idx)
	r.tail.Store(tail + 1)
	return ev, true
}

// Recv blocks until one event is available.
func (r *Ring) Recv() Event {
	for {
		ev, ok := r.TryRecv()
		if ok {
			return ev
		}
		runtime.Gosched()
	}
}

// Drain receives every queued event, calling fn for each, and returns how many
// it handled.
func (r *Ring) Drain(fn func(Event)) int {
	n := 0
	for {
		ev, ok := r.TryRecv()
		if !ok {
			return n
		}
		fn(ev)
		n++
	}
}

// Dropped returns how many TrySend calls found the ring full.
func (r *Ring) Dropped() uint64 { return r.dropped.Load() }
