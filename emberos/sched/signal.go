package sched

// Signal is a POSIX-style signal number, 1..31.
type Signal uint8

const (
	SigHup  Signal = 1
	SigInt  Signal = 2
	SigKill Signal = 9
	SigUsr1 Signal = 10
	SigUsr2 Signal = 12
	SigAlrm Signal = 14
	SigTerm Signal = 15
	SigChld Signal = 17
	SigCont Signal = 18
	SigStop Signal = 19

	maxSignal Signal = 31
)

func (s Signal) valid() bool { return s > 0 && s <= maxSignal }

// SignalSet is a bitmask of signals; bit n-1 is signal n.
type SignalSet uint32

// unblockable signals can never be masked.
const unblockable = SignalSet(1<<(SigKill-1) | 1<<(SigStop-1))

// Mask returns the set holding only sig.
func Mask(sig Signal) SignalSet {
	if !sig.valid() {
		return 0
	}
	return 1 << (sig - 1)
}

func (s SignalSet) Has(sig Signal) bool { return s&Mask(sig) != 0 }

// PendingSignals returns the thread's pending signals, blocked or not.
func (t *Thread) PendingSignals() SignalSet { return t.pending }

// BlockedSignals returns the thread's signal mask.
func (t *Thread) BlockedSignals() SignalSet { return t.blocked }

func (t *Thread) deliverable() SignalSet { return t.pending &^ t.blocked }

// TakeSignal clears and returns the lowest-numbered unblocked pending signal.
// The scheduler lock must be held; SignalInjector implementations call it.
func (t *Thread) TakeSignal() (Signal, bool) {
	set := t.deliverable()
	if set == 0 {
		return 0, false
	}
	for sig := Signal(1); sig <= maxSignal; sig++ {
		if set.Has(sig) {
			t.pending &^= Mask(sig)
			return sig, true
		}
	}
	return 0, false
}

// Raise marks sig pending on the thread. An unblocked signal interrupts a
// Sleeping or Waiting target; SigCont and SigKill also resume a Stopped one.
// Delivery itself happens when the target is next resumed in user mode.
func (s *Scheduler) Raise(id ThreadID, sig Signal) error {
	if !sig.valid() {
		return ErrInvalidArgument
	}
	st := s.lock()
	t := s.lookupLocked(id)
	if t == nil || t.state == Zombie {
		s.unlock(st)
		return ErrInvalidArgument
	}
	t.pending |= Mask(sig)

	interrupt := false
	switch t.state {
	case Stopped:
		interrupt = sig == SigCont || sig == SigKill
	case Sleeping, Waiting:
		interrupt = t.deliverable() != 0
	}
	resched := false
	if interrupt {
		t.wake = wakeInterrupt
		s.readyLocked(st, t)
		resched = s.outranks(t, s.current)
	}
	s.unlock(st)

	if resched {
		s.port.PendSwitch()
	}
	return nil
}

// SetSignalMask replaces the running thread's signal mask and returns the old
// one. SigKill and SigStop cannot be blocked.
func (s *Scheduler) SetSignalMask(set SignalSet) SignalSet {
	st := s.lock()
	t := s.current
	old := t.blocked
	t.blocked = set &^ unblockable
	s.unlock(st)
	return old
}
