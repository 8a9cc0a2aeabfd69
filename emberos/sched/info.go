package sched

import "time"

// ThreadInfo is a snapshot of one thread.
type ThreadInfo struct {
	ID         ThreadID
	Name       string
	State      State
	Priority   int
	RunTime    time.Duration
	Quantum    time.Duration
	StackSize  uintptr
	StackUsed  uintptr
	Joinable   bool
	Privileged bool
}

// ThreadInfo returns a snapshot of the thread behind id.
func (s *Scheduler) ThreadInfo(id ThreadID) (ThreadInfo, error) {
	st := s.lock()
	defer s.unlock(st)
	t := s.lookupLocked(id)
	if t == nil {
		return ThreadInfo{}, ErrInvalidArgument
	}
	return s.infoLocked(t), nil
}

// NextThreadInfo returns the thread after the one behind after, in handle
// order. Pass InvalidThread to start. ErrNoEntry marks the end.
func (s *Scheduler) NextThreadInfo(after ThreadID) (ThreadInfo, error) {
	st := s.lock()
	defer s.unlock(st)
	slot := -1
	if after != InvalidThread {
		slot = after.slot()
	}
	for t := s.handles.next(slot); t != nil; t = s.handles.next(slot) {
		if t.state != Deleted {
			return s.infoLocked(t), nil
		}
		slot = t.id.slot()
	}
	return ThreadInfo{}, ErrNoEntry
}

func (s *Scheduler) infoLocked(t *Thread) ThreadInfo {
	sp := t.ctx.SP
	if t == s.current {
		sp = s.port.StackPointer()
	}
	var used uintptr
	if sp != 0 && sp <= t.stack.Top {
		used = t.stack.Top - sp
	}
	return ThreadInfo{
		ID:         t.id,
		Name:       t.name,
		State:      t.state,
		Priority:   LevelToPriority(t.level),
		RunTime:    t.runTime,
		Quantum:    s.cfg.Quantum,
		StackSize:  t.stack.Size(),
		StackUsed:  used,
		Joinable:   t.detach == Joinable,
		Privileged: t.privileged,
	}
}

// CheckStack halts the system if the running thread's live stack pointer is
// within margin bytes of its stack base.
func (s *Scheduler) CheckStack(margin uintptr) {
	sp := s.port.StackPointer()
	st := s.lock()
	t := s.current
	if sp <= t.stack.Base+margin {
		s.fatalLocked(st, "stack overflow")
	}
	s.unlock(st)
}
