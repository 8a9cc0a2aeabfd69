package sched

// SpawnParams describes a thread to create.
type SpawnParams struct {
	Name  string
	Entry EntryFunc
	Arg   any
	// Stack must be allocated by the caller and outlive the thread.
	Stack Stack
	// Priority is clamped to [PriorityMin, PriorityMax].
	Priority   int
	Detach     DetachState
	Privileged bool

	KernelTLS uintptr
	UserTLS   uintptr
}

// Spawn creates a thread and makes it Ready. If the new thread outranks the
// caller the trap is pended.
func (s *Scheduler) Spawn(p SpawnParams) (ThreadID, error) {
	return s.spawn(p, true)
}

func (s *Scheduler) spawn(p SpawnParams, resched bool) (ThreadID, error) {
	if p.Entry == nil || p.Stack.Size() == 0 {
		return InvalidThread, ErrInvalidArgument
	}

	st := s.lock()
	slot, ok := s.handles.reserve()
	if !ok {
		s.unlock(st)
		return InvalidThread, ErrNoHandles
	}
	t := &s.pool[slot]
	*t = Thread{}
	t.init(p)
	t.state = Deleted
	t.id = s.handles.bind(slot, t)
	s.unlock(st)

	ctx := s.port.InitContext(t)

	st = s.lock()
	t.ctx = ctx
	s.enqueueLocked(st, t)
	resched = resched && s.current != nil && t.level > s.current.level
	id := t.id
	s.unlock(st)

	s.log.Debug().Int32("thread", int32(id)).Str("name", p.Name).Int("priority", LevelToPriority(t.level)).Msg("spawn")
	if resched {
		s.port.PendSwitch()
	}
	return id, nil
}
