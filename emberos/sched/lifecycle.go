package sched

// Exit marks the running thread Zombie with code and pends the trap. The
// decision function then hands the thread to the reaper or to its joiners.
// The port must never resume a Zombie; use ExitThread from thread context.
func (s *Scheduler) Exit(code int) {
	st := s.lock()
	t := s.current
	if t == s.idle || t == s.reaper {
		s.fatalLocked(st, "boot thread exited")
	}
	t.exitCode = code
	t.state = Zombie
	id, name := t.id, t.name
	s.unlock(st)

	s.log.Debug().Int32("thread", int32(id)).Str("name", name).Int("code", code).Msg("exit")
	s.port.PendSwitch()
}

// ExitThread exits the running thread. It does not return.
func (s *Scheduler) ExitThread(code int) {
	s.Exit(code)
	s.fatal("zombie thread resumed")
}

// Join waits for a joinable thread to exit and returns its exit code. The
// target is released on return. Joining a detached thread, the caller itself,
// or a handle that no longer resolves is ErrInvalidArgument.
func (s *Scheduler) Join(id ThreadID) (int, error) {
	for {
		code, done, err := s.joinBegin(id)
		if done {
			return code, err
		}
		s.port.PendSwitch()
		if err := s.joinEnd(); err != nil {
			return 0, err
		}
	}
}

// joinBegin either collects a Zombie target or queues the caller on the
// target's joiners. done reports the former.
func (s *Scheduler) joinBegin(id ThreadID) (code int, done bool, err error) {
	st := s.lock()
	t := s.lookupLocked(id)
	caller := s.current
	if t == nil || t == caller || t.detach != Joinable {
		s.unlock(st)
		return 0, true, ErrInvalidArgument
	}
	if t.state == Zombie {
		code = t.exitCode
		name := t.name
		s.releaseLocked(t)
		s.unlock(st)
		s.log.Debug().Int32("thread", int32(id)).Str("name", name).Int("code", code).Msg("joined")
		return code, true, nil
	}
	s.waitLocked(st, &t.joiners, 0)
	s.unlock(st)
	return 0, false, nil
}

func (s *Scheduler) joinEnd() error {
	return s.FinishWait()
}

// Stop suspends the running thread until WakeupThread is called with
// wakeSuspended set.
func (s *Scheduler) Stop() {
	st := s.lock()
	t := s.current
	if t == s.idle {
		s.fatalLocked(st, "idle thread stopped")
	}
	t.wake = wakeNone
	t.state = Stopped
	s.unlock(st)

	s.port.PendSwitch()

	st = s.lock()
	s.current.wake = wakeNone
	s.unlock(st)
}

// Yield offers the processor to ready threads at the caller's level or above.
func (s *Scheduler) Yield() {
	s.port.PendSwitch()
}

// WakeupThread readies a Sleeping or Waiting thread, or a Stopped one when
// wakeSuspended is set. A woken waiter sees ErrInterrupted from FinishWait.
// Any other state, or a handle that does not resolve, is ErrInvalidArgument.
func (s *Scheduler) WakeupThread(id ThreadID, wakeSuspended bool) error {
	st := s.lock()
	t := s.lookupLocked(id)
	if t == nil {
		s.unlock(st)
		return ErrInvalidArgument
	}
	switch t.state {
	case Sleeping, Waiting:
	case Stopped:
		if !wakeSuspended {
			s.unlock(st)
			return ErrInvalidArgument
		}
	default:
		s.unlock(st)
		return ErrInvalidArgument
	}
	t.wake = wakeInterrupt
	s.readyLocked(st, t)
	resched := s.outranks(t, s.current)
	s.unlock(st)

	if resched {
		s.port.PendSwitch()
	}
	return nil
}
