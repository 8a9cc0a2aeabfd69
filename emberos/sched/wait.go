package sched

import "time"

// Wait blocks the running thread on q and pends the trap. With deadline zero
// the thread is Waiting; otherwise it is Sleeping and also on the sleep list
// until the absolute deadline. q may be nil for a plain sleep.
//
// Wait returns once the thread runs again. Call FinishWait to learn why.
func (s *Scheduler) Wait(q *WaitQueue, deadline time.Duration) {
	st := s.lock()
	s.waitLocked(st, q, deadline)
	s.unlock(st)
	s.port.PendSwitch()
}

func (s *Scheduler) waitLocked(st IRQState, q *WaitQueue, deadline time.Duration) {
	t := s.current
	if t == s.idle {
		s.fatalLocked(st, "idle thread blocked")
	}
	t.wake = wakeNone
	if q != nil && !q.l.append(&t.link) {
		s.fatalLocked(st, "waiting thread already linked")
	}
	if deadline <= 0 {
		t.state = Waiting
		return
	}
	t.state = Sleeping
	t.timer.deadline = deadline
	if !s.sleepers.insert(&t.timer) {
		s.fatalLocked(st, "sleeping thread already linked")
	}
}

// FinishWait detaches the running thread from any queue it is still on and
// reports why it was resumed: nil when woken through its queue, ErrTimedOut
// when the deadline fired, ErrInterrupted for WakeupThread or a signal.
func (s *Scheduler) FinishWait() error {
	st := s.lock()
	t := s.current
	t.link.detach()
	t.timer.detach()
	reason := t.wake
	t.wake = wakeNone
	s.unlock(st)

	switch reason {
	case wakeTimeout:
		return ErrTimedOut
	case wakeInterrupt:
		return ErrInterrupted
	default:
		return nil
	}
}

// WaitOn blocks on q for at most timeout; zero waits forever.
func (s *Scheduler) WaitOn(q *WaitQueue, timeout time.Duration) error {
	var deadline time.Duration
	if timeout > 0 {
		deadline = s.Now() + timeout
	}
	s.Wait(q, deadline)
	return s.FinishWait()
}

// Sleep blocks the running thread until the absolute deadline. A zero deadline
// sleeps until WakeupThread.
func (s *Scheduler) Sleep(deadline time.Duration) {
	s.Wait(nil, deadline)
}

// Snooze sleeps for d. It returns ErrInterrupted if the thread was woken early.
func (s *Scheduler) Snooze(d time.Duration) error {
	if d <= 0 {
		s.Yield()
		return nil
	}
	return s.SnoozeUntil(s.Now() + d)
}

// SnoozeUntil sleeps until the absolute deadline.
func (s *Scheduler) SnoozeUntil(deadline time.Duration) error {
	if deadline <= s.Now() {
		s.Yield()
		return nil
	}
	s.Sleep(deadline)
	if err := s.FinishWait(); err != ErrTimedOut {
		return err
	}
	return nil
}

// Wake readies up to max threads from the head of q, or all of them when max
// is not positive. It reports whether one of them outranks the caller; the
// caller decides whether to Yield on it.
func (s *Scheduler) Wake(q *WaitQueue, max int) bool {
	st := s.lock()
	resched := s.wakeLocked(st, q, max, s.current)
	s.unlock(st)
	return resched
}

func (s *Scheduler) wakeLocked(st IRQState, q *WaitQueue, max int, caller *Thread) bool {
	if max <= 0 {
		max = wakeAll
	}
	resched := false
	for i := 0; i < max; i++ {
		n := q.l.front()
		if n == nil {
			break
		}
		t := n.thread
		if t.state != Sleeping && t.state != Waiting {
			s.fatalLocked(st, "queued thread not blocked")
		}
		t.wake = wakeQueue
		s.readyLocked(st, t)
		if s.outranks(t, caller) {
			resched = true
		}
	}
	return resched
}

// AddToSleepList gives a blocked thread an absolute wake deadline. A Waiting
// thread becomes Sleeping; it stays on its wait queue, and whichever of the
// queue or the deadline fires first readies it.
func (s *Scheduler) AddToSleepList(id ThreadID, deadline time.Duration) error {
	if deadline <= 0 {
		return ErrInvalidArgument
	}
	st := s.lock()
	defer s.unlock(st)
	t := s.lookupLocked(id)
	if t == nil || (t.state != Waiting && t.state != Sleeping) {
		return ErrInvalidArgument
	}
	t.timer.detach()
	t.timer.deadline = deadline
	s.sleepers.insert(&t.timer)
	t.state = Sleeping
	return nil
}

// RemoveFromSleepList cancels a thread's deadline. A Sleeping thread becomes
// Waiting.
func (s *Scheduler) RemoveFromSleepList(id ThreadID) error {
	st := s.lock()
	defer s.unlock(st)
	t := s.lookupLocked(id)
	if t == nil || !t.timer.linked() {
		return ErrInvalidArgument
	}
	t.timer.detach()
	if t.state == Sleeping {
		t.state = Waiting
	}
	return nil
}
