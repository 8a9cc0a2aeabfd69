package sched

// ReapZombies releases every thread on the zombie list and returns how many it
// released. The list is detached under the lock; each release takes the lock
// again so teardown never holds it for long.
func (s *Scheduler) ReapZombies() int {
	var batch nodeList

	st := s.lock()
	for n := s.zombies.popFront(); n != nil; n = s.zombies.popFront() {
		batch.append(n)
	}
	s.unlock(st)

	reaped := 0
	for n := batch.popFront(); n != nil; n = batch.popFront() {
		t := n.thread
		st := s.lock()
		id, name, code := t.id, t.name, t.exitCode
		s.releaseLocked(t)
		s.unlock(st)

		s.log.Debug().Int32("thread", int32(id)).Str("name", name).Int("code", code).Msg("reaped")
		reaped++
	}
	return reaped
}

func (s *Scheduler) reaperMain(any) int {
	for {
		if s.ReapZombies() > 0 {
			continue
		}
		st := s.lock()
		if s.zombies.empty() {
			s.current.state = Waiting
		}
		s.unlock(st)
		s.port.PendSwitch()
	}
}

// releaseLocked frees t's handle. Lookups fail from here on.
func (s *Scheduler) releaseLocked(t *Thread) {
	t.link.detach()
	t.timer.detach()
	t.state = Deleted
	t.entry = nil
	t.arg = nil
	s.handles.release(t.id)
}
