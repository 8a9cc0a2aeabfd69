package sched

import (
	"testing"
	"time"
)

type halt string

type fakePort struct {
	pends  int
	clock  time.Duration
	sp     uintptr
	halted string
	nested bool
}

func (p *fakePort) Lock() IRQState {
	if p.nested {
		return IRQNested
	}
	return 0
}

func (p *fakePort) Unlock(IRQState)       {}
func (p *fakePort) PendSwitch()           { p.pends++ }
func (p *fakePort) WaitForInterrupt()     {}
func (p *fakePort) Clock() time.Duration  { return p.clock }
func (p *fakePort) StackPointer() uintptr { return p.sp }
func (p *fakePort) Launch(Context) error  { return nil }

func (p *fakePort) InitContext(t *Thread) Context {
	return Context{SP: t.Stack().Top, Privileged: t.Privileged()}
}

func (p *fakePort) Halt(reason string) {
	p.halted = reason
	panic(halt(reason))
}

func nop(any) int { return 0 }

var testStack = Stack{Base: 0x10000, Top: 0x11000}

func newTestScheduler(t *testing.T, configure func(*Config)) (*Scheduler, *fakePort) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.MaxThreads = 8
	cfg.IdleStack = Stack{Base: 0x1000, Top: 0x2000}
	cfg.ReaperStack = Stack{Base: 0x3000, Top: 0x4000}
	if configure != nil {
		configure(&cfg)
	}

	p := &fakePort{}
	s, err := New(cfg, p)
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}
	if err := s.Start(SpawnParams{}); err != nil {
		t.Fatalf("Start() err = %v", err)
	}
	parkReaper(s)
	return s, p
}

// parkReaper takes the reaper off its ready list as if it had found nothing to
// do, so tests see only the threads they spawn.
func parkReaper(s *Scheduler) {
	s.reaper.link.detach()
	s.reaper.state = Waiting
}

func spawn(t *testing.T, s *Scheduler, name string, priority int, detach DetachState) ThreadID {
	t.Helper()
	id, err := s.Spawn(SpawnParams{
		Name:     name,
		Entry:    nop,
		Stack:    testStack,
		Priority: priority,
		Detach:   detach,
	})
	if err != nil {
		t.Fatalf("Spawn(%q) err = %v", name, err)
	}
	return id
}

// trap takes the context-switch trap for the running thread and returns the
// thread chosen to run.
func trap(s *Scheduler) *Thread {
	s.Switch(s.current.ctx)
	return s.current
}

func catchHalt(fn func()) (reason string, halted bool) {
	defer func() {
		if r := recover(); r != nil {
			h, ok := r.(halt)
			if !ok {
				panic(r)
			}
			reason, halted = string(h), true
		}
	}()
	fn()
	return "", false
}

func checkInvariants(t *testing.T, s *Scheduler) {
	t.Helper()

	threads := []*Thread{s.idle, s.reaper}
	for i := range s.pool {
		if s.handles.slots[i] == &s.pool[i] {
			threads = append(threads, &s.pool[i])
		}
	}

	running := 0
	for _, th := range threads {
		if th.state == Running {
			running++
		}
	}
	if running != 1 {
		t.Fatalf("running threads = %d, want 1", running)
	}
	if s.current.state != Running {
		t.Fatalf("current %q state = %v, want running", s.current.name, s.current.state)
	}

	for level := range s.ready {
		for n := s.ready[level].front(); n != nil; n = n.next {
			if n.thread.state != Ready || n.thread.level != level {
				t.Fatalf("ready[%d] holds %q state=%v level=%d", level, n.thread.name, n.thread.state, n.thread.level)
			}
			if n.thread == s.idle {
				t.Fatalf("idle thread in ready list %d", level)
			}
		}
	}
	if !s.sleepers.sorted() {
		t.Fatalf("sleep list not sorted")
	}

	for _, th := range threads {
		if th == s.current {
			continue
		}
		switch {
		case th.state == Ready && th == s.idle:
			if th.link.linked() {
				t.Fatalf("idle thread is ready but linked")
			}
		case th.state == Ready:
			if th.link.list != &s.ready[th.level] {
				t.Fatalf("ready thread %q not on ready[%d]", th.name, th.level)
			}
		case th.state == Sleeping:
			if !th.timer.linked() {
				t.Fatalf("sleeping thread %q has no timer", th.name)
			}
		case th.state == Zombie && th.detach == Detached:
			if th.link.list != &s.zombies {
				t.Fatalf("detached zombie %q not on the zombie list", th.name)
			}
		}
	}
}
