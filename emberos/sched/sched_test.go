package sched

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleStack = testStack
	cfg.ReaperStack = testStack

	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("New(nil port) err = nil, want error")
	}

	small := cfg
	small.MaxThreads = 2
	if _, err := New(small, &fakePort{}); err == nil {
		t.Fatalf("New(MaxThreads=2) err = nil, want error")
	}

	noStack := cfg
	noStack.IdleStack = Stack{}
	if _, err := New(noStack, &fakePort{}); err == nil {
		t.Fatalf("New(no idle stack) err = nil, want error")
	}
}

func TestBootThreadsOwnFixedHandles(t *testing.T) {
	s, _ := newTestScheduler(t, nil)

	if got := s.Idle().ID().slot(); got != int(slotIdle) {
		t.Fatalf("idle slot = %d, want %d", got, slotIdle)
	}
	if got := s.Reaper().ID().slot(); got != int(slotReaper) {
		t.Fatalf("reaper slot = %d, want %d", got, slotReaper)
	}
	if s.Current() != s.Idle() {
		t.Fatalf("Current() = %q, want idle", s.Current().Name())
	}
	checkInvariants(t, s)
}

func TestSpawnPreemptsIdleOnNextTrap(t *testing.T) {
	s, _ := newTestScheduler(t, nil)

	a := spawn(t, s, "A", 5, Detached)
	if got := s.Lookup(a).State(); got != Ready {
		t.Fatalf("spawned state = %v, want ready", got)
	}
	checkInvariants(t, s)

	if got := trap(s); got.ID() != a {
		t.Fatalf("trap() ran %q, want A", got.Name())
	}
	if got := s.Idle().State(); got != Ready {
		t.Fatalf("idle state = %v, want ready", got)
	}
	checkInvariants(t, s)
}

func TestSpawnPendsWhenOutranking(t *testing.T) {
	s, p := newTestScheduler(t, nil)

	spawn(t, s, "low", PriorityMin, Detached)
	if p.pends != 0 {
		t.Fatalf("pends after equal spawn = %d, want 0", p.pends)
	}
	spawn(t, s, "high", 3, Detached)
	if p.pends != 1 {
		t.Fatalf("pends after higher spawn = %d, want 1", p.pends)
	}
}

func TestSpawnInvalid(t *testing.T) {
	s, _ := newTestScheduler(t, nil)

	if _, err := s.Spawn(SpawnParams{Name: "noentry", Stack: testStack}); err != ErrInvalidArgument {
		t.Fatalf("Spawn(no entry) err = %v, want %v", err, ErrInvalidArgument)
	}
	if _, err := s.Spawn(SpawnParams{Name: "nostack", Entry: nop}); err != ErrInvalidArgument {
		t.Fatalf("Spawn(no stack) err = %v, want %v", err, ErrInvalidArgument)
	}
}

func TestRoundRobinEqualPriority(t *testing.T) {
	s, p := newTestScheduler(t, nil)

	spawn(t, s, "A", 0, Detached)
	spawn(t, s, "B", 0, Detached)
	trap(s)

	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, s.Current().Name())
		p.clock += time.Millisecond
		s.Tick()
		trap(s)
		checkInvariants(t, s)
	}

	want := []string{"A", "B", "A", "B", "A", "B"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("run order mismatch (-want +got):\n%s", diff)
	}

	// A ran three full quanta and is running again.
	a, _ := s.ThreadInfo(s.Current().ID())
	if a.Name != "A" || a.RunTime != 3*time.Millisecond {
		t.Fatalf("ThreadInfo() = %s %v, want A %v", a.Name, a.RunTime, 3*time.Millisecond)
	}
}

func TestHigherPriorityIsNotRotated(t *testing.T) {
	s, _ := newTestScheduler(t, nil)

	hi := spawn(t, s, "hi", 4, Detached)
	spawn(t, s, "lo", 2, Detached)
	trap(s)

	for i := 0; i < 3; i++ {
		s.Tick()
		if got := trap(s); got.ID() != hi {
			t.Fatalf("tick %d ran %q, want hi", i, got.Name())
		}
	}
}

func TestWakePreemptsWithoutTick(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	var q WaitQueue

	a := spawn(t, s, "A", 0, Detached)
	b := spawn(t, s, "B", 5, Detached)
	trap(s)

	s.Wait(&q, 0)
	if got := s.Lookup(b).State(); got != Waiting {
		t.Fatalf("B state = %v, want waiting", got)
	}
	if got := trap(s); got.ID() != a {
		t.Fatalf("trap() ran %q, want A", got.Name())
	}
	checkInvariants(t, s)

	if !s.Wake(&q, 1) {
		t.Fatalf("Wake() = false, want true for a higher priority waiter")
	}
	if got := trap(s); got.ID() != b {
		t.Fatalf("trap() ran %q, want B", got.Name())
	}
	if err := s.FinishWait(); err != nil {
		t.Fatalf("FinishWait() err = %v, want nil", err)
	}
	checkInvariants(t, s)
}

func TestPreemptOnEqualWake(t *testing.T) {
	for _, equal := range []bool{false, true} {
		s, _ := newTestScheduler(t, func(cfg *Config) { cfg.PreemptOnEqualWake = equal })
		var q WaitQueue

		spawn(t, s, "waiter", 1, Detached)
		spawn(t, s, "waker", 1, Detached)
		trap(s)
		s.Wait(&q, 0)
		trap(s)

		if got := s.Wake(&q, 1); got != equal {
			t.Fatalf("PreemptOnEqualWake=%v: Wake() = %v", equal, got)
		}
	}
}

func TestWakePreservesFIFO(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	var q WaitQueue

	spawn(t, s, "W1", 1, Detached)
	spawn(t, s, "W2", 1, Detached)
	spawn(t, s, "W3", 1, Detached)
	spawn(t, s, "ctl", 0, Detached)

	for i := 0; i < 3; i++ {
		trap(s)
		s.Wait(&q, 0)
	}
	if got := trap(s); got.Name() != "ctl" {
		t.Fatalf("trap() ran %q, want ctl", got.Name())
	}
	if q.Len() != 3 {
		t.Fatalf("q.Len() = %d, want 3", q.Len())
	}

	if !s.Wake(&q, 2) {
		t.Fatalf("Wake() = false, want true")
	}
	if q.Len() != 1 {
		t.Fatalf("q.Len() after Wake(2) = %d, want 1", q.Len())
	}
	s.Wake(&q, 0)

	var got []string
	for n := s.ready[PriorityToLevel(1)].front(); n != nil; n = n.next {
		got = append(got, n.thread.Name())
	}
	if diff := cmp.Diff([]string{"W1", "W2", "W3"}, got); diff != "" {
		t.Fatalf("wake order mismatch (-want +got):\n%s", diff)
	}
	checkInvariants(t, s)
}

func TestSleepWakesAfterTenTicks(t *testing.T) {
	s, _ := newTestScheduler(t, nil)

	a := spawn(t, s, "A", 0, Detached)
	trap(s)
	s.Sleep(s.Now() + 10*s.Quantum())
	if got := trap(s); got != s.Idle() {
		t.Fatalf("trap() ran %q, want idle", got.Name())
	}

	for i := 1; i < 10; i++ {
		s.Tick()
		trap(s)
		if got := s.Lookup(a).State(); got != Sleeping {
			t.Fatalf("after %d ticks state = %v, want sleeping", i, got)
		}
		checkInvariants(t, s)
	}
	s.Tick()
	if got := s.Lookup(a).State(); got != Ready {
		t.Fatalf("after 10 ticks state = %v, want ready", got)
	}
	trap(s)
	if err := s.FinishWait(); err != ErrTimedOut {
		t.Fatalf("FinishWait() err = %v, want %v", err, ErrTimedOut)
	}
}

func TestWakeupSleepingThreadEarly(t *testing.T) {
	s, _ := newTestScheduler(t, nil)

	a := spawn(t, s, "A", 0, Detached)
	trap(s)
	s.Sleep(s.Now() + 10*s.Quantum())
	trap(s)

	for i := 0; i < 3; i++ {
		s.Tick()
		trap(s)
	}
	if err := s.WakeupThread(a, false); err != nil {
		t.Fatalf("WakeupThread() err = %v", err)
	}
	if got := s.Lookup(a).State(); got != Ready {
		t.Fatalf("state = %v, want ready", got)
	}
	if !s.sleepers.empty() {
		t.Fatalf("sleep list not empty after wakeup")
	}
	if err := s.WakeupThread(a, false); err != ErrInvalidArgument {
		t.Fatalf("WakeupThread(ready) err = %v, want %v", err, ErrInvalidArgument)
	}

	trap(s)
	if err := s.FinishWait(); err != ErrInterrupted {
		t.Fatalf("FinishWait() err = %v, want %v", err, ErrInterrupted)
	}
	checkInvariants(t, s)
}

func TestWakeBeforeTrapKeepsThreadRunning(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	var q WaitQueue

	a := spawn(t, s, "A", 0, Detached)
	trap(s)

	s.Wait(&q, 0)
	if err := s.WakeupThread(a, false); err != nil {
		t.Fatalf("WakeupThread() err = %v", err)
	}
	if got := trap(s); got.ID() != a {
		t.Fatalf("trap() ran %q, want A", got.Name())
	}
	if got := s.Lookup(a).State(); got != Running {
		t.Fatalf("A state = %v, want running", got)
	}
	if err := s.FinishWait(); err != ErrInterrupted {
		t.Fatalf("FinishWait() err = %v, want %v", err, ErrInterrupted)
	}
	checkInvariants(t, s)

	b := spawn(t, s, "B", 5, Detached)
	if got := trap(s); got.ID() != b {
		t.Fatalf("trap() ran %q, want B", got.Name())
	}
	th := s.Lookup(a)
	if th.State() != Ready || th.link.list != &s.ready[th.level] {
		t.Fatalf("A state = %v linked=%v, want ready on its ready list", th.State(), th.link.linked())
	}
	checkInvariants(t, s)
}

func TestTimeoutBeforeTrapKeepsThreadRunning(t *testing.T) {
	s, _ := newTestScheduler(t, nil)

	a := spawn(t, s, "A", 0, Detached)
	trap(s)

	s.Sleep(s.Now() + s.Quantum())
	s.Tick()
	if got := trap(s); got.ID() != a {
		t.Fatalf("trap() ran %q, want A", got.Name())
	}
	if err := s.FinishWait(); err != ErrTimedOut {
		t.Fatalf("FinishWait() err = %v, want %v", err, ErrTimedOut)
	}
	checkInvariants(t, s)

	spawn(t, s, "B", 5, Detached)
	trap(s)
	if got := s.Lookup(a).State(); got != Ready {
		t.Fatalf("A state after preemption = %v, want ready", got)
	}
	checkInvariants(t, s)
}

func TestTimedWaitFirstEventWins(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	var q WaitQueue

	spawn(t, s, "A", 0, Detached)
	trap(s)

	s.Wait(&q, s.Now()+5*s.Quantum())
	trap(s)
	s.Wake(&q, 1)
	if !s.sleepers.empty() {
		t.Fatalf("woken thread still on sleep list")
	}
	trap(s)
	if err := s.FinishWait(); err != nil {
		t.Fatalf("FinishWait() err = %v, want nil", err)
	}

	s.Wait(&q, s.Now()+2*s.Quantum())
	trap(s)
	s.Tick()
	s.Tick()
	if q.Len() != 0 {
		t.Fatalf("q.Len() after deadline = %d, want 0", q.Len())
	}
	trap(s)
	if err := s.FinishWait(); err != ErrTimedOut {
		t.Fatalf("FinishWait() err = %v, want %v", err, ErrTimedOut)
	}
}

func TestSleepListHelpers(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	var q WaitQueue

	a := spawn(t, s, "A", 0, Detached)
	trap(s)
	s.Wait(&q, 0)
	trap(s)

	if err := s.AddToSleepList(a, s.Now()+s.Quantum()); err != nil {
		t.Fatalf("AddToSleepList() err = %v", err)
	}
	if got := s.Lookup(a).State(); got != Sleeping {
		t.Fatalf("state = %v, want sleeping", got)
	}
	if err := s.RemoveFromSleepList(a); err != nil {
		t.Fatalf("RemoveFromSleepList() err = %v", err)
	}
	if got := s.Lookup(a).State(); got != Waiting {
		t.Fatalf("state = %v, want waiting", got)
	}
	if err := s.RemoveFromSleepList(a); err != ErrInvalidArgument {
		t.Fatalf("second RemoveFromSleepList() err = %v, want %v", err, ErrInvalidArgument)
	}
	s.Tick()
	if got := s.Lookup(a).State(); got != Waiting {
		t.Fatalf("state after tick = %v, want waiting", got)
	}
}

func TestStopAndResume(t *testing.T) {
	s, _ := newTestScheduler(t, nil)

	a := spawn(t, s, "A", 0, Detached)
	trap(s)
	s.Stop()
	trap(s)

	if got := s.Lookup(a).State(); got != Stopped {
		t.Fatalf("state = %v, want stopped", got)
	}
	s.Tick()
	if got := s.Lookup(a).State(); got != Stopped {
		t.Fatalf("state after tick = %v, want stopped", got)
	}
	if err := s.WakeupThread(a, false); err != ErrInvalidArgument {
		t.Fatalf("WakeupThread(stopped, false) err = %v, want %v", err, ErrInvalidArgument)
	}
	if err := s.WakeupThread(a, true); err != nil {
		t.Fatalf("WakeupThread(stopped, true) err = %v", err)
	}
	if got := trap(s); got.ID() != a {
		t.Fatalf("trap() ran %q, want A", got.Name())
	}
}

func TestWakeupThreadUnknownHandle(t *testing.T) {
	s, _ := newTestScheduler(t, nil)

	if err := s.WakeupThread(ThreadID(7), false); err != ErrInvalidArgument {
		t.Fatalf("WakeupThread(unused) err = %v, want %v", err, ErrInvalidArgument)
	}
	if err := s.WakeupThread(InvalidThread, true); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("WakeupThread(invalid) err = %v, want %v", err, ErrInvalidArgument)
	}
}

func TestStackOverflowIsFatal(t *testing.T) {
	var fatal Fatal
	s, p := newTestScheduler(t, func(cfg *Config) {
		cfg.OnFatal = func(f Fatal) { fatal = f }
	})

	a := spawn(t, s, "A", 0, Detached)
	trap(s)

	reason, halted := catchHalt(func() { s.Switch(Context{SP: testStack.Base}) })
	if !halted {
		t.Fatalf("Switch() did not halt on overflow")
	}
	want := Fatal{Reason: "stack overflow", Thread: a, Name: "A"}
	if diff := cmp.Diff(want, fatal); diff != "" {
		t.Fatalf("fatal mismatch (-want +got):\n%s", diff)
	}
	if reason != p.halted {
		t.Fatalf("halt reason = %q, port saw %q", reason, p.halted)
	}
	if s.locked {
		t.Fatalf("scheduler lock held after fatal")
	}
}

func TestCheckStack(t *testing.T) {
	s, p := newTestScheduler(t, nil)
	spawn(t, s, "A", 0, Detached)
	trap(s)

	p.sp = testStack.Base + 64
	if _, halted := catchHalt(func() { s.CheckStack(32) }); halted {
		t.Fatalf("CheckStack(32) halted with 64 bytes left")
	}
	if _, halted := catchHalt(func() { s.CheckStack(128) }); !halted {
		t.Fatalf("CheckStack(128) did not halt with 64 bytes left")
	}
}

func TestLockReentryIsFatal(t *testing.T) {
	s, _ := newTestScheduler(t, nil)

	s.locked = true
	reason, halted := catchHalt(func() { s.Now() })
	if !halted || reason != "scheduler lock re-entered" {
		t.Fatalf("re-entry halted=%v reason=%q", halted, reason)
	}
}

func TestNestedPortLockIsFatal(t *testing.T) {
	s, p := newTestScheduler(t, nil)

	p.nested = true
	reason, halted := catchHalt(func() { s.Now() })
	if !halted || reason != "scheduler lock re-entered" {
		t.Fatalf("nested lock halted=%v reason=%q", halted, reason)
	}
}

func TestIdleCannotBlock(t *testing.T) {
	s, _ := newTestScheduler(t, nil)

	if _, halted := catchHalt(func() { s.Wait(nil, 0) }); !halted {
		t.Fatalf("idle Wait() did not halt")
	}
}
