// Package sched is the single-core thread scheduler: ready lists, sleep list,
// wait queues, the decision function run from the context-switch trap and the
// tick handler run from the timer interrupt.
//
// Nothing here performs a stack switch. Operations that change readiness only
// edit lists under the scheduler lock and pend the trap through the Port.
package sched

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler is the scheduler state. It is built once at boot by New, entered
// by Start and torn down by Halt.
type Scheduler struct {
	cfg  Config
	port Port
	log  zerolog.Logger

	locked bool

	ready    readyQueues
	sleepers sleepList
	zombies  nodeList

	handles handleTable
	pool    []Thread
	arena   bootArena

	idle    *Thread
	reaper  *Thread
	current *Thread

	now   time.Duration
	ticks uint64

	started bool
}

// New builds a scheduler on port. The idle thread owns handle 0 and the reaper
// handle 1.
func New(cfg Config, port Port) (*Scheduler, error) {
	if port == nil {
		return nil, errors.New("sched: nil port")
	}
	if cfg.MaxThreads < int(bootSlots)+1 || cfg.MaxThreads > maxSlots {
		return nil, fmt.Errorf("sched: max threads %d out of range [%d, %d]", cfg.MaxThreads, bootSlots+1, maxSlots)
	}
	if cfg.Quantum <= 0 {
		return nil, fmt.Errorf("sched: invalid quantum %v", cfg.Quantum)
	}
	if cfg.IdleStack.Size() == 0 || cfg.ReaperStack.Size() == 0 {
		return nil, errors.New("sched: boot thread stacks not set")
	}

	s := &Scheduler{
		cfg:     cfg,
		port:    port,
		log:     cfg.Log,
		handles: newHandleTable(cfg.MaxThreads),
		pool:    make([]Thread, cfg.MaxThreads),
	}

	idle, err := s.bootThread(slotIdle, SpawnParams{
		Name:       "idle",
		Entry:      s.idleMain,
		Stack:      cfg.IdleStack,
		Priority:   PriorityMin,
		Privileged: true,
	})
	if err != nil {
		return nil, err
	}
	reaper, err := s.bootThread(slotReaper, SpawnParams{
		Name:       "reaper",
		Entry:      s.reaperMain,
		Stack:      cfg.ReaperStack,
		Priority:   cfg.ReaperPriority,
		Privileged: true,
	})
	if err != nil {
		return nil, err
	}
	s.idle = idle
	s.reaper = reaper
	return s, nil
}

func (s *Scheduler) bootThread(slot bootSlot, p SpawnParams) (*Thread, error) {
	t, ok := s.arena.take(slot)
	if !ok {
		return nil, fmt.Errorf("sched: boot slot %s already taken", slot)
	}
	if !s.handles.claim(int(slot)) {
		return nil, fmt.Errorf("sched: handle %d unavailable for %s", slot, slot)
	}
	t.init(p)
	t.state = Deleted
	t.id = s.handles.bind(int(slot), t)
	return t, nil
}

// Start makes the idle thread current, queues the reaper and main, and launches
// the machine. main may be zero to start with only the boot threads. Start
// returns only if the launch fails or the machine halts.
func (s *Scheduler) Start(main SpawnParams) error {
	if s.started {
		return errors.New("sched: already started")
	}
	s.started = true

	s.idle.ctx = s.port.InitContext(s.idle)
	s.reaper.ctx = s.port.InitContext(s.reaper)

	st := s.lock()
	s.idle.state = Running
	s.current = s.idle
	s.idle.startTime = s.port.Clock()
	s.enqueueLocked(st, s.reaper)
	s.unlock(st)

	if main.Entry != nil {
		if _, err := s.spawn(main, false); err != nil {
			return fmt.Errorf("spawn %q: %w", main.Name, err)
		}
	}

	s.log.Info().Int("max_threads", s.cfg.MaxThreads).Dur("quantum", s.cfg.Quantum).Msg("scheduler start")
	if err := s.port.Launch(s.idle.ctx); err != nil {
		return fmt.Errorf("launch first thread: %w", err)
	}
	return nil
}

// Halt stops the machine. It does not return.
func (s *Scheduler) Halt(reason string) {
	s.log.Info().Str("reason", reason).Uint64("ticks", s.Ticks()).Msg("scheduler halt")
	s.port.Halt(reason)
}

func (s *Scheduler) lock() IRQState {
	st := s.port.Lock()
	if st == IRQNested {
		s.fatal("scheduler lock re-entered")
	}
	if s.locked {
		s.port.Unlock(st)
		s.fatal("scheduler lock re-entered")
	}
	s.locked = true
	return st
}

func (s *Scheduler) unlock(st IRQState) {
	s.locked = false
	s.port.Unlock(st)
}

func (s *Scheduler) fatal(reason string) {
	f := Fatal{Reason: reason, Thread: InvalidThread}
	if t := s.current; t != nil {
		f.Thread = t.id
		f.Name = t.name
	}
	s.log.Error().Str("reason", reason).Int32("thread", int32(f.Thread)).Str("name", f.Name).Msg("fatal")
	if s.cfg.OnFatal != nil {
		s.cfg.OnFatal(f)
	}
	s.port.Halt(reason)
	panic("sched: port halt returned")
}

func (s *Scheduler) fatalLocked(st IRQState, reason string) {
	s.unlock(st)
	s.fatal(reason)
}

// Switch is the decision function. The port calls it from the context-switch
// trap with the interrupted thread's context and resumes the returned one.
// It never allocates.
func (s *Scheduler) Switch(ctx Context) Context {
	st := s.lock()

	prev := s.current
	prev.ctx = ctx
	if ctx.SP <= prev.stack.Base {
		s.fatalLocked(st, "stack overflow")
	}

	if prev.state == Zombie {
		s.buryLocked(st, prev)
	}

	next := s.selectLocked(prev)
	if next != prev && prev.state == Running {
		prev.state = Ready
		if prev != s.idle && !s.ready.enqueue(prev) {
			s.fatalLocked(st, "preempted thread already linked")
		}
	}
	// prev may come back Ready after a wake that landed before its trap.
	next.state = Running
	s.current = next

	now := s.port.Clock()
	prev.runTime += now - prev.startTime
	next.startTime = now

	if !next.ctx.Privileged && next.deliverable() != 0 && s.cfg.Signals != nil {
		next.ctx = s.cfg.Signals.InjectSignals(next, next.ctx)
	}
	if next.ctx.SP <= next.stack.Base {
		s.fatalLocked(st, "stack overflow")
	}

	out := next.ctx
	s.unlock(st)
	return out
}

// selectLocked picks the thread to resume. A ready candidate preempts prev if
// prev stopped running or the candidate's level is at least prev's; equal
// levels rotate this way on every tick. With no candidate and prev blocked,
// the idle thread runs.
func (s *Scheduler) selectLocked(prev *Thread) *Thread {
	level, n := s.ready.highest()
	if n != nil && (prev.state != Running || level >= prev.level) {
		s.ready[level].remove(n)
		return n.thread
	}
	if prev.state == Running {
		return prev
	}
	return s.idle
}

// buryLocked handles a thread whose entry returned. Detached threads go to the
// reaper; joinable threads hand their exit code to the joiners.
func (s *Scheduler) buryLocked(st IRQState, t *Thread) {
	if t.detach == Detached {
		if !s.zombies.append(&t.link) {
			s.fatalLocked(st, "zombie already linked")
		}
		if s.reaper.state == Waiting {
			s.enqueueLocked(st, s.reaper)
		}
		return
	}
	s.wakeLocked(st, &t.joiners, wakeAll, nil)
}

// Tick is the timer interrupt: advance the clock by one quantum, ready every
// expired sleeper and pend the trap.
func (s *Scheduler) Tick() {
	st := s.lock()
	s.ticks++
	s.now += s.cfg.Quantum
	for n := s.sleepers.expired(s.now); n != nil; n = s.sleepers.expired(s.now) {
		t := n.thread
		if t.state == Sleeping {
			t.wake = wakeTimeout
			s.readyLocked(st, t)
		}
	}
	s.unlock(st)
	s.port.PendSwitch()
}

func (s *Scheduler) enqueueLocked(st IRQState, t *Thread) {
	if !s.ready.enqueue(t) {
		s.fatalLocked(st, "ready thread already linked")
	}
}

// readyLocked detaches t from whatever it waits on and queues it. Whichever of
// wake or deadline fires first removes the thread from both.
func (s *Scheduler) readyLocked(st IRQState, t *Thread) {
	t.link.detach()
	t.timer.detach()
	s.enqueueLocked(st, t)
}

func (s *Scheduler) outranks(t, caller *Thread) bool {
	if caller == nil {
		return false
	}
	if t.level > caller.level {
		return true
	}
	return s.cfg.PreemptOnEqualWake && t.level == caller.level
}

func (s *Scheduler) lookupLocked(id ThreadID) *Thread {
	t := s.handles.get(id)
	if t == nil || t.state == Deleted {
		return nil
	}
	return t
}

// Lookup resolves a handle. It returns nil once the thread is Deleted.
func (s *Scheduler) Lookup(id ThreadID) *Thread {
	st := s.lock()
	t := s.lookupLocked(id)
	s.unlock(st)
	return t
}

// Current returns the running thread.
func (s *Scheduler) Current() *Thread { return s.current }

// Idle returns the idle thread.
func (s *Scheduler) Idle() *Thread { return s.idle }

// Reaper returns the zombie reaper thread.
func (s *Scheduler) Reaper() *Thread { return s.reaper }

// Quantum returns the tick period.
func (s *Scheduler) Quantum() time.Duration { return s.cfg.Quantum }

// Now returns the system time: ticks times the quantum.
func (s *Scheduler) Now() time.Duration {
	st := s.lock()
	now := s.now
	s.unlock(st)
	return now
}

// Ticks returns the number of timer interrupts handled.
func (s *Scheduler) Ticks() uint64 {
	st := s.lock()
	n := s.ticks
	s.unlock(st)
	return n
}

func (s *Scheduler) idleMain(any) int {
	for {
		s.port.WaitForInterrupt()
	}
}

// wakeAll is the maxCount used for "every waiter".
const wakeAll = math.MaxInt
