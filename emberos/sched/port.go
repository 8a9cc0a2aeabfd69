package sched

import (
	"time"

	"github.com/rs/zerolog"
)

// IRQState is the interrupt mask returned by Port.Lock.
type IRQState uint32

// IRQNested is returned by a Port.Lock that found the lock already held by the
// caller. The lock is not taken and the scheduler halts.
const IRQNested IRQState = 1 << 31

// Port is the hardware boundary the scheduler runs on.
//
// The port owns the two hardware entry points: it calls Scheduler.Tick from the
// periodic timer interrupt and Scheduler.Switch from the context-switch trap.
// Both must run at the same non-preemptable priority.
type Port interface {
	// Lock masks scheduler interrupts. The scheduler never nests it; a port
	// that can see a nested call returns IRQNested instead of blocking.
	Lock() IRQState
	Unlock(IRQState)

	// PendSwitch requests the context-switch trap. From thread context the
	// trap is taken before PendSwitch returns, so it returns once the calling
	// thread runs again. From interrupt context it returns immediately and the
	// trap is taken on interrupt exit.
	PendSwitch()

	// Clock is a monotonic high-resolution clock used for run-time accounting.
	Clock() time.Duration

	// InitContext builds the initial frame for t so that resuming the returned
	// context enters t.Entry()(t.Arg()).
	InitContext(t *Thread) Context

	// Launch starts executing first. It does not return unless the launch
	// fails or the machine halts.
	Launch(first Context) error

	// WaitForInterrupt idles the core until the next interrupt.
	WaitForInterrupt()

	// StackPointer returns the live stack pointer of the running thread.
	StackPointer() uintptr

	// Halt stops the machine. It does not return.
	Halt(reason string)
}

// SignalInjector builds signal-delivery frames on a thread stack.
//
// Switch calls it exactly once per resume of a user-mode thread that has
// unblocked pending signals, with the scheduler lock held. It consumes signals
// through Thread.TakeSignal and returns the context to resume instead of ctx.
type SignalInjector interface {
	InjectSignals(t *Thread, ctx Context) Context
}

// Config configures a Scheduler.
type Config struct {
	// MaxThreads is the handle-table capacity, including the idle and reaper
	// threads.
	MaxThreads int
	// Quantum is the tick period and round-robin time slice.
	Quantum time.Duration
	// PreemptOnEqualWake makes Wake and WakeupThread request a reschedule when
	// the woken thread has the same priority as the caller, not only a higher one.
	PreemptOnEqualWake bool
	// ReaperPriority is the priority of the zombie reaper thread.
	ReaperPriority int

	IdleStack   Stack
	ReaperStack Stack

	Signals SignalInjector
	OnFatal func(Fatal)
	Log     zerolog.Logger
}

// DefaultConfig returns a config with a 1ms quantum and 32 thread slots.
// Stacks must still be provided.
func DefaultConfig() Config {
	return Config{
		MaxThreads:     32,
		Quantum:        time.Millisecond,
		ReaperPriority: PriorityMin,
		Log:            zerolog.Nop(),
	}
}
