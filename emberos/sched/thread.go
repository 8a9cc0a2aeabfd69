package sched

import "time"

// Priority range accepted by Spawn. Priorities are clamped into one of Levels
// ready lists and never change after creation.
const (
	PriorityMin = -16
	PriorityMax = 15
	Levels      = PriorityMax - PriorityMin + 1
)

// ThreadID is a stable thread handle.
//
// The low 16 bits select a handle-table slot, the high bits carry the slot
// generation, so a handle freed and reused never resolves to the new owner.
type ThreadID int32

// InvalidThread is never assigned to a thread.
const InvalidThread ThreadID = -1

func (id ThreadID) slot() int   { return int(uint32(id) & 0xFFFF) }
func (id ThreadID) gen() uint16 { return uint16(uint32(id) >> 16) }

func makeThreadID(slot int, gen uint16) ThreadID {
	return ThreadID(uint32(gen&0x7FFF)<<16 | uint32(slot))
}

// State is the scheduling state of a thread.
type State uint8

const (
	Ready State = iota
	Running
	Sleeping
	Waiting
	Stopped
	Zombie
	Deleted
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Sleeping:
		return "sleeping"
	case Waiting:
		return "waiting"
	case Stopped:
		return "stopped"
	case Zombie:
		return "zombie"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// DetachState selects who releases a thread once its entry returns.
type DetachState uint8

const (
	// Detached threads are released by the reaper.
	Detached DetachState = iota
	// Joinable threads are released by the thread that joins them.
	Joinable
)

// Context is the machine context saved at a trap: the thread stack pointer and
// whether the thread runs privileged.
type Context struct {
	SP         uintptr
	Privileged bool
}

// Stack is an allocated stack block. Stacks grow down from Top; a saved stack
// pointer at or below Base is an overflow.
type Stack struct {
	Base uintptr
	Top  uintptr
}

// Size returns the stack size in bytes.
func (s Stack) Size() uintptr {
	if s.Top <= s.Base {
		return 0
	}
	return s.Top - s.Base
}

// EntryFunc is a thread body. Its return value becomes the exit code.
type EntryFunc func(arg any) int

type wakeReason uint8

const (
	wakeNone wakeReason = iota
	wakeQueue
	wakeTimeout
	wakeInterrupt
)

// Thread is the thread control block.
//
// Lists never own a Thread; the handle table does. All fields are guarded by
// the scheduler lock.
type Thread struct {
	id         ThreadID
	name       string
	level      int
	state      State
	ctx        Context
	stack      Stack
	detach     DetachState
	privileged bool

	runTime   time.Duration
	startTime time.Duration

	// link is in at most one of: a ready list, a foreign wait queue, the
	// zombie list.
	link node
	// timer is in the sleep list while the thread has a wake deadline.
	timer node

	joiners  WaitQueue
	exitCode int
	wake     wakeReason

	pending SignalSet
	blocked SignalSet

	kernelTLS uintptr
	userTLS   uintptr

	entry EntryFunc
	arg   any
}

func (t *Thread) init(p SpawnParams) {
	t.name = p.Name
	t.level = PriorityToLevel(p.Priority)
	t.stack = p.Stack
	t.detach = p.Detach
	t.privileged = p.Privileged
	t.kernelTLS = p.KernelTLS
	t.userTLS = p.UserTLS
	t.entry = p.Entry
	t.arg = p.Arg
	t.link.thread = t
	t.timer.thread = t
}

func (t *Thread) ID() ThreadID        { return t.id }
func (t *Thread) Name() string        { return t.name }
func (t *Thread) State() State        { return t.state }
func (t *Thread) Level() int          { return t.level }
func (t *Thread) Priority() int       { return LevelToPriority(t.level) }
func (t *Thread) Stack() Stack        { return t.stack }
func (t *Thread) Privileged() bool    { return t.privileged }
func (t *Thread) Detach() DetachState { return t.detach }
func (t *Thread) Entry() EntryFunc    { return t.entry }
func (t *Thread) Arg() any            { return t.arg }
func (t *Thread) KernelTLS() uintptr  { return t.kernelTLS }
func (t *Thread) UserTLS() uintptr    { return t.userTLS }

// Context returns the context saved at the last trap.
func (t *Thread) Context() Context { return t.ctx }

// RunTime returns the accumulated time the thread spent Running, up to its
// last switch.
func (t *Thread) RunTime() time.Duration { return t.runTime }

// ExitCode is the value returned by the thread entry. Only meaningful for
// Zombie threads.
func (t *Thread) ExitCode() int { return t.exitCode }

// PriorityToLevel clamps a priority into a ready-list level.
func PriorityToLevel(priority int) int {
	level := priority - PriorityMin
	if level < 0 {
		return 0
	}
	if level > Levels-1 {
		return Levels - 1
	}
	return level
}

// LevelToPriority is the inverse of PriorityToLevel for in-range values.
func LevelToPriority(level int) int {
	return level + PriorityMin
}
