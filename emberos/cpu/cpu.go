// Package cpu is a deterministic single-core machine for the scheduler.
//
// Every logical thread is backed by a goroutine, and exactly one of them holds
// the baton at a time. Time is counted in cycles: each Checkpoint call is one
// cycle and the timer interrupt fires every CyclesPerTick cycles, so runs are
// reproducible regardless of host speed. The context-switch trap hands the
// baton to whatever the scheduler returns.
package cpu

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ember/emberos/sched"
	"ember/emberos/trace"
)

// Kernel is the scheduler surface the machine drives.
type Kernel interface {
	Switch(ctx sched.Context) sched.Context
	Tick()
	ExitThread(code int)
}

// Config configures a CPU.
type Config struct {
	// Quantum is the simulated time between timer interrupts.
	Quantum time.Duration
	// CyclesPerTick is the number of Checkpoint calls between interrupts.
	CyclesPerTick uint64
	// MaxTicks halts the machine after this many interrupts. Zero runs until
	// Shutdown or a kernel halt.
	MaxTicks uint64
	// StackBase is the lowest address handed out by AllocStack.
	StackBase uintptr
	// Pace, when set, gates every interrupt on one receive so simulated time
	// follows a real tick source.
	Pace <-chan uint64

	Trace      *trace.Ring
	TraceTicks bool

	// OnSignal runs on the target thread's stack for each delivered signal.
	OnSignal func(id sched.ThreadID, sig sched.Signal)
	// OnPanic is called when a thread body panics. The machine halts after.
	OnPanic func(id sched.ThreadID, name string, v any)

	Log zerolog.Logger
}

// DefaultConfig returns a 1ms quantum with 64 cycles per tick.
func DefaultConfig() Config {
	return Config{
		Quantum:       time.Millisecond,
		CyclesPerTick: 64,
		StackBase:     0x2000_0000,
		Log:           zerolog.Nop(),
	}
}

// SignalFrameSize is the stack space one injected signal frame takes.
const SignalFrameSize = 64

// stackGuard separates consecutive stacks.
const stackGuard = 256

var ErrHalted = errors.New("cpu: halted")

type vthread struct {
	id         sched.ThreadID
	name       string
	entry      sched.EntryFunc
	arg        any
	stack      sched.Stack
	privileged bool

	sp      atomic.Uintptr
	resume  chan struct{}
	started bool
	exiting bool

	// frames are injected signals not yet run, oldest first. Guarded by tmu.
	frames []sched.Signal
}

// CPU implements sched.Port and sched.SignalInjector.
type CPU struct {
	cfg Config
	log zerolog.Logger
	k   Kernel

	// mu is the scheduler lock. Only the baton holder takes it, so a held
	// lock seen from Lock is always a nested acquire.
	mu sync.Mutex

	observer atomic.Pointer[func()]

	tmu       sync.Mutex
	threads   []*vthread
	nextStack uintptr

	current atomic.Pointer[vthread]
	cycles  atomic.Uint64
	ticks   atomic.Uint64

	// Only the baton holder touches these.
	inISR   bool
	pending bool

	launched atomic.Bool
	stop     atomic.Bool
	halted   chan struct{}
	haltOnce sync.Once
	reason   atomic.Value // string
}

// New builds a machine. Attach must be called before Launch.
func New(cfg Config) *CPU {
	def := DefaultConfig()
	if cfg.Quantum <= 0 {
		cfg.Quantum = def.Quantum
	}
	if cfg.CyclesPerTick == 0 {
		cfg.CyclesPerTick = def.CyclesPerTick
	}
	if cfg.StackBase == 0 {
		cfg.StackBase = def.StackBase
	}
	return &CPU{
		cfg:       cfg,
		log:       cfg.Log,
		nextStack: cfg.StackBase,
		halted:    make(chan struct{}),
	}
}

// Attach sets the kernel that handles the machine's interrupts.
func (m *CPU) Attach(k Kernel) { m.k = k }

// AllocStack reserves size bytes of simulated stack address space.
func (m *CPU) AllocStack(size uintptr) sched.Stack {
	m.tmu.Lock()
	defer m.tmu.Unlock()
	base := m.nextStack
	m.nextStack = base + size + stackGuard
	return sched.Stack{Base: base, Top: base + size}
}

// Lock never blocks. It returns sched.IRQNested when the running thread
// already holds the lock.
func (m *CPU) Lock() sched.IRQState {
	if !m.mu.TryLock() {
		return sched.IRQNested
	}
	return 0
}

func (m *CPU) Unlock(st sched.IRQState) {
	if st == sched.IRQNested {
		return
	}
	m.mu.Unlock()
}

// Observe runs fn in interrupt context at the next timer tick, or at once if
// the machine has halted. fn may call scheduler methods. Goroutines other than
// the machine's threads must reach the scheduler this way. Observe reports
// false if fn was dropped because an earlier observation is still pending or
// the halted machine left the lock held.
func (m *CPU) Observe(fn func()) bool {
	select {
	case <-m.halted:
		if !m.mu.TryLock() {
			return false
		}
		m.mu.Unlock()
		fn()
		return true
	default:
	}
	return m.observer.CompareAndSwap(nil, &fn)
}

// Clock converts elapsed cycles to simulated time.
func (m *CPU) Clock() time.Duration {
	return time.Duration(m.cycles.Load()) * m.cfg.Quantum / time.Duration(m.cfg.CyclesPerTick)
}

func (m *CPU) StackPointer() uintptr {
	if vt := m.current.Load(); vt != nil {
		return vt.sp.Load()
	}
	return 0
}

// InitContext registers a goroutine-backed thread for t. The goroutine starts
// the first time the trap resumes it.
func (m *CPU) InitContext(t *sched.Thread) sched.Context {
	vt := &vthread{
		id:         t.ID(),
		name:       t.Name(),
		entry:      t.Entry(),
		arg:        t.Arg(),
		stack:      t.Stack(),
		privileged: t.Privileged(),
		resume:     make(chan struct{}, 1),
		frames:     make([]sched.Signal, 0, 32),
	}
	vt.sp.Store(vt.stack.Top)

	m.tmu.Lock()
	for i, old := range m.threads {
		if old.stack == vt.stack {
			m.threads = append(m.threads[:i], m.threads[i+1:]...)
			break
		}
	}
	m.threads = append(m.threads, vt)
	m.tmu.Unlock()

	return sched.Context{SP: vt.stack.Top, Privileged: vt.privileged}
}

func (m *CPU) lookup(sp uintptr) *vthread {
	m.tmu.Lock()
	defer m.tmu.Unlock()
	return m.lookupLocked(sp)
}

func (m *CPU) lookupLocked(sp uintptr) *vthread {
	for _, vt := range m.threads {
		if sp > vt.stack.Base && sp <= vt.stack.Top {
			return vt
		}
	}
	return nil
}

func (m *CPU) forget(vt *vthread) {
	m.tmu.Lock()
	for i, old := range m.threads {
		if old == vt {
			m.threads = append(m.threads[:i], m.threads[i+1:]...)
			break
		}
	}
	m.tmu.Unlock()
}

// Launch runs first on a new goroutine and blocks until the machine halts.
func (m *CPU) Launch(first sched.Context) error {
	if m.k == nil {
		return errors.New("cpu: no kernel attached")
	}
	vt := m.lookup(first.SP)
	if vt == nil {
		return fmt.Errorf("cpu: no thread owns sp %#x", first.SP)
	}
	if !m.launched.CompareAndSwap(false, true) {
		return errors.New("cpu: already launched")
	}

	m.log.Info().Str("first", vt.name).Uint64("cycles_per_tick", m.cfg.CyclesPerTick).Msg("launch")
	m.current.Store(vt)
	vt.started = true
	go m.run(vt, true)

	<-m.halted
	return nil
}

func (m *CPU) run(vt *vthread, boot bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("thread", vt.name).Interface("panic", r).Msg("thread panic")
			if m.cfg.OnPanic != nil {
				m.cfg.OnPanic(vt.id, vt.name, r)
			}
			m.Halt(fmt.Sprintf("thread %s panicked", vt.name))
		}
	}()

	if boot {
		// The first thread traps at once so a queued main thread runs
		// without waiting for the first tick.
		m.trap()
	} else {
		m.deliver(vt)
	}
	code := vt.entry(vt.arg)
	vt.exiting = true
	m.k.ExitThread(code)
}

// PendSwitch takes the trap now from thread context, or on interrupt exit
// from the tick handler.
func (m *CPU) PendSwitch() {
	if m.inISR {
		m.pending = true
		return
	}
	m.trap()
}

func (m *CPU) trap() {
	cur := m.current.Load()
	next := m.k.Switch(sched.Context{SP: cur.sp.Load(), Privileged: cur.privileged})

	nvt := m.lookup(next.SP)
	if nvt == nil {
		m.Halt(fmt.Sprintf("resume of unknown context sp %#x", next.SP))
	}
	nvt.sp.Store(next.SP)

	if nvt == cur {
		m.deliver(cur)
		return
	}
	m.record(trace.Event{Kind: trace.KindSwitch, From: cur.id, To: nvt.id})

	m.current.Store(nvt)
	if !nvt.started {
		nvt.started = true
		go m.run(nvt, false)
	} else {
		nvt.resume <- struct{}{}
	}

	if cur.exiting {
		m.forget(cur)
		runtime.Goexit()
	}
	select {
	case <-cur.resume:
	case <-m.halted:
		runtime.Goexit()
	}
	m.deliver(cur)
}

// deliver runs the signal frames injected into vt, oldest first, popping each
// frame when its handler returns.
func (m *CPU) deliver(vt *vthread) {
	for {
		m.tmu.Lock()
		if len(vt.frames) == 0 {
			m.tmu.Unlock()
			return
		}
		sig := vt.frames[0]
		copy(vt.frames, vt.frames[1:])
		vt.frames = vt.frames[:len(vt.frames)-1]
		m.tmu.Unlock()

		if h := m.cfg.OnSignal; h != nil {
			h(vt.id, sig)
		}
		vt.sp.Add(SignalFrameSize)
	}
}

// InjectSignals pushes one frame per deliverable signal onto t's stack. The
// frames run when the thread's goroutine next holds the baton.
func (m *CPU) InjectSignals(t *sched.Thread, ctx sched.Context) sched.Context {
	m.tmu.Lock()
	defer m.tmu.Unlock()
	vt := m.lookupLocked(ctx.SP)
	if vt == nil {
		return ctx
	}
	for sig, ok := t.TakeSignal(); ok; sig, ok = t.TakeSignal() {
		ctx.SP -= SignalFrameSize
		vt.frames = append(vt.frames, sig)
		m.record(trace.Event{Kind: trace.KindSignal, From: vt.id, To: vt.id, Arg: uint32(sig)})
	}
	return ctx
}

// Checkpoint is one cycle of thread work. It may take the timer interrupt and
// with it a context switch.
func (m *CPU) Checkpoint() {
	if m.stop.Load() {
		m.Halt("shutdown")
	}
	if m.cycles.Add(1)%m.cfg.CyclesPerTick == 0 {
		m.interrupt()
	}
}

// Compute runs n cycles.
func (m *CPU) Compute(n int) {
	for i := 0; i < n; i++ {
		m.Checkpoint()
	}
}

// WaitForInterrupt skips ahead to the next tick boundary and takes the
// interrupt.
func (m *CPU) WaitForInterrupt() {
	if m.stop.Load() {
		m.Halt("shutdown")
	}
	per := m.cfg.CyclesPerTick
	c := m.cycles.Load()
	m.cycles.Store((c/per + 1) * per)
	m.interrupt()
}

func (m *CPU) interrupt() {
	if m.cfg.Pace != nil {
		select {
		case _, ok := <-m.cfg.Pace:
			if !ok {
				m.Halt("pace source closed")
			}
		case <-m.halted:
			runtime.Goexit()
		}
	}

	if fn := m.observer.Swap(nil); fn != nil {
		(*fn)()
	}

	n := m.ticks.Add(1)
	m.inISR = true
	m.k.Tick()
	m.inISR = false

	if m.cfg.TraceTicks {
		cur := m.current.Load()
		m.record(trace.Event{Kind: trace.KindTick, From: cur.id, To: cur.id})
	}
	if m.cfg.MaxTicks > 0 && n >= m.cfg.MaxTicks {
		m.Halt("tick limit")
	}
	if m.pending {
		m.pending = false
		m.trap()
	}
}

// Push grows the running thread's stack by n bytes.
func (m *CPU) Push(n uintptr) {
	if vt := m.current.Load(); vt != nil {
		vt.sp.Add(^(n - 1))
	}
}

// Pop releases n bytes of the running thread's stack.
func (m *CPU) Pop(n uintptr) {
	if vt := m.current.Load(); vt != nil {
		vt.sp.Add(n)
	}
}

// Halt stops the machine and ends the calling goroutine. Launch returns once
// the machine is halted.
func (m *CPU) Halt(reason string) {
	m.haltOnce.Do(func() {
		m.reason.Store(reason)
		id := sched.InvalidThread
		if cur := m.current.Load(); cur != nil {
			id = cur.id
		}
		m.record(trace.Event{Kind: trace.KindHalt, From: id, To: id})
		m.log.Info().Str("reason", reason).Uint64("ticks", m.ticks.Load()).Uint64("cycles", m.cycles.Load()).Msg("halt")
		close(m.halted)
	})
	runtime.Goexit()
}

// Shutdown asks the running thread to halt the machine at its next cycle.
// Safe from any goroutine.
func (m *CPU) Shutdown() { m.stop.Store(true) }

// Done is closed once the machine halts.
func (m *CPU) Done() <-chan struct{} { return m.halted }

// HaltReason returns the reason passed to Halt, or "" while running.
func (m *CPU) HaltReason() string {
	if v, ok := m.reason.Load().(string); ok {
		return v
	}
	return ""
}

// Ticks returns the number of timer interrupts taken.
func (m *CPU) Ticks() uint64 { return m.ticks.Load() }

// Cycles returns the number of cycles run.
func (m *CPU) Cycles() uint64 { return m.cycles.Load() }

func (m *CPU) record(ev trace.Event) {
	if m.cfg.Trace == nil {
		return
	}
	ev.Tick = m.ticks.Load()
	ev.Cycle = m.cycles.Load()
	m.cfg.Trace.TrySend(ev)
}
