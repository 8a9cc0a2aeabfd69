package workload

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ember/emberos/kernel"
	"ember/emberos/sched"
)

// ThreadReport summarizes one scripted thread after a run.
type ThreadReport struct {
	Name     string
	Spawns   int
	Steps    int
	Signals  int
	Errors   int
	Exited   bool
	ExitCode int
}

// Runner executes a Scenario on a booted kernel. Every step costs one machine
// cycle on top of what the step itself does.
type Runner struct {
	sc  *Scenario
	k   *kernel.Kernel
	log zerolog.Logger

	queues map[string]*sched.WaitQueue

	mu      sync.Mutex
	ids     map[string]sched.ThreadID
	names   map[sched.ThreadID]string
	reports map[string]*ThreadReport
	live    int
}

// NewRunner prepares sc. Bind it to a kernel before running Main.
func NewRunner(sc *Scenario, log zerolog.Logger) *Runner {
	r := &Runner{
		sc:      sc,
		log:     log,
		queues:  make(map[string]*sched.WaitQueue, len(sc.Queues)),
		ids:     make(map[string]sched.ThreadID),
		names:   make(map[sched.ThreadID]string),
		reports: make(map[string]*ThreadReport, len(sc.Threads)),
	}
	for _, q := range sc.Queues {
		r.queues[q] = &sched.WaitQueue{}
	}
	for _, th := range sc.Threads {
		r.reports[th.Name] = &ThreadReport{Name: th.Name}
	}
	return r
}

// Bind sets the kernel the scenario runs on.
func (r *Runner) Bind(k *kernel.Kernel) { r.k = k }

// Main returns the workload main thread: it spawns every thread that is not
// deferred and exits.
func (r *Runner) Main() sched.SpawnParams {
	return sched.SpawnParams{
		Name:       "main",
		Entry:      r.main,
		Stack:      r.k.CPU.AllocStack(defaultStack),
		Priority:   sched.PriorityMax,
		Detach:     sched.Detached,
		Privileged: true,
	}
}

func (r *Runner) main(any) int {
	r.log.Info().Str("scenario", r.sc.Name).Int("threads", len(r.sc.Threads)).Msg("workload start")
	for i := range r.sc.Threads {
		spec := &r.sc.Threads[i]
		if spec.Deferred {
			continue
		}
		if _, err := r.spawn(spec); err != nil {
			r.log.Error().Err(err).Str("thread", spec.Name).Msg("spawn")
		}
	}
	return 0
}

func (r *Runner) spawn(spec *ThreadSpec) (sched.ThreadID, error) {
	detach := sched.Joinable
	if spec.Detached {
		detach = sched.Detached
	}

	r.mu.Lock()
	r.live++
	r.reports[spec.Name].Spawns++
	r.mu.Unlock()

	id, err := r.k.Sched.Spawn(sched.SpawnParams{
		Name:       spec.Name,
		Entry:      r.body,
		Arg:        spec,
		Stack:      r.k.CPU.AllocStack(uintptr(spec.Stack)),
		Priority:   spec.Priority,
		Detach:     detach,
		Privileged: spec.Privileged,
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.live--
		r.reports[spec.Name].Spawns--
		return sched.InvalidThread, fmt.Errorf("spawn %q: %w", spec.Name, err)
	}
	r.ids[spec.Name] = id
	r.names[id] = spec.Name
	return id, nil
}

func (r *Runner) lookup(name string) sched.ThreadID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[name]; ok {
		return id
	}
	return sched.InvalidThread
}

func (r *Runner) body(arg any) int {
	spec := arg.(*ThreadSpec)
	log := r.log.With().Str("thread", spec.Name).Logger()

	code := 0
run:
	for rep := 0; spec.Repeat < 0 || rep < spec.Repeat; rep++ {
		for _, st := range spec.Steps {
			r.note(spec.Name, func(rep *ThreadReport) { rep.Steps++ })
			if exit, c := r.exec(log, spec, st); exit {
				code = c
				break run
			}
			r.k.CPU.Checkpoint()
		}
	}

	r.finish(log, spec.Name, code)
	return code
}

func (r *Runner) exec(log zerolog.Logger, spec *ThreadSpec, st Step) (exit bool, code int) {
	s, m := r.k.Sched, r.k.CPU
	log.Debug().Stringer("op", st.Op).Msg("step")

	var err error
	switch st.Op {
	case OpCompute:
		m.Compute(st.N)
	case OpSleep:
		err = s.Snooze(time.Duration(st.N) * s.Quantum())
	case OpWake:
		if s.Wake(r.queues[st.Queue], st.Count) {
			s.Yield()
		}
	case OpWait:
		err = s.WaitOn(r.queues[st.Queue], time.Duration(st.N)*s.Quantum())
	case OpPush:
		m.Push(uintptr(st.N))
	case OpPop:
		m.Pop(uintptr(st.N))
	case OpRaise:
		err = s.Raise(r.lookup(st.Thread), st.Signal)
	case OpSpawn:
		target := r.spec(st.Thread)
		_, err = r.spawn(target)
	case OpJoin:
		var c int
		c, err = s.Join(r.lookup(st.Thread))
		if err == nil {
			log.Info().Str("target", st.Thread).Int("code", c).Msg("joined")
		}
	case OpSuspend:
		s.Stop()
	case OpResume:
		err = s.WakeupThread(r.lookup(st.Thread), true)
	case OpExit:
		return true, st.N
	case OpLog:
		log.Info().Msg(st.Text)
	case OpYield:
		s.Yield()
	}

	if err != nil {
		r.note(spec.Name, func(rep *ThreadReport) { rep.Errors++ })
		log.Debug().Err(err).Stringer("op", st.Op).Msg("step failed")
	}
	return false, 0
}

func (r *Runner) spec(name string) *ThreadSpec {
	for i := range r.sc.Threads {
		if r.sc.Threads[i].Name == name {
			return &r.sc.Threads[i]
		}
	}
	return nil
}

func (r *Runner) note(name string, fn func(*ThreadReport)) {
	r.mu.Lock()
	fn(r.reports[name])
	r.mu.Unlock()
}

func (r *Runner) finish(log zerolog.Logger, name string, code int) {
	r.mu.Lock()
	rep := r.reports[name]
	rep.Exited = true
	rep.ExitCode = code
	r.live--
	last := r.live == 0
	r.mu.Unlock()

	log.Info().Int("code", code).Msg("thread done")
	if last {
		r.log.Info().Msg("workload complete")
		r.k.Sched.Halt("workload complete")
	}
}

// HandleSignal counts a delivered signal. Install it as cpu.Config.OnSignal.
func (r *Runner) HandleSignal(id sched.ThreadID, sig sched.Signal) {
	r.mu.Lock()
	name, ok := r.names[id]
	if ok {
		r.reports[name].Signals++
	}
	r.mu.Unlock()
	r.log.Info().Str("thread", name).Uint8("signal", uint8(sig)).Msg("signal")
}

// Reports returns one report per scenario thread, in scenario order.
func (r *Runner) Reports() []ThreadReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ThreadReport, 0, len(r.sc.Threads))
	for _, th := range r.sc.Threads {
		out = append(out, *r.reports[th.Name])
	}
	return out
}
