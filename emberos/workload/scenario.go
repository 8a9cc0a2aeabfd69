// Package workload loads YAML scenarios and runs them as scripted threads on
// the machine.
package workload

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ember/emberos/cpu"
	"ember/emberos/sched"
)

var (
	ErrNoThreads       = errors.New("workload: no threads")
	ErrDuplicateThread = errors.New("workload: duplicate thread")
	ErrUnknownThread   = errors.New("workload: unknown thread")
	ErrUnknownQueue    = errors.New("workload: unknown queue")
	ErrBadStep         = errors.New("workload: bad step")
	ErrBadValue        = errors.New("workload: bad value")
)

//go:embed default.yaml
var defaultScenario []byte

// Duration is a time.Duration written as "1ms", "250us" and so on.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration: %w", node.Line, err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: duration: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Scenario is a complete workload.
type Scenario struct {
	Name               string       `yaml:"name"`
	Quantum            Duration     `yaml:"quantum"`
	CyclesPerTick      uint64       `yaml:"cycles_per_tick"`
	MaxThreads         int          `yaml:"max_threads"`
	MaxTicks           uint64       `yaml:"max_ticks"`
	PreemptOnEqualWake bool         `yaml:"preempt_on_equal_wake"`
	Queues             []string     `yaml:"queues"`
	Threads            []ThreadSpec `yaml:"threads"`
}

// ThreadSpec is one scripted thread.
type ThreadSpec struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`
	Detached bool   `yaml:"detached"`
	// Privileged threads never receive signal frames.
	Privileged bool `yaml:"privileged"`
	// Deferred threads are started by a spawn step instead of at boot.
	Deferred bool `yaml:"deferred"`
	// Stack is the stack size in bytes.
	Stack uint64 `yaml:"stack"`
	// Repeat runs the steps this many times; -1 loops forever.
	Repeat int    `yaml:"repeat"`
	Steps  []Step `yaml:"steps"`
}

const (
	defaultCyclesPerTick = 64
	defaultMaxThreads    = 32
	defaultStack         = 2048
)

// Default returns the built-in scenario.
func Default() *Scenario {
	sc, err := Parse(defaultScenario)
	if err != nil {
		panic(fmt.Sprintf("workload: default scenario: %v", err))
	}
	return sc
}

// LoadFile reads and validates the scenario at path.
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sc, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Load decodes and validates a scenario. Unknown fields are errors.
func Load(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	sc.applyDefaults()
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Parse is Load over a byte slice.
func Parse(b []byte) (*Scenario, error) {
	return Load(bytes.NewReader(b))
}

func (sc *Scenario) applyDefaults() {
	if sc.Quantum == 0 {
		sc.Quantum = Duration(time.Millisecond)
	}
	if sc.CyclesPerTick == 0 {
		sc.CyclesPerTick = defaultCyclesPerTick
	}
	if sc.MaxThreads == 0 {
		sc.MaxThreads = defaultMaxThreads
	}
	for i := range sc.Threads {
		th := &sc.Threads[i]
		if th.Stack == 0 {
			th.Stack = defaultStack
		}
		if th.Repeat == 0 {
			th.Repeat = 1
		}
	}
}

// Validate checks names, references and values.
func (sc *Scenario) Validate() error {
	if len(sc.Threads) == 0 {
		return ErrNoThreads
	}
	if sc.Quantum <= 0 {
		return fmt.Errorf("quantum %v: %w", time.Duration(sc.Quantum), ErrBadValue)
	}
	// Two boot threads plus the workload main thread.
	if sc.MaxThreads < 4 {
		return fmt.Errorf("max_threads %d: %w", sc.MaxThreads, ErrBadValue)
	}

	queues := make(map[string]bool, len(sc.Queues))
	for _, q := range sc.Queues {
		queues[q] = true
	}
	threads := make(map[string]bool, len(sc.Threads))
	for _, th := range sc.Threads {
		if th.Name == "" {
			return fmt.Errorf("thread without name: %w", ErrBadValue)
		}
		if threads[th.Name] {
			return fmt.Errorf("%q: %w", th.Name, ErrDuplicateThread)
		}
		threads[th.Name] = true
		if th.Priority < sched.PriorityMin || th.Priority > sched.PriorityMax {
			return fmt.Errorf("thread %q priority %d: %w", th.Name, th.Priority, ErrBadValue)
		}
		if th.Repeat < -1 {
			return fmt.Errorf("thread %q repeat %d: %w", th.Name, th.Repeat, ErrBadValue)
		}
		if th.Stack < cpu.SignalFrameSize*4 {
			return fmt.Errorf("thread %q stack %d: %w", th.Name, th.Stack, ErrBadValue)
		}
	}

	for _, th := range sc.Threads {
		for i, st := range th.Steps {
			if err := st.check(queues, threads); err != nil {
				return fmt.Errorf("thread %q step %d: %w", th.Name, i+1, err)
			}
		}
	}
	return nil
}

// Thread returns the spec named name.
func (sc *Scenario) Thread(name string) (ThreadSpec, bool) {
	for _, th := range sc.Threads {
		if th.Name == name {
			return th, true
		}
	}
	return ThreadSpec{}, false
}

// SchedConfig applies the scenario to base.
func (sc *Scenario) SchedConfig(base sched.Config) sched.Config {
	base.Quantum = time.Duration(sc.Quantum)
	base.MaxThreads = sc.MaxThreads
	base.PreemptOnEqualWake = sc.PreemptOnEqualWake
	return base
}

// CPUConfig applies the scenario to base. A non-zero base.MaxTicks wins.
func (sc *Scenario) CPUConfig(base cpu.Config) cpu.Config {
	base.Quantum = time.Duration(sc.Quantum)
	base.CyclesPerTick = sc.CyclesPerTick
	if base.MaxTicks == 0 {
		base.MaxTicks = sc.MaxTicks
	}
	return base
}
