package workload

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"ember/emberos/sched"
)

// Op is a step operation.
type Op uint8

const (
	OpCompute Op = iota + 1
	OpSleep
	OpWake
	OpWait
	OpPush
	OpPop
	OpRaise
	OpSpawn
	OpJoin
	OpSuspend
	OpResume
	OpExit
	OpLog
	OpYield
)

var opNames = map[string]Op{
	"compute": OpCompute,
	"sleep":   OpSleep,
	"wake":    OpWake,
	"wait":    OpWait,
	"push":    OpPush,
	"pop":     OpPop,
	"raise":   OpRaise,
	"spawn":   OpSpawn,
	"join":    OpJoin,
	"suspend": OpSuspend,
	"resume":  OpResume,
	"exit":    OpExit,
	"log":     OpLog,
	"yield":   OpYield,
}

func (o Op) String() string {
	for name, op := range opNames {
		if op == o {
			return name
		}
	}
	return "unknown"
}

// Step is one scripted action. In YAML a step is a single-key mapping such as
// "compute: 100" or "wait: {queue: jobs, timeout: 5}"; "yield" and "suspend"
// may also be written bare.
type Step struct {
	Op Op
	// N is the cycle count, tick count, byte count or exit code.
	N      int
	Queue  string
	Count  int
	Thread string
	Signal sched.Signal
	Text   string
}

type queueArgs struct {
	Queue   string `yaml:"queue"`
	Count   int    `yaml:"count,omitempty"`
	Timeout int    `yaml:"timeout,omitempty"`
}

type raiseArgs struct {
	Thread string `yaml:"thread"`
	Signal int    `yaml:"signal"`
}

func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	var key string
	var val *yaml.Node
	switch node.Kind {
	case yaml.ScalarNode:
		key = node.Value
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("line %d: step needs exactly one operation: %w", node.Line, ErrBadStep)
		}
		key, val = node.Content[0].Value, node.Content[1]
	default:
		return fmt.Errorf("line %d: step is not a mapping: %w", node.Line, ErrBadStep)
	}

	op, ok := opNames[key]
	if !ok {
		return fmt.Errorf("line %d: unknown operation %q: %w", node.Line, key, ErrBadStep)
	}
	s.Op = op
	if val == nil {
		if op != OpYield && op != OpSuspend {
			return fmt.Errorf("line %d: %s needs an argument: %w", node.Line, key, ErrBadStep)
		}
		return nil
	}

	var err error
	switch op {
	case OpCompute, OpSleep, OpPush, OpPop, OpExit:
		err = val.Decode(&s.N)
	case OpWake, OpWait:
		var a queueArgs
		err = val.Decode(&a)
		s.Queue, s.Count, s.N = a.Queue, a.Count, a.Timeout
	case OpRaise:
		var a raiseArgs
		err = val.Decode(&a)
		s.Thread, s.Signal = a.Thread, sched.Signal(a.Signal)
	case OpSpawn, OpJoin, OpResume:
		err = val.Decode(&s.Thread)
	case OpLog:
		err = val.Decode(&s.Text)
	case OpYield, OpSuspend:
		var b bool
		err = val.Decode(&b)
	}
	if err != nil {
		return fmt.Errorf("line %d: %s: %w", node.Line, key, err)
	}
	return nil
}

// MarshalYAML writes the single-key form UnmarshalYAML reads.
func (s Step) MarshalYAML() (any, error) {
	name := s.Op.String()
	var arg any
	switch s.Op {
	case OpCompute, OpSleep, OpPush, OpPop, OpExit:
		arg = s.N
	case OpWake, OpWait:
		arg = queueArgs{Queue: s.Queue, Count: s.Count, Timeout: s.N}
	case OpRaise:
		arg = raiseArgs{Thread: s.Thread, Signal: int(s.Signal)}
	case OpSpawn, OpJoin, OpResume:
		arg = s.Thread
	case OpLog:
		arg = s.Text
	case OpYield, OpSuspend:
		return name, nil
	default:
		return nil, fmt.Errorf("marshal step: %w", ErrBadStep)
	}
	return map[string]any{name: arg}, nil
}

func (s Step) check(queues, threads map[string]bool) error {
	switch s.Op {
	case OpCompute, OpSleep, OpPush, OpPop:
		if s.N < 0 {
			return fmt.Errorf("%s %d: %w", s.Op, s.N, ErrBadValue)
		}
	case OpWake, OpWait:
		if !queues[s.Queue] {
			return fmt.Errorf("%s %q: %w", s.Op, s.Queue, ErrUnknownQueue)
		}
		if s.Count < 0 || s.N < 0 {
			return fmt.Errorf("%s %q: %w", s.Op, s.Queue, ErrBadValue)
		}
	case OpRaise:
		if !threads[s.Thread] {
			return fmt.Errorf("raise %q: %w", s.Thread, ErrUnknownThread)
		}
		if s.Signal < 1 || s.Signal > 31 {
			return fmt.Errorf("raise signal %d: %w", s.Signal, ErrBadValue)
		}
	case OpSpawn, OpJoin, OpResume:
		if !threads[s.Thread] {
			return fmt.Errorf("%s %q: %w", s.Op, s.Thread, ErrUnknownThread)
		}
	}
	return nil
}
