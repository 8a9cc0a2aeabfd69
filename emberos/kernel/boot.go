// Package kernel boots the scheduler on the machine and owns the process-wide
// panic path.
package kernel

import (
	"fmt"

	"github.com/rs/zerolog"

	"ember/emberos/cpu"
	"ember/emberos/sched"
)

// Config sizes the boot.
type Config struct {
	Sched sched.Config
	CPU   cpu.Config

	IdleStackSize   uintptr
	ReaperStackSize uintptr

	Log zerolog.Logger
}

// DefaultConfig returns the scheduler and machine defaults with 1KiB boot
// stacks.
func DefaultConfig() Config {
	return Config{
		Sched:           sched.DefaultConfig(),
		CPU:             cpu.DefaultConfig(),
		IdleStackSize:   1024,
		ReaperStackSize: 2048,
		Log:             zerolog.Nop(),
	}
}

// Kernel is a booted system: the scheduler and the machine it runs on.
type Kernel struct {
	CPU   *cpu.CPU
	Sched *sched.Scheduler

	log zerolog.Logger
}

// Boot builds the machine and the scheduler. Nothing runs until Run.
//
// Scheduler fatals and thread panics both go through the panic handler.
func Boot(cfg Config) (*Kernel, error) {
	if cfg.IdleStackSize == 0 || cfg.ReaperStackSize == 0 {
		return nil, fmt.Errorf("kernel: boot stacks not sized")
	}

	onPanic := cfg.CPU.OnPanic
	cfg.CPU.OnPanic = func(id sched.ThreadID, name string, v any) {
		if onPanic != nil {
			onPanic(id, name, v)
		}
		triggerPanic(PanicInfo{Thread: id, Name: name, Reason: "thread panic", Value: v})
	}
	if cfg.CPU.Quantum == 0 {
		cfg.CPU.Quantum = cfg.Sched.Quantum
	}
	cfg.CPU.Log = cfg.Log.With().Str("component", "cpu").Logger()
	m := cpu.New(cfg.CPU)

	onFatal := cfg.Sched.OnFatal
	cfg.Sched.OnFatal = func(f sched.Fatal) {
		if onFatal != nil {
			onFatal(f)
		}
		triggerPanic(PanicInfo{Thread: f.Thread, Name: f.Name, Reason: f.Reason})
	}
	cfg.Sched.Quantum = cfg.CPU.Quantum
	cfg.Sched.IdleStack = m.AllocStack(cfg.IdleStackSize)
	cfg.Sched.ReaperStack = m.AllocStack(cfg.ReaperStackSize)
	cfg.Sched.Signals = m
	cfg.Sched.Log = cfg.Log.With().Str("component", "sched").Logger()

	s, err := sched.New(cfg.Sched, m)
	if err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}
	m.Attach(s)

	return &Kernel{CPU: m, Sched: s, log: cfg.Log}, nil
}

// Run starts main and blocks until the machine halts. A failed launch is
// fatal: the panic handler runs and the error is returned.
func (k *Kernel) Run(main sched.SpawnParams) error {
	k.log.Info().Str("main", main.Name).Msg("boot")
	if err := k.Sched.Start(main); err != nil {
		triggerPanic(PanicInfo{Thread: sched.InvalidThread, Name: main.Name, Reason: err.Error()})
		return fmt.Errorf("kernel: start: %w", err)
	}
	return nil
}

// HaltReason reports why the machine stopped.
func (k *Kernel) HaltReason() string { return k.CPU.HaltReason() }
