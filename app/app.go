// Package app wires the HAL, the kernel, a workload and the monitor together.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ember/emberos/kernel"
	"ember/emberos/monitor"
	"ember/emberos/sched"
	"ember/emberos/trace"
	"ember/emberos/workload"
	"ember/hal"
	"ember/internal/buildinfo"
	"ember/internal/logging"
)

// ErrPanicked is returned by the step function after a kernel panic.
var ErrPanicked = errors.New("app: kernel panic")

// Config selects the workload and how the machine is driven.
type Config struct {
	// Scenario defaults to workload.Default().
	Scenario *workload.Scenario
	// MaxTicks overrides the scenario tick limit when non-zero.
	MaxTicks uint64
	// Paced gates every machine tick on a hal.Time tick.
	Paced bool
	// ExitOnHalt makes the step function return hal.ErrStop once the machine
	// halted and the final frame was drawn.
	ExitOnHalt bool
	// TraceTicks also records timer ticks in the trace.
	TraceTicks bool

	LogLevel  zerolog.Level
	LogFormat string
}

type system struct {
	cfg    Config
	h      hal.HAL
	k      *kernel.Kernel
	runner *workload.Runner
	ring   *trace.Ring
	log    zerolog.Logger

	drawMu sync.Mutex
	mon    *monitor.Monitor

	// view is the latest thread table read on the machine by observe.
	viewMu sync.Mutex
	uptime time.Duration
	infos  []sched.ThreadInfo

	done chan struct{}
	err  error

	switches atomic.Uint64
	signals  atomic.Uint64
	stopped  bool
}

// New boots the system on h and starts the machine in the background. It
// returns the per-frame step function for the host loop.
func New(h hal.HAL, cfg Config) (func() error, error) {
	s, err := newSystem(h, cfg)
	if err != nil {
		return nil, err
	}
	return s.step, nil
}

// Run boots the system and blocks forever (TinyGo/native entrypoint).
func Run(h hal.HAL, cfg Config) {
	s, err := newSystem(h, cfg)
	if err != nil {
		h.Logger().WriteLineString("ember: " + err.Error())
		select {}
	}
	<-s.done
	s.step()
	select {}
}

func newSystem(h hal.HAL, cfg Config) (*system, error) {
	sc := cfg.Scenario
	if sc == nil {
		sc = workload.Default()
	}
	log := logging.NewWithWriter(cfg.LogLevel, cfg.LogFormat, logging.NewLineWriter(h.Logger()))

	s := &system{
		cfg:  cfg,
		h:    h,
		ring: &trace.Ring{},
		log:  log,
		done: make(chan struct{}),
	}
	if d := h.Display(); d != nil {
		if fb := d.Framebuffer(); fb != nil && fb.Buffer() != nil {
			s.mon = monitor.New(fb)
		}
	}
	s.runner = workload.NewRunner(sc, log.With().Str("component", "workload").Logger())
	installPanicHandler(s)

	kcfg := kernel.DefaultConfig()
	kcfg.Log = log
	kcfg.Sched = sc.SchedConfig(kcfg.Sched)
	kcfg.CPU = sc.CPUConfig(kcfg.CPU)
	if cfg.MaxTicks > 0 {
		kcfg.CPU.MaxTicks = cfg.MaxTicks
	}
	if cfg.Paced {
		if ht := h.Time(); ht != nil {
			kcfg.CPU.Pace = ht.Ticks()
		}
	}
	kcfg.CPU.Trace = s.ring
	kcfg.CPU.TraceTicks = cfg.TraceTicks
	kcfg.CPU.OnSignal = s.runner.HandleSignal

	k, err := kernel.Boot(kcfg)
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	s.k = k
	s.runner.Bind(k)

	log.Info().
		Str("build", buildinfo.Short()).
		Str("scenario", sc.Name).
		Int("threads", len(sc.Threads)).
		Bool("paced", kcfg.CPU.Pace != nil).
		Msg("system boot")

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		if err := k.Run(s.runner.Main()); err != nil {
			return err
		}
		if kernel.InPanicMode() {
			return fmt.Errorf("%w: %s", ErrPanicked, k.HaltReason())
		}
		return nil
	})
	g.Go(func() error {
		return s.drainTrace(ctx)
	})
	go func() {
		s.err = g.Wait()
		s.logSummary()
		close(s.done)
	}()
	return s, nil
}

// drainTrace logs trace events until ctx ends, then drains what is left.
func (s *system) drainTrace(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.ring.Drain(s.traceEvent)
			return nil
		case <-t.C:
			s.ring.Drain(s.traceEvent)
		}
	}
}

func (s *system) traceEvent(ev trace.Event) {
	switch ev.Kind {
	case trace.KindSwitch:
		s.switches.Add(1)
	case trace.KindSignal:
		s.signals.Add(1)
	}
	s.log.Trace().Stringer("event", ev).Msg("trace")
}

func (s *system) step() error {
	s.pollInput()

	halted := false
	select {
	case <-s.done:
		halted = true
	default:
	}

	s.render(halted)

	if !halted {
		return nil
	}
	if s.err != nil {
		return s.err
	}
	if s.stopped || s.cfg.ExitOnHalt {
		return hal.ErrStop
	}
	return nil
}

func (s *system) pollInput() {
	in := s.h.Input()
	if in == nil {
		return
	}
	kbd := in.Keyboard()
	if kbd == nil {
		return
	}
	for {
		select {
		case ev := <-kbd.Events():
			if ev.Press && ev.Code == hal.KeyEscape {
				s.log.Info().Msg("shutdown requested")
				s.stopped = true
				s.k.CPU.Shutdown()
			}
		default:
			return
		}
	}
}

func (s *system) render(halted bool) {
	if s.mon == nil || kernel.InPanicMode() {
		return
	}
	s.k.CPU.Observe(s.observe)

	s.viewMu.Lock()
	uptime, infos := s.uptime, s.infos
	s.viewMu.Unlock()

	st := monitor.Status{
		Build:   buildinfo.Short(),
		Ticks:   s.k.CPU.Ticks(),
		Uptime:  uptime,
		Cycles:  s.k.CPU.Cycles(),
		Dropped: s.ring.Dropped(),
	}
	if halted {
		st.Halted = s.k.HaltReason()
	}

	s.drawMu.Lock()
	defer s.drawMu.Unlock()
	if err := s.mon.Render(st, infos); err != nil && !errors.Is(err, hal.ErrNotImplemented) {
		s.log.Warn().Err(err).Msg("monitor render")
	}
}

// observe is handed to CPU.Observe. It reads the scheduler from the timer
// interrupt, or from the caller once the machine halted.
func (s *system) observe() {
	uptime := s.k.Sched.Now()
	infos := monitor.Snapshot(s.k.Sched)

	s.viewMu.Lock()
	s.uptime, s.infos = uptime, infos
	s.viewMu.Unlock()
}

func (s *system) logSummary() {
	s.log.Info().
		Str("reason", s.k.HaltReason()).
		Uint64("ticks", s.k.CPU.Ticks()).
		Uint64("cycles", s.k.CPU.Cycles()).
		Uint64("switches", s.switches.Load()).
		Uint64("signals", s.signals.Load()).
		Uint64("trace_dropped", s.ring.Dropped()).
		Msg("machine halted")
	for _, rep := range s.runner.Reports() {
		s.log.Info().
			Str("thread", rep.Name).
			Int("spawns", rep.Spawns).
			Int("steps", rep.Steps).
			Int("signals", rep.Signals).
			Int("errors", rep.Errors).
			Bool("exited", rep.Exited).
			Int("code", rep.ExitCode).
			Msg("thread report")
	}
}
