package kernel

import (
	"strings"
	"testing"
	"time"

	"ember/emberos/sched"
)

func bootForTest(t *testing.T) *Kernel {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CPU.CyclesPerTick = 8
	cfg.CPU.MaxTicks = 50
	k, err := Boot(cfg)
	if err != nil {
		t.Fatalf("Boot() err = %v", err)
	}
	return k
}

func runForTest(t *testing.T, k *Kernel, main sched.SpawnParams) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- k.Run(main) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() err = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("kernel did not halt")
	}
}

func TestBootRejectsUnsizedStacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleStackSize = 0
	if _, err := Boot(cfg); err == nil {
		t.Fatalf("Boot() err = nil, want error")
	}
}

func TestBootRunsMain(t *testing.T) {
	k := bootForTest(t)

	var now time.Duration
	runForTest(t, k, sched.SpawnParams{
		Name:  "main",
		Stack: k.CPU.AllocStack(4096),
		Entry: func(any) int {
			k.CPU.Compute(100)
			now = k.Sched.Now()
			k.Sched.Halt("done")
			return 0
		},
	})

	if got := k.HaltReason(); got != "done" {
		t.Fatalf("HaltReason() = %q, want done", got)
	}
	// 100 cycles at 8 per tick.
	if want := 12 * k.Sched.Quantum(); now != want {
		t.Fatalf("Now() = %v, want %v", now, want)
	}
	if InPanicMode() {
		t.Fatalf("InPanicMode() = true after a clean halt")
	}
}

func TestFatalReachesPanicHandlerOnce(t *testing.T) {
	var got []PanicInfo
	SetPanicHandler(func(info PanicInfo) { got = append(got, info) })
	defer SetPanicHandler(nil)

	k := bootForTest(t)
	var main sched.ThreadID
	runForTest(t, k, sched.SpawnParams{
		Name:  "main",
		Stack: k.CPU.AllocStack(512),
		Entry: func(any) int {
			main = k.Sched.Current().ID()
			k.CPU.Push(1024)
			k.Sched.Yield()
			return 0
		},
	})

	if !InPanicMode() {
		t.Fatalf("InPanicMode() = false after a fatal")
	}
	if len(got) != 1 {
		t.Fatalf("handler calls = %d, want 1", len(got))
	}
	if got[0].Reason != "stack overflow" || got[0].Thread != main || got[0].Name != "main" {
		t.Fatalf("PanicInfo = %+v, want stack overflow in main", got[0])
	}
	if len(got[0].Stack) == 0 {
		t.Fatalf("PanicInfo.Stack empty")
	}
	if strings.Contains(string(got[0].Stack), "sync.(*Once)") {
		t.Fatalf("PanicInfo.Stack includes the panic path:\n%s", got[0].Stack)
	}

	triggerPanic(PanicInfo{Reason: "second"})
	if len(got) != 1 {
		t.Fatalf("handler ran again on a second panic")
	}
}
