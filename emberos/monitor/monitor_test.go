package monitor

import (
	"image/color"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ember/emberos/kernel"
	"ember/emberos/sched"
	"ember/hal"
)

type memFramebuffer struct {
	w, h     int
	buf      []byte
	presents int
}

func newMemFramebuffer(w, h int) *memFramebuffer {
	return &memFramebuffer{w: w, h: h, buf: make([]byte, w*h*2)}
}

func (f *memFramebuffer) Width() int              { return f.w }
func (f *memFramebuffer) Height() int             { return f.h }
func (f *memFramebuffer) Format() hal.PixelFormat { return hal.PixelFormatRGB565 }
func (f *memFramebuffer) StrideBytes() int        { return f.w * 2 }
func (f *memFramebuffer) Buffer() []byte          { return f.buf }
func (f *memFramebuffer) ClearRGB(r, g, b uint8)  {}
func (f *memFramebuffer) Present() error          { f.presents++; return nil }

func (f *memFramebuffer) pixel(x, y int) uint16 {
	off := y*f.w*2 + x*2
	return uint16(f.buf[off]) | uint16(f.buf[off+1])<<8
}

func TestFormatRow(t *testing.T) {
	info := sched.ThreadInfo{
		ID:        sched.ThreadID(0x10003),
		Name:      "worker",
		State:     sched.Running,
		Priority:  3,
		RunTime:   1500 * time.Microsecond,
		StackSize: 2048,
		StackUsed: 512,
		Joinable:  true,
	}
	want := "0x10003 worker       3 running  1.5ms    512 B/2.0 KiB j"
	if got := FormatRow(info); got != want {
		t.Fatalf("FormatRow() = %q, want %q", got, want)
	}
}

func TestFormatRowTruncatesName(t *testing.T) {
	got := FormatRow(sched.ThreadInfo{Name: "a-very-long-thread-name", Privileged: true})
	if want := "0x0    a-very-lon "; got[:len(want)] != want {
		t.Fatalf("FormatRow() = %q, want prefix %q", got, want)
	}
}

func TestFormatHeader(t *testing.T) {
	got := FormatHeader(Status{Build: "dev", Ticks: 12345, Uptime: 12345 * time.Millisecond, Cycles: 790080, Dropped: 2})
	want := "ember dev  tick 12,345  up 12.345s  cyc 790,080  drop 2"
	if got != want {
		t.Fatalf("FormatHeader() = %q, want %q", got, want)
	}
}

func TestRenderDrawsAndPresents(t *testing.T) {
	fb := newMemFramebuffer(320, 240)
	m := New(fb)
	if m.Rows() != 240/lineHeight {
		t.Fatalf("Rows() = %d, want %d", m.Rows(), 240/lineHeight)
	}

	infos := []sched.ThreadInfo{
		{Name: "idle", State: sched.Ready, Priority: sched.PriorityMin},
		{Name: "main", State: sched.Running},
	}
	if err := m.Render(Status{Build: "dev"}, infos); err != nil {
		t.Fatalf("Render() err = %v", err)
	}
	if fb.presents != 1 {
		t.Fatalf("presents = %d, want 1", fb.presents)
	}

	bg := rgb565(colorBG)
	if got := fb.pixel(fb.w-1, fb.h-1); got != bg {
		t.Fatalf("corner pixel = %#04x, want background %#04x", got, bg)
	}
	drawn := 0
	for y := 0; y < lineHeight; y++ {
		for x := 0; x < fb.w; x++ {
			if fb.pixel(x, y) != bg {
				drawn++
			}
		}
	}
	if drawn == 0 {
		t.Fatalf("header line drew no pixels")
	}
}

func TestRenderLinesWraps(t *testing.T) {
	fb := newMemFramebuffer(60, 48)
	m := New(fb)
	red := color.RGBA{R: 255, A: 255}
	if err := m.RenderLines([]string{"0123456789abcdefghij"}, color.RGBA{A: 255}, red); err != nil {
		t.Fatalf("RenderLines() err = %v", err)
	}
	// The second text row holds the wrapped tail.
	bg := rgb565(red)
	drawn := false
	for y := lineHeight; y < 2*lineHeight && !drawn; y++ {
		for x := 0; x < fb.w; x++ {
			if fb.pixel(x, y) != bg {
				drawn = true
				break
			}
		}
	}
	if !drawn {
		t.Fatalf("wrapped line not drawn")
	}
}

func TestTakeRunes(t *testing.T) {
	prefix, rest := takeRunes("héllo", 2)
	if prefix != "hé" || rest != "llo" {
		t.Fatalf("takeRunes() = %q, %q; want hé, llo", prefix, rest)
	}
}

func TestSnapshot(t *testing.T) {
	cfg := kernel.DefaultConfig()
	cfg.CPU.MaxTicks = 20
	k, err := kernel.Boot(cfg)
	if err != nil {
		t.Fatalf("Boot() err = %v", err)
	}

	var got []sched.ThreadInfo
	done := make(chan error, 1)
	go func() {
		done <- k.Run(sched.SpawnParams{
			Name:  "main",
			Stack: k.CPU.AllocStack(1024),
			Entry: func(any) int {
				got = Snapshot(k.Sched)
				k.Sched.Halt("done")
				return 0
			},
		})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() err = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("kernel did not halt")
	}

	names := make([]string, 0, len(got))
	for _, info := range got {
		names = append(names, info.Name)
	}
	if diff := cmp.Diff([]string{"idle", "reaper", "main"}, names); diff != "" {
		t.Fatalf("Snapshot() names mismatch (-want +got):\n%s", diff)
	}
	if got[2].State != sched.Running {
		t.Fatalf("main state = %v, want running", got[2].State)
	}
}
