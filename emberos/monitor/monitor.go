// Package monitor renders the scheduler's thread table into a framebuffer.
package monitor

import (
	"fmt"
	"image/color"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"

	"ember/emberos/sched"
	"ember/hal"
)

var (
	colorBG     = color.RGBA{R: 16, G: 16, B: 24, A: 255}
	colorFG     = color.RGBA{R: 220, G: 220, B: 220, A: 255}
	colorHeader = color.RGBA{R: 255, G: 200, B: 64, A: 255}
	colorRun    = color.RGBA{R: 96, G: 255, B: 96, A: 255}
	colorDim    = color.RGBA{R: 128, G: 128, B: 128, A: 255}
	colorHalt   = color.RGBA{R: 255, G: 80, B: 80, A: 255}
)

// Status is the header line.
type Status struct {
	Build   string
	Ticks   uint64
	Uptime  time.Duration
	Cycles  uint64
	Dropped uint64
	// Halted is the halt reason once the machine stopped.
	Halted string
}

// Snapshot collects every live thread in handle order. It takes the
// scheduler lock once per thread.
func Snapshot(s *sched.Scheduler) []sched.ThreadInfo {
	var out []sched.ThreadInfo
	after := sched.InvalidThread
	for {
		info, err := s.NextThreadInfo(after)
		if err != nil {
			return out
		}
		out = append(out, info)
		after = info.ID
	}
}

// FormatHeader returns the status line.
func FormatHeader(st Status) string {
	return fmt.Sprintf("ember %s  tick %s  up %v  cyc %s  drop %d",
		st.Build, humanize.Comma(int64(st.Ticks)), st.Uptime, humanize.Comma(int64(st.Cycles)), st.Dropped)
}

// ColumnHeader matches FormatRow.
const ColumnHeader = "ID     NAME       PRI STATE    CPU      STACK"

// FormatRow returns one table row.
func FormatRow(info sched.ThreadInfo) string {
	flags := ""
	if info.Joinable {
		flags += "j"
	}
	if info.Privileged {
		flags += "p"
	}
	return fmt.Sprintf("%-6s %-10s %3d %-8s %-8v %s/%s %s",
		fmt.Sprintf("%#x", uint32(info.ID)),
		truncate(info.Name, 10),
		info.Priority,
		info.State,
		info.RunTime.Round(time.Microsecond),
		humanize.IBytes(uint64(info.StackUsed)),
		humanize.IBytes(uint64(info.StackSize)),
		flags,
	)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Monitor draws the thread table. It is not safe for concurrent use.
type Monitor struct {
	d       *fbDisplay
	font    tinyfont.Fonter
	line    int16
	ascent  int16
	charW   int16
	maxRows int
}

// Line metrics for proggy TinySZ 8pt.
const (
	lineHeight = 12
	lineAscent = 9
)

// New returns a monitor drawing into fb with the proggy 8pt font.
func New(fb hal.Framebuffer) *Monitor {
	font := &proggy.TinySZ8pt7b
	_, w := tinyfont.LineWidth(font, "0")
	m := &Monitor{
		d:      &fbDisplay{fb: fb},
		font:   font,
		line:   lineHeight,
		ascent: lineAscent,
		charW:  int16(w),
	}
	if m.charW <= 0 {
		m.charW = 6
	}
	if fb != nil {
		m.maxRows = fb.Height() / int(m.line)
	}
	return m
}

// Rows is the number of text lines that fit.
func (m *Monitor) Rows() int { return m.maxRows }

// Columns is the number of characters that fit on a line.
func (m *Monitor) Columns() int {
	w, _ := m.d.Size()
	return int(w / m.charW)
}

// Render draws the status line, the column header and one row per thread,
// then presents the framebuffer. Rows that do not fit are dropped.
func (m *Monitor) Render(st Status, infos []sched.ThreadInfo) error {
	w, h := m.d.Size()
	if w == 0 || h == 0 {
		return hal.ErrNotImplemented
	}
	m.d.FillRectangle(0, 0, w, h, colorBG)

	row := 0
	m.text(row, FormatHeader(st), colorHeader)
	row++
	m.text(row, ColumnHeader, colorDim)
	row++

	for _, info := range infos {
		if row >= m.maxRows-1 {
			break
		}
		c := colorFG
		switch info.State {
		case sched.Running:
			c = colorRun
		case sched.Zombie, sched.Stopped:
			c = colorDim
		}
		m.text(row, FormatRow(info), c)
		row++
	}
	if st.Halted != "" && m.maxRows > 0 {
		m.text(m.maxRows-1, "halted: "+st.Halted, colorHalt)
	}
	return m.d.Display()
}

// RenderLines fills the screen with fg-on-bg text, wrapping long lines. Used
// for the panic screen.
func (m *Monitor) RenderLines(lines []string, fg, bg color.RGBA) error {
	w, h := m.d.Size()
	if w == 0 || h == 0 {
		return hal.ErrNotImplemented
	}
	m.d.FillRectangle(0, 0, w, h, bg)

	cols := m.Columns()
	if cols <= 0 {
		cols = 1
	}
	row := 0
	for _, line := range lines {
		for len(line) > 0 && row < m.maxRows {
			chunk, rest := takeRunes(line, cols)
			m.text(row, chunk, fg)
			row++
			line = strings.TrimLeft(rest, " ")
		}
	}
	return m.d.Display()
}

func (m *Monitor) text(row int, s string, c color.RGBA) {
	y := int16(row)*m.line + m.ascent
	tinyfont.WriteLine(m.d, m.font, 0, y, s, c)
}

func takeRunes(s string, n int) (prefix, rest string) {
	if n <= 0 || s == "" {
		return "", s
	}
	i, count := 0, 0
	for i < len(s) && count < n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		count++
	}
	return s[:i], s[i:]
}
