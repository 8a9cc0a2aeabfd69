package app

import (
	"fmt"
	"image/color"
	"strings"

	"ember/emberos/kernel"
)

var (
	panicFG = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	panicBG = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

func installPanicHandler(s *system) {
	kernel.SetPanicHandler(func(info kernel.PanicInfo) {
		lines := panicLines(info)
		if l := s.h.Logger(); l != nil {
			for _, line := range lines {
				l.WriteLineString(line)
			}
		}

		if s.mon == nil {
			return
		}
		s.drawMu.Lock()
		defer s.drawMu.Unlock()
		_ = s.mon.RenderLines(lines, panicFG, panicBG)
	})
}

func panicLines(info kernel.PanicInfo) []string {
	lines := []string{
		"ember panic:",
		fmt.Sprintf("thread: %d (%s)", info.Thread, info.Name),
		fmt.Sprintf("reason: %s", info.Reason),
	}
	if info.Value != nil {
		lines = append(lines, fmt.Sprintf("panic: %v", info.Value))
	}
	if len(info.Stack) == 0 {
		return append(lines, "stack: unavailable")
	}
	lines = append(lines, "stack:")
	for _, line := range strings.Split(string(info.Stack), "\n") {
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
