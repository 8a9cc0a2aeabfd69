//go:build !tinygo

package kernel

import (
	"bytes"
	"runtime/debug"
)

// captureStack returns the current goroutine's stack, starting at the caller
// of triggerPanic.
func captureStack() []byte {
	st := debug.Stack()
	i := bytes.LastIndex(st, []byte("kernel.triggerPanic("))
	nl := bytes.IndexByte(st, '\n')
	if i < 0 || nl < 0 {
		return st
	}
	rest := st[i:]
	// Function line and file:line.
	for n := 0; n < 2; n++ {
		j := bytes.IndexByte(rest, '\n')
		if j < 0 {
			return st
		}
		rest = rest[j+1:]
	}
	out := make([]byte, 0, nl+1+len(rest))
	out = append(out, st[:nl+1]...)
	return append(out, rest...)
}
