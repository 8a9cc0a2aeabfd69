//go:build tinygo && baremetal

package hal

import (
	"machine"
	"time"
)

// tickPeriod matches the machine's default quantum.
const tickPeriod = time.Millisecond

// tickSource paces the machine's timer interrupt. A tick the machine has not
// taken yet is dropped, so a slow run falls behind wall time instead of
// bursting.
type tickSource struct {
	ch  chan uint64
	seq uint64
}

func startTickSource(period time.Duration) *tickSource {
	t := &tickSource{ch: make(chan uint64, 1)}
	go t.run(period)
	return t
}

func (t *tickSource) run(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for range ticker.C {
		t.seq++
		select {
		case t.ch <- t.seq:
		default:
		}
	}
}

func (t *tickSource) Ticks() <-chan uint64 { return t.ch }

var crlf = []byte{'\r', '\n'}

// uartLogger writes one CRLF-terminated line per log record.
type uartLogger struct {
	uart *machine.UART
}

func (l *uartLogger) WriteLineString(s string) {
	for i := 0; i < len(s); i++ {
		l.uart.WriteByte(s[i])
	}
	l.uart.Write(crlf)
}

func (l *uartLogger) WriteLineBytes(b []byte) {
	l.uart.Write(b)
	l.uart.Write(crlf)
}
