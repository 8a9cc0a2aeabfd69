// Package logging builds the zerolog loggers used across ember.
package logging

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ember/hal"
)

// New creates a logger writing to stderr.
//
// level: debug, info, warn, error
// format: "text" (console) or "json"
func New(level zerolog.Level, format string) zerolog.Logger {
	return NewWithWriter(level, format, os.Stderr)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(level zerolog.Level, format string, w io.Writer) zerolog.Logger {
	if strings.ToLower(format) != "json" {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// ParseLevel converts a string log level. Unrecognized values are info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// LineWriter adapts a hal.Logger line sink to io.Writer. Partial lines are
// held until their newline arrives.
type LineWriter struct {
	mu   sync.Mutex
	sink hal.Logger
	buf  []byte
}

// NewLineWriter returns a writer that forwards complete lines to sink.
func NewLineWriter(sink hal.Logger) *LineWriter {
	return &LineWriter{sink: sink}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if w.sink != nil {
			w.sink.WriteLineBytes(w.buf[:i])
		}
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) == 0 {
		w.buf = w.buf[:0:0]
	}
	return len(p), nil
}
