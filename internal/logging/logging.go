// Package logging provides the injected three-stream logger shared by the
// solver and the bundle adjuster.
//
// Streams:
//   - ops: actionable warnings and errors (invalid configuration, failures)
//   - diag: day-to-day diagnostics (solver reports, build statistics)
//   - trace: high-frequency telemetry (per-iteration and per-observation)
package logging

import (
	"io"
	"log"
)

// Logger logs at one of three severities.
type Logger interface {
	Opsf(format string, args ...interface{})
	Diagf(format string, args ...interface{})
	Tracef(format string, args ...interface{})
}

// Writers holds the io.Writers for each logging stream.
type Writers struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// Streams is a Logger writing each severity to its own *log.Logger.
// A nil stream discards its messages.
type Streams struct {
	ops   *log.Logger
	diag  *log.Logger
	trace *log.Logger
}

// New builds a Streams logger. Pass nil for any writer to disable that stream.
func New(prefix string, w Writers) *Streams {
	return &Streams{
		ops:   newLogger(prefix, w.Ops),
		diag:  newLogger(prefix, w.Diag),
		trace: newLogger(prefix, w.Trace),
	}
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func (s *Streams) Opsf(format string, args ...interface{}) {
	if s != nil && s.ops != nil {
		s.ops.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func (s *Streams) Diagf(format string, args ...interface{}) {
	if s != nil && s.diag != nil {
		s.diag.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func (s *Streams) Tracef(format string, args ...interface{}) {
	if s != nil && s.trace != nil {
		s.trace.Printf(format, args...)
	}
}

type nopLogger struct{}

func (nopLogger) Opsf(string, ...interface{})   {}
func (nopLogger) Diagf(string, ...interface{})  {}
func (nopLogger) Tracef(string, ...interface{}) {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// DO NOT add Debugf. Each callsite picks ops, diag or trace.
