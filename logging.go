package nadb

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// Event is a single structured log record emitted by a component. Replacing
// implicit module-level logging globals (the teacher wires a package-level
// logger.ILogger per package) with an explicit sink passed into every
// constructor, per the "Module-level logging state" design note.
type Event struct {
	Level      Level
	Component  string // e.g. "store", "buffer", "replication/primary"
	Operation  string // e.g. "set", "flush", "sync_request"
	DurationMs float64
	Success    bool
	Err        error
	Attrs      map[string]interface{}
}

// Level mirrors the severities the teacher's dKVLogger supports.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarning:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// EventSink is implemented by anything that wants to receive structured
// events from the engine. Components only depend on this interface, never
// on a concrete logger, so callers can plug in their own formatting/
// shipping without touching engine code.
type EventSink interface {
	Record(Event)
	Debugf(component, format string, args ...interface{})
	Infof(component, format string, args ...interface{})
	Warningf(component, format string, args ...interface{})
	Errorf(component, format string, args ...interface{})
}

// stdEventSink is the default EventSink, a line-oriented writer in the
// style of the teacher's dKVLogger (which wraps a *log.Logger with a
// "LEVEL | component | message" format).
type stdEventSink struct {
	level  Level
	logger *log.Logger
}

// NewStdEventSink creates an EventSink that writes formatted lines to w.
// level is the minimum level that will be written.
func NewStdEventSink(w io.Writer, level Level) EventSink {
	if w == nil {
		w = os.Stdout
	}
	return &stdEventSink{
		level:  level,
		logger: log.New(w, "", log.Ldate|log.Ltime),
	}
}

func (s *stdEventSink) Record(e Event) {
	if e.Level < s.level {
		return
	}
	msg := fmt.Sprintf("op=%s success=%t duration_ms=%.2f", e.Operation, e.Success, e.DurationMs)
	if e.Err != nil {
		msg += fmt.Sprintf(" err=%q", e.Err.Error())
	}
	for k, v := range e.Attrs {
		msg += fmt.Sprintf(" %s=%v", k, v)
	}
	s.logger.Printf("%-5s | %-22s | %s", e.Level, e.Component, msg)
}

func (s *stdEventSink) log(level Level, component, format string, args ...interface{}) {
	if level < s.level {
		return
	}
	s.logger.Printf("%-5s | %-22s | %s", level, component, fmt.Sprintf(format, args...))
}

func (s *stdEventSink) Debugf(component, format string, args ...interface{}) {
	s.log(LevelDebug, component, format, args...)
}

func (s *stdEventSink) Infof(component, format string, args ...interface{}) {
	s.log(LevelInfo, component, format, args...)
}

func (s *stdEventSink) Warningf(component, format string, args ...interface{}) {
	s.log(LevelWarning, component, format, args...)
}

func (s *stdEventSink) Errorf(component, format string, args ...interface{}) {
	s.log(LevelError, component, format, args...)
}

// NoopEventSink discards everything. Useful as a default for constructors
// that don't want to force callers to supply a sink, and in tests.
func NoopEventSink() EventSink {
	return noopSink{}
}

type noopSink struct{}

func (noopSink) Record(Event)                                          {}
func (noopSink) Debugf(component, format string, args ...interface{})   {}
func (noopSink) Infof(component, format string, args ...interface{})    {}
func (noopSink) Warningf(component, format string, args ...interface{}) {}
func (noopSink) Errorf(component, format string, args ...interface{})   {}

// Timed is a helper for components to emit a single Record event bracketing
// an operation: `defer Timed(sink, "store", "set")(&err)`, where err is the
// caller's named error result (pass nil to record success unconditionally).
func Timed(sink EventSink, component, operation string) func(err *error) {
	start := time.Now()
	return func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		sink.Record(Event{
			Level:      levelFor(err),
			Component:  component,
			Operation:  operation,
			DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
			Success:    err == nil,
			Err:        err,
		})
	}
}

func levelFor(err error) Level {
	if err == nil {
		return LevelDebug
	}
	return LevelWarning
}
