package log

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEvent is a single structured log entry under construction. All methods
// are safe to call on a nil event, which is what disabled levels return.
type LogEvent struct {
	logger Logger
	level  Level
	fields logrus.Fields
	msg    string
}

func newEvent(l Logger) *LogEvent {
	return &LogEvent{
		logger: l,
		level:  DebugLevel,
		fields: make(logrus.Fields, 8),
	}
}

// Reset clears the event for reuse from the pool.
func (e *LogEvent) Reset() {
	e.level = DebugLevel
	e.msg = ""
	if len(e.fields) > 32 {
		e.fields = make(logrus.Fields, 8)
		return
	}
	for k := range e.fields {
		delete(e.fields, k)
	}
}

// Level returns the severity of the event.
func (e *LogEvent) Level() Level {
	return e.level
}

// Fields exposes the accumulated key-value pairs.
func (e *LogEvent) Fields() logrus.Fields {
	return e.fields
}

// Message returns the message text once Msg has been called.
func (e *LogEvent) Message() string {
	return e.msg
}

func (e *LogEvent) set(k string, v any) *LogEvent {
	if e == nil {
		return nil
	}
	e.fields[k] = v
	return e
}

func (e *LogEvent) Str(k string, v string) *LogEvent { return e.set(k, v) }

func (e *LogEvent) Strs(k string, v []string) *LogEvent { return e.set(k, v) }

func (e *LogEvent) Int(k string, v int) *LogEvent { return e.set(k, v) }

func (e *LogEvent) Int32(k string, v int32) *LogEvent { return e.set(k, v) }

func (e *LogEvent) Int64(k string, v int64) *LogEvent { return e.set(k, v) }

func (e *LogEvent) Uint8(k string, v uint8) *LogEvent { return e.set(k, v) }

func (e *LogEvent) Uint16(k string, v uint16) *LogEvent { return e.set(k, v) }

func (e *LogEvent) Uint32(k string, v uint32) *LogEvent { return e.set(k, v) }

func (e *LogEvent) Uint64(k string, v uint64) *LogEvent { return e.set(k, v) }

func (e *LogEvent) Float64(k string, v float64) *LogEvent { return e.set(k, v) }

func (e *LogEvent) Bool(k string, v bool) *LogEvent { return e.set(k, v) }

// Dur records a duration in milliseconds.
func (e *LogEvent) Dur(k string, v time.Duration) *LogEvent {
	return e.set(k, float64(v)/float64(time.Millisecond))
}

// Time records a timestamp in RFC 3339 format with milliseconds.
func (e *LogEvent) Time(k string, v time.Time) *LogEvent {
	return e.set(k, v.Format("2006-01-02T15:04:05.000Z07:00"))
}

// Stringer records v.String(), or null for a nil value.
func (e *LogEvent) Stringer(k string, v fmt.Stringer) *LogEvent {
	if v == nil {
		return e.set(k, nil)
	}
	return e.set(k, v.String())
}

// Any records an arbitrary value; it is rendered by the JSON formatter.
func (e *LogEvent) Any(k string, v any) *LogEvent { return e.set(k, v) }

// Err records err under the "error" key. A nil error is skipped.
func (e *LogEvent) Err(err error) *LogEvent {
	if e == nil || err == nil {
		return e
	}
	e.fields[logrus.ErrorKey] = err.Error()
	return e
}

// Msg finishes the event and hands it to the logger.
func (e *LogEvent) Msg(v string) {
	if e == nil {
		return
	}
	e.msg = v
	e.logger.OnEventEnd(e)
}

// Msgf finishes the event with a formatted message.
func (e *LogEvent) Msgf(format string, args ...any) {
	if e == nil {
		return
	}
	e.Msg(fmt.Sprintf(format, args...))
}

// End finishes the event without a message.
func (e *LogEvent) End() {
	e.Msg("")
}
