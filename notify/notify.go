// Package notify carries user-facing transient notifications. Every flow
// boundary converts its errors into one of these instead of letting them
// propagate to a global handler.
package notify

import "log"

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Sink interface {
	Notify(level Level, message string)
}

type SinkFunc func(level Level, message string)

func (f SinkFunc) Notify(level Level, message string) {
	if f == nil {
		return
	}
	f(level, message)
}

type NoopSink struct{}

func (NoopSink) Notify(Level, string) {}

// LogSink writes notifications to the process log. Useful for headless runs
// where no UI is attached.
type LogSink struct{}

func (LogSink) Notify(level Level, message string) {
	log.Printf("[%s] %s", level, message)
}

type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		filtered = append(filtered, s)
	}
	if len(filtered) == 0 {
		return NoopSink{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &MultiSink{sinks: filtered}
}

func (m *MultiSink) Notify(level Level, message string) {
	if m == nil {
		return
	}
	for _, sink := range m.sinks {
		sink.Notify(level, message)
	}
}
