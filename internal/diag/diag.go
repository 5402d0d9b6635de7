// Package diag carries non-fatal interpreter signals. Diagnostics are not
// errors: a build that emits them still completes.
package diag

import (
	"sync"

	"go.uber.org/zap"
)

type Kind string

const (
	KindPaletteFuzzy      Kind = "PALETTE_FUZZY"
	KindPaletteFallback   Kind = "PALETTE_FALLBACK"
	KindPaletteKeyMissing Kind = "PALETTE_KEY_MISSING"
	KindActionUnknownType Kind = "ACTION_UNKNOWN_TYPE"
	KindActionMalformed   Kind = "ACTION_MALFORMED"
	KindPointMalformed    Kind = "POINT_MALFORMED"
	KindLayerEmpty        Kind = "LAYER_EMPTY"
)

// Event is one diagnostic. Layer and Action are zero-based positions in the
// script; they are -1 when the event is not tied to an action.
type Event struct {
	Kind    Kind   `json:"kind"`
	Layer   int    `json:"layer"`
	Action  int    `json:"action"`
	Key     string `json:"key,omitempty"`
	Raw     string `json:"raw,omitempty"`
	Match   string `json:"match,omitempty"`
	Score   int    `json:"score,omitempty"`
	Message string `json:"message,omitempty"`
}

type Sink interface {
	Emit(Event)
}

// Func adapts a function to Sink.
type Func func(Event)

func (f Func) Emit(e Event) { f(e) }

type discard struct{}

func (discard) Emit(Event) {}

// Discard drops every event.
var Discard Sink = discard{}

// Log is an append-only, concurrency-safe event log.
type Log struct {
	mu     sync.Mutex
	events []Event
}

func (l *Log) Emit(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

// Events returns a copy of everything emitted so far.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *Log) Count(k Kind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

type tee []Sink

func (t tee) Emit(e Event) {
	for _, s := range t {
		s.Emit(e)
	}
}

// Tee fans an event out to every non-nil sink, in order.
func Tee(sinks ...Sink) Sink {
	out := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Zap logs each event at WARN.
func Zap(logger *zap.Logger) Sink {
	if logger == nil {
		return Discard
	}
	return Func(func(e Event) {
		fields := []zap.Field{
			zap.String("kind", string(e.Kind)),
			zap.Int("layer", e.Layer),
			zap.Int("action", e.Action),
		}
		if e.Key != "" {
			fields = append(fields, zap.String("key", e.Key))
		}
		if e.Raw != "" {
			fields = append(fields, zap.String("raw", e.Raw))
		}
		if e.Match != "" {
			fields = append(fields, zap.String("match", e.Match), zap.Int("score", e.Score))
		}
		msg := e.Message
		if msg == "" {
			msg = "build diagnostic"
		}
		logger.Warn(msg, fields...)
	})
}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}
