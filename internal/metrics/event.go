package metrics

import (
	"time"
)

// Kind distinguishes counters from latency samples.
type Kind uint8

const (
	Counter Kind = iota
	Histogram
)

func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Histogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// Event is a single immutable measurement. Counter values are increments;
// histogram values are durations in milliseconds.
type Event struct {
	Kind      Kind
	Name      string
	Value     float64
	Timestamp time.Time
}

// Count builds a counter increment of one.
func Count(name string) Event {
	return Event{Kind: Counter, Name: name, Value: 1, Timestamp: time.Now()}
}

// Duration builds a histogram sample from d.
func Duration(name string, d time.Duration) Event {
	return Event{
		Kind:      Histogram,
		Name:      name,
		Value:     float64(d) / float64(time.Millisecond),
		Timestamp: time.Now(),
	}
}

// Sink consumes events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type tee []Sink

func (t tee) Emit(e Event) {
	for _, s := range t {
		s.Emit(e)
	}
}

// Tee returns a Sink that forwards each event to every non-nil sink in order.
func Tee(sinks ...Sink) Sink {
	out := make(tee, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}
