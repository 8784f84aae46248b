package tasks

import (
	"errors"
	"fmt"
	"time"
)

type Stream int

const (
	StreamOutput Stream = iota
	StreamError
	// StreamNotice carries messages generated by the server itself, such as
	// artifact references or drain failures.
	StreamNotice
	// StreamTerminal is only used for the final sentinel event of a run.
	StreamTerminal
)

var streamNames = [...]string{
	StreamOutput:   "output",
	StreamError:    "error",
	StreamNotice:   "notice",
	StreamTerminal: "terminal",
}

func (s Stream) String() string {
	if int(s) < len(streamNames) {
		return streamNames[s]
	}
	return fmt.Sprintf("Stream(%d)", int(s))
}

func (s Stream) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stream) UnmarshalText(text []byte) error {
	for i, name := range streamNames {
		if name == string(text) {
			*s = Stream(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stream %q", text)
}

type Sentinel int

const (
	SentinelNone Sentinel = iota
	SentinelCompleted
	SentinelStopped
)

var sentinelNames = [...]string{
	SentinelNone:      "",
	SentinelCompleted: "completed",
	SentinelStopped:   "stopped",
}

func (s Sentinel) String() string {
	if int(s) < len(sentinelNames) {
		return sentinelNames[s]
	}
	return fmt.Sprintf("Sentinel(%d)", int(s))
}

func (s Sentinel) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Sentinel) UnmarshalText(text []byte) error {
	for i, name := range sentinelNames {
		if name == string(text) {
			*s = Sentinel(i)
			return nil
		}
	}
	return fmt.Errorf("unknown sentinel %q", text)
}

// Event is a single item in a run's log. The last event of every run is a
// StreamTerminal event with a Sentinel other than SentinelNone.
type Event struct {
	Category Category  `json:"category"`
	RunID    string    `json:"run_id"`
	Seq      uint64    `json:"seq"`
	Stream   Stream    `json:"stream"`
	Text     string    `json:"text,omitempty"`
	Artifact string    `json:"artifact,omitempty"`
	Sentinel Sentinel  `json:"sentinel,omitempty"`
	ExitCode int       `json:"exit_code,omitempty"`
	Time     time.Time `json:"time"`
}

func (e Event) IsTerminal() bool {
	return e.Sentinel != SentinelNone
}

// Sink receives the events of a run. Sinks are called from a single pump
// goroutine per run, but one sink may be shared by runs of several categories
// and must be safe for concurrent use in that case.
type Sink interface {
	Emit(Event) error
}

type SinkFunc func(Event) error

func (f SinkFunc) Emit(ev Event) error {
	return f(ev)
}

// MultiSink emits each event to all of its sinks, even if some of them fail.
type MultiSink []Sink

func (m MultiSink) Emit(ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
