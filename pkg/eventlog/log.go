// Package eventlog records the events of a run so that any number of readers
// can replay them from the start and then follow new ones.
package eventlog

import (
	"context"
	"errors"
	"sync"

	"github.com/kralicky/voicebox/pkg/tasks"
)

// ErrClosed is returned when appending to a log that has been sealed.
var ErrClosed = errors.New("event log is closed")

// Log is an in-memory, append-only log of the events of a single run. It has
// a single writer and any number of readers, and all readers see the same
// events in the same order.
//
// The log seals itself when a terminal event (one with a Sentinel) is
// appended, so the sentinel is always the last event a reader receives. A
// writer that never appends a sentinel must call Close to release readers.
type Log struct {
	mu     sync.RWMutex
	events []tasks.Event
	closed bool
	// Closed and replaced on every change, waking readers that caught up.
	changed chan struct{}
	done    chan struct{}
}

var _ tasks.Sink = (*Log)(nil)

func New() *Log {
	return &Log{
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Emit appends an event to the log. Appending a terminal event closes the
// log.
func (l *Log) Emit(ev tasks.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.events = append(l.events, ev)
	if ev.IsTerminal() {
		l.sealLocked()
	}
	l.notifyLocked()
	return nil
}

// Close seals the log without appending a sentinel. It is a no-op if the log
// is already closed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.sealLocked()
		l.notifyLocked()
	}
	return nil
}

func (l *Log) sealLocked() {
	l.closed = true
	close(l.done)
}

func (l *Log) notifyLocked() {
	close(l.changed)
	l.changed = make(chan struct{})
}

// Done returns a channel that is closed once the log is sealed.
func (l *Log) Done() <-chan struct{} {
	return l.done
}

// Len returns the number of events in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Events returns a copy of every event currently in the log.
func (l *Log) Events() []tasks.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]tasks.Event(nil), l.events...)
}

// since returns the events from offset onward, and the channel that will be
// closed on the next change. Appends never modify events already in the
// log, so the returned slice is safe to read without holding the lock.
func (l *Log) since(offset int) (batch []tasks.Event, changed <-chan struct{}, closed bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.events)
	return l.events[offset:n:n], l.changed, l.closed
}

// Stream returns a channel that receives every event in the log from the
// beginning, then follows new events until the log is closed or ctx is
// canceled. A reader that falls behind never blocks the writer or other
// readers.
func (l *Log) Stream(ctx context.Context) <-chan tasks.Event {
	rc := make(chan tasks.Event, 64)
	go func() {
		defer close(rc)
		offset := 0
		for {
			batch, changed, closed := l.since(offset)
			for _, ev := range batch {
				select {
				case rc <- ev:
				case <-ctx.Done():
					return
				}
			}
			offset += len(batch)
			switch {
			case len(batch) > 0:
				continue
			case closed:
				return
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return rc
}
