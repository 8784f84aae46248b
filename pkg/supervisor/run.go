package supervisor

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kralicky/voicebox/pkg/eventlog"
	"github.com/kralicky/voicebox/pkg/process"
	"github.com/kralicky/voicebox/pkg/tasks"
)

// slot holds the state of a single category. mu serializes start and stop;
// the current run is published atomically so status queries never wait
// behind a stop in progress.
type slot struct {
	def Category

	mu       sync.Mutex
	current  atomic.Pointer[run]
	latest   atomic.Pointer[run]
	lastTerm atomic.Pointer[tasks.Termination]
}

type run struct {
	handle   *process.Handle
	log      *eventlog.Log
	sinks    tasks.MultiSink
	artifact string
	lg       *slog.Logger

	stopRequested atomic.Bool
	pumpDone      chan struct{}

	emitMu sync.Mutex
	seq    uint64
}

// emit stamps ev with the run's identity and the next sequence number, and
// delivers it to every sink. The stdout and stderr readers call emit
// concurrently, so sequence numbers reflect the order events were delivered.
func (r *run) emit(ev tasks.Event) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	ev.Category = r.handle.Category()
	ev.RunID = r.handle.RunID()
	ev.Seq = r.seq
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	r.seq++
	if err := r.sinks.Emit(ev); err != nil {
		r.lg.Warn("failed to deliver event", "seq", ev.Seq, "error", err)
	}
}

func (r *run) emitLine(stream tasks.Stream, text string) {
	r.emit(tasks.Event{Stream: stream, Text: text})
}
