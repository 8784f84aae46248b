package supervisor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kralicky/voicebox/pkg/lines"
	"github.com/kralicky/voicebox/pkg/tasks"
)

const artifactPublishTimeout = 30 * time.Second

// pump reads the output of a run until its process exits and the pipes are
// drained, then emits the run's terminal event and releases the slot.
func (s *Supervisor) pump(sl *slot, r *run) {
	defer s.pumps.Done()
	defer close(r.pumpDone)

	h := r.handle
	stdout := lines.NewReader(h.Stdout())
	stderr := lines.NewReader(h.Stderr())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for line := range stdout.All() {
			r.emitLine(tasks.StreamOutput, line)
		}
	}()
	go func() {
		defer wg.Done()
		for line := range stderr.All() {
			stream, keep := sl.def.Classifier.Classify(tasks.StreamError, line)
			if !keep {
				r.lg.Debug("suppressed diagnostic output", "line", line)
				continue
			}
			r.emitLine(stream, line)
		}
	}()

	<-h.Exited()

	// The pipes normally reach EOF as soon as the process exits, but a child
	// process that outlived it may still hold them open.
	deadline := time.Now().Add(s.DrainTimeout)
	for _, f := range []*os.File{h.Stdout(), h.Stderr()} {
		if err := f.SetReadDeadline(deadline); err != nil {
			r.lg.Debug("failed to set read deadline", "error", err)
		}
	}
	wg.Wait()

	if stdout.DeadlineExceeded() || stderr.DeadlineExceeded() {
		r.lg.Warn("output drain timed out; a child process may still hold the output pipes", "timeout", s.DrainTimeout)
		r.emitLine(tasks.StreamNotice, fmt.Sprintf("output drain timed out after %s", s.DrainTimeout))
	}
	for _, rd := range []*lines.Reader{stdout, stderr} {
		if err := rd.Err(); err != nil && !rd.DeadlineExceeded() {
			r.lg.Warn("error reading process output", "error", err)
		}
	}
	if err := h.CloseOutput(); err != nil {
		r.lg.Debug("error closing process pipes", "error", err)
	}

	code, signal := h.ExitStatus()
	sentinel := tasks.SentinelCompleted
	text := sl.def.CompletedText
	if r.stopRequested.Load() {
		sentinel = tasks.SentinelStopped
		text = sl.def.StoppedText
	}

	if sentinel == tasks.SentinelCompleted {
		switch {
		case signal != "":
			r.emitLine(tasks.StreamError, fmt.Sprintf("process terminated by signal %s", signal))
		case code != 0:
			r.emitLine(tasks.StreamError, fmt.Sprintf("process exited with code %d", code))
		case r.artifact != "" && s.Artifacts != nil:
			s.publishArtifact(r)
		}
	}

	term := &tasks.Termination{
		RunID:    h.RunID(),
		ExitCode: code,
		Signal:   signal,
		Sentinel: sentinel,
		Ended:    time.Now(),
	}
	sl.lastTerm.Store(term)

	r.emit(tasks.Event{
		Stream:   tasks.StreamTerminal,
		Text:     text,
		Sentinel: sentinel,
		ExitCode: code,
		Time:     term.Ended,
	})
	// the log seals itself on the sentinel, but a failing sink must not
	// leave readers waiting forever
	r.log.Close()

	sl.current.CompareAndSwap(r, nil)
	r.lg.Debug("run finished", "sentinel", sentinel, "exitCode", code, "events", r.log.Len())
}

func (s *Supervisor) publishArtifact(r *run) {
	ctx, cancel := context.WithTimeout(context.Background(), artifactPublishTimeout)
	defer cancel()
	name, err := s.Artifacts.Publish(ctx, r.artifact)
	if err != nil {
		r.lg.Error("failed to publish artifact", "path", r.artifact, "error", err)
		r.emitLine(tasks.StreamError, fmt.Sprintf("failed to publish output: %v", err))
		return
	}
	r.lg.Info("published artifact", "name", name)
	r.emit(tasks.Event{
		Stream:   tasks.StreamNotice,
		Text:     name,
		Artifact: name,
	})
}
